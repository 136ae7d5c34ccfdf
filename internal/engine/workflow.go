package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buildledger/internal/domain"
	"buildledger/internal/events"
	"buildledger/internal/repo"
)

type workflowOp string

const (
	opSubmit         workflowOp = "submit"
	opRequestChanges workflowOp = "request_changes"
	opVerify         workflowOp = "verify"
	opApprove        workflowOp = "approve"
)

// role is the single role allowed to perform op.
func (op workflowOp) role() domain.Role {
	switch op {
	case opSubmit:
		return domain.RoleContractor
	case opRequestChanges, opVerify:
		return domain.RoleArchitect
	case opApprove:
		return domain.RoleInvestor
	}
	return domain.RoleNone
}

func (op workflowOp) eventKind() string {
	switch op {
	case opRequestChanges:
		return domain.EventMilestoneChangesRequested
	case opVerify:
		return domain.EventMilestoneVerified
	case opApprove:
		return domain.EventMilestoneApproved
	}
	return domain.EventMilestoneSubmitted
}

// milestoneTransition returns the status op moves a milestone to from the
// given status. APPROVED has no outgoing edge.
func milestoneTransition(op workflowOp, id int64, from domain.MilestoneStatus) (domain.MilestoneStatus, error) {
	switch op {
	case opSubmit:
		if from == domain.StatusNotCreated || from == domain.StatusRevisionRequired {
			return domain.StatusSubmitted, nil
		}
	case opRequestChanges:
		if from == domain.StatusSubmitted {
			return domain.StatusRevisionRequired, nil
		}
	case opVerify:
		if from == domain.StatusSubmitted {
			return domain.StatusVerified, nil
		}
	case opApprove:
		if from == domain.StatusVerified {
			return domain.StatusApproved, nil
		}
	}
	return "", &domain.TransitionError{MilestoneID: id, From: from, Op: string(op)}
}

func emptyMilestone(id int64) domain.Milestone {
	return domain.Milestone{ID: id, Status: domain.StatusNotCreated, Hashes: []domain.Hash{}}
}

func (e Engine) loadMilestone(ctx context.Context, tx *sql.Tx, id int64) (domain.Milestone, error) {
	m, err := e.Repo.GetMilestone(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return emptyMilestone(id), nil
	}
	return m, err
}

// SubmitMilestone records a first submission or a resubmission after changes
// were requested. The evidence list replaces any earlier one.
func (e Engine) SubmitMilestone(ctx context.Context, actorID string, id int64, description string, hashes []domain.Hash) (domain.Milestone, error) {
	m, err := e.submitMilestone(ctx, actorID, id, description, hashes)
	e.logResult("milestone.submit", actorID, err, "milestone_id", id, "hashes", len(hashes))
	return m, err
}

func (e Engine) submitMilestone(ctx context.Context, actorID string, id int64, description string, hashes []domain.Hash) (domain.Milestone, error) {
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	role, err := e.Auth.Authorize(ctx, tx, actorID, opSubmit.role())
	if err != nil {
		return domain.Milestone{}, err
	}
	if len(hashes) == 0 {
		return domain.Milestone{}, fmt.Errorf("submit milestone %d: %w", id, domain.ErrEmptyEvidence)
	}
	m, err := e.loadMilestone(ctx, tx, id)
	if err != nil {
		return domain.Milestone{}, err
	}
	next, err := milestoneTransition(opSubmit, id, m.Status)
	if err != nil {
		return domain.Milestone{}, err
	}
	resubmission := m.Status == domain.StatusRevisionRequired

	stamp := ts.Format(events.TimeFormat)
	m.Exists = true
	m.Status = next
	m.Description = description
	m.Hashes = append([]domain.Hash(nil), hashes...)
	m.SubmitterID = actorID
	m.SubmittedAt = &stamp
	m.Submissions++
	m.UpdatedAt = stamp
	if err := e.Repo.SaveMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("save milestone %d: %w", id, err)
	}

	mid := id
	if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:        domain.EventMilestoneSubmitted,
		ActorID:     actorID,
		Role:        role,
		MilestoneID: &mid,
		Payload: events.EventPayload{
			"description":  description,
			"hashes":       domain.HashStrings(m.Hashes),
			"submission":   m.Submissions,
			"resubmission": resubmission,
		},
	}); err != nil {
		return domain.Milestone{}, err
	}
	if resubmission {
		if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
			Kind:        domain.EventMilestoneResubmitted,
			ActorID:     actorID,
			Role:        role,
			MilestoneID: &mid,
			Payload:     events.EventPayload{"submission": m.Submissions},
		}); err != nil {
			return domain.Milestone{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// RequestChanges sends a submitted milestone back to the contractor.
func (e Engine) RequestChanges(ctx context.Context, actorID string, id int64) (domain.Milestone, error) {
	return e.advance(ctx, actorID, id, opRequestChanges)
}

// VerifyMilestone accepts a submitted milestone for investor approval.
func (e Engine) VerifyMilestone(ctx context.Context, actorID string, id int64) (domain.Milestone, error) {
	return e.advance(ctx, actorID, id, opVerify)
}

// ApproveMilestone closes a verified milestone. APPROVED is terminal.
func (e Engine) ApproveMilestone(ctx context.Context, actorID string, id int64) (domain.Milestone, error) {
	return e.advance(ctx, actorID, id, opApprove)
}

func (e Engine) advance(ctx context.Context, actorID string, id int64, op workflowOp) (domain.Milestone, error) {
	m, err := e.applyReview(ctx, actorID, id, op)
	e.logResult("milestone."+string(op), actorID, err, "milestone_id", id)
	return m, err
}

func (e Engine) applyReview(ctx context.Context, actorID string, id int64, op workflowOp) (domain.Milestone, error) {
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	role, err := e.Auth.Authorize(ctx, tx, actorID, op.role())
	if err != nil {
		return domain.Milestone{}, err
	}
	m, err := e.loadMilestone(ctx, tx, id)
	if err != nil {
		return domain.Milestone{}, err
	}
	from := m.Status
	next, err := milestoneTransition(op, id, from)
	if err != nil {
		return domain.Milestone{}, err
	}
	applyReviewer(&m, op, actorID, ts)
	m.Status = next
	if err := e.Repo.SaveMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("save milestone %d: %w", id, err)
	}
	mid := id
	if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:        op.eventKind(),
		ActorID:     actorID,
		Role:        role,
		MilestoneID: &mid,
		Payload:     events.EventPayload{"from": string(from), "to": string(next)},
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// applyReviewer overwrites the verifier or approver fields for op.
func applyReviewer(m *domain.Milestone, op workflowOp, actorID string, ts time.Time) {
	stamp := ts.Format(events.TimeFormat)
	who := actorID
	switch op {
	case opRequestChanges, opVerify:
		m.VerifierID = &who
		m.VerifiedAt = &stamp
	case opApprove:
		m.ApproverID = &who
		m.ApprovedAt = &stamp
	}
	m.UpdatedAt = stamp
}
