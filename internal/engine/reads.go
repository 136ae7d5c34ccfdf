package engine

import (
	"context"
	"errors"
	"io"
	"strings"

	"buildledger/internal/domain"
	"buildledger/internal/events"
	"buildledger/internal/repo"
)

// Reads carry no authorization check and never write.

func (e Engine) RoleOf(ctx context.Context, identity string) (domain.Role, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.RoleOf(ctx, nil, strings.TrimSpace(identity))
}

// GetParticipant returns an unregistered snapshot with RoleNone for unknown
// identities.
func (e Engine) GetParticipant(ctx context.Context, identity string) (domain.Participant, error) {
	unlock := e.rlock()
	defer unlock()
	identity = strings.TrimSpace(identity)
	p, err := e.Repo.GetParticipant(ctx, nil, identity)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{ID: identity, Role: domain.RoleNone}, nil
	}
	return p, err
}

func (e Engine) ListParticipants(ctx context.Context, role domain.Role) ([]domain.Participant, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.ListParticipants(ctx, nil, role)
}

// GetMilestone returns the milestone snapshot; a never-submitted id yields
// Exists=false and status NOT_CREATED.
func (e Engine) GetMilestone(ctx context.Context, id int64) (domain.Milestone, error) {
	unlock := e.rlock()
	defer unlock()
	return e.loadMilestone(ctx, nil, id)
}

func (e Engine) ListMilestones(ctx context.Context, status domain.MilestoneStatus) ([]domain.Milestone, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.ListMilestones(ctx, nil, status)
}

// GetDelivery returns the delivery snapshot; an unused id yields Exists=false.
func (e Engine) GetDelivery(ctx context.Context, id int64) (domain.Delivery, error) {
	unlock := e.rlock()
	defer unlock()
	d, err := e.Repo.GetDelivery(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Delivery{ID: id}, nil
	}
	return d, err
}

// GetDeliveriesForMilestone returns delivery ids logged against milestoneID
// in logging order. The result is empty, never nil, for unknown milestones.
func (e Engine) GetDeliveriesForMilestone(ctx context.Context, milestoneID int64) ([]int64, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.DeliveryIDsForMilestone(ctx, nil, milestoneID)
}

// DeliveriesForMilestone is GetDeliveriesForMilestone with full records.
func (e Engine) DeliveriesForMilestone(ctx context.Context, milestoneID int64) ([]domain.Delivery, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.DeliveriesForMilestone(ctx, nil, milestoneID)
}

func (e Engine) ListDeliveries(ctx context.Context) ([]domain.Delivery, error) {
	unlock := e.rlock()
	defer unlock()
	return e.Repo.ListDeliveries(ctx, nil)
}

// Events returns audit entries matching f in sequence order.
func (e Engine) Events(ctx context.Context, f events.Filter) ([]domain.Event, error) {
	unlock := e.rlock()
	defer unlock()
	return events.Query(ctx, e.DB, f)
}

// VerifyLog recomputes the hash chain.
func (e Engine) VerifyLog(ctx context.Context) (events.VerifyReport, error) {
	unlock := e.rlock()
	defer unlock()
	return events.Verify(ctx, e.DB)
}

// ExportLog writes the audit log as JSON lines, optionally zstd-compressed.
func (e Engine) ExportLog(ctx context.Context, w io.Writer, compress bool) (int64, error) {
	unlock := e.rlock()
	defer unlock()
	return events.Export(ctx, e.DB, w, compress)
}

// LastSeq returns the newest audit sequence number, 0 for an empty log.
func (e Engine) LastSeq(ctx context.Context) (int64, error) {
	unlock := e.rlock()
	defer unlock()
	return events.LastSeq(ctx, e.DB)
}
