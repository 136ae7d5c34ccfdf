package server

import (
	"encoding/json"

	"buildledger/internal/domain"
	"buildledger/internal/events"
)

// Request payloads

type RegisterParticipantRequest struct {
	Identity string `json:"identity" minLength:"1"`
	Role     string `json:"role" doc:"One of contractor, architect, investor, supplier, admin"`
}

type SubmitMilestoneRequest struct {
	Description string   `json:"description,omitempty"`
	Hashes      []string `json:"hashes" doc:"Evidence hashes, 64 hex chars each"`
}

type LogDeliveryRequest struct {
	DeliveryID  int64  `json:"delivery_id" minimum:"0"`
	MilestoneID int64  `json:"milestone_id" minimum:"0"`
	Hash        string `json:"hash"`
	Description string `json:"description,omitempty"`
}

type RegisterDocumentRequest struct {
	Hash    string `json:"hash"`
	DocType string `json:"doc_type,omitempty"`
}

// Response payloads

type ParticipantResponse struct {
	Identity     string `json:"identity"`
	Role         string `json:"role" enum:"none,admin,contractor,architect,investor,supplier"`
	Registered   bool   `json:"registered"`
	RegisteredBy string `json:"registered_by,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty" format:"date-time"`
}

type MilestoneResponse struct {
	ID          int64    `json:"id"`
	Exists      bool     `json:"exists"`
	Status      string   `json:"status" enum:"NOT_CREATED,SUBMITTED,REVISION_REQUIRED,VERIFIED,APPROVED"`
	Description string   `json:"description,omitempty"`
	Hashes      []string `json:"hashes"`
	SubmitterID string   `json:"submitter_id,omitempty"`
	VerifierID  *string  `json:"verifier_id,omitempty"`
	ApproverID  *string  `json:"approver_id,omitempty"`
	SubmittedAt *string  `json:"submitted_at,omitempty" format:"date-time"`
	VerifiedAt  *string  `json:"verified_at,omitempty" format:"date-time"`
	ApprovedAt  *string  `json:"approved_at,omitempty" format:"date-time"`
	Submissions int      `json:"submissions"`
	UpdatedAt   string   `json:"updated_at,omitempty" format:"date-time"`
}

type DeliveryResponse struct {
	ID          int64  `json:"id"`
	Exists      bool   `json:"exists"`
	MilestoneID int64  `json:"milestone_id"`
	Hash        string `json:"hash,omitempty"`
	Description string `json:"description,omitempty"`
	SupplierID  string `json:"supplier_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" format:"date-time"`
}

type MilestoneDeliveriesResponse struct {
	MilestoneID int64              `json:"milestone_id"`
	DeliveryIDs []int64            `json:"delivery_ids"`
	Items       []DeliveryResponse `json:"items"`
}

type EventResponse struct {
	Seq         int64          `json:"seq"`
	TS          string         `json:"ts" format:"date-time"`
	Kind        string         `json:"kind"`
	ActorID     string         `json:"actor_id"`
	Role        string         `json:"role"`
	MilestoneID *int64         `json:"milestone_id,omitempty"`
	DeliveryID  *int64         `json:"delivery_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type VerifyReportResponse struct {
	OK        bool   `json:"ok"`
	Entries   int64  `json:"entries"`
	Head      string `json:"head"`
	BrokenSeq *int64 `json:"broken_seq,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type WhoAmIResponse struct {
	Identity   string `json:"identity"`
	Role       string `json:"role"`
	Registered bool   `json:"registered"`
	Source     string `json:"source"`
}

func participantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse{
		Identity:     p.ID,
		Role:         p.Role.String(),
		Registered:   p.Registered,
		RegisteredBy: p.RegisteredBy,
		RegisteredAt: p.RegisteredAt,
	}
}

func milestoneResponse(m domain.Milestone) MilestoneResponse {
	return MilestoneResponse{
		ID:          m.ID,
		Exists:      m.Exists,
		Status:      string(m.Status),
		Description: m.Description,
		Hashes:      domain.HashStrings(m.Hashes),
		SubmitterID: m.SubmitterID,
		VerifierID:  m.VerifierID,
		ApproverID:  m.ApproverID,
		SubmittedAt: m.SubmittedAt,
		VerifiedAt:  m.VerifiedAt,
		ApprovedAt:  m.ApprovedAt,
		Submissions: m.Submissions,
		UpdatedAt:   m.UpdatedAt,
	}
}

func deliveryResponse(d domain.Delivery) DeliveryResponse {
	res := DeliveryResponse{
		ID:          d.ID,
		Exists:      d.Exists,
		MilestoneID: d.MilestoneID,
		Description: d.Description,
		SupplierID:  d.SupplierID,
		CreatedAt:   d.CreatedAt,
	}
	if d.Exists {
		res.Hash = d.Hash.String()
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		Seq:         e.Seq,
		TS:          e.TS,
		Kind:        e.Kind,
		ActorID:     e.ActorID,
		Role:        e.Role.String(),
		MilestoneID: e.MilestoneID,
		DeliveryID:  e.DeliveryID,
		Payload:     decodeJSONMap(e.Payload),
		PrevHash:    e.PrevHash.String(),
		Hash:        e.Hash.String(),
	}
}

func verifyReportResponse(r events.VerifyReport) VerifyReportResponse {
	return VerifyReportResponse{
		OK:        r.OK,
		Entries:   r.Entries,
		Head:      r.Head.String(),
		BrokenSeq: r.BrokenSeq,
		Reason:    r.Reason,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}
