package domain

// Participant is an identity enrolled with exactly one role.
type Participant struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	Registered   bool   `json:"registered"`
	RegisteredBy string `json:"registered_by,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty" format:"date-time"`
}

// Milestone is the current snapshot of a milestone slot. A slot that was never
// submitted has Exists=false and Status NOT_CREATED.
type Milestone struct {
	ID          int64           `json:"id"`
	Exists      bool            `json:"exists"`
	Status      MilestoneStatus `json:"status"`
	Description string          `json:"description,omitempty"`
	Hashes      []Hash          `json:"hashes"`
	SubmitterID string          `json:"submitter_id,omitempty"`
	VerifierID  *string         `json:"verifier_id,omitempty"`
	ApproverID  *string         `json:"approver_id,omitempty"`
	SubmittedAt *string         `json:"submitted_at,omitempty" format:"date-time"`
	VerifiedAt  *string         `json:"verified_at,omitempty" format:"date-time"`
	ApprovedAt  *string         `json:"approved_at,omitempty" format:"date-time"`
	Submissions int             `json:"submissions"`
	UpdatedAt   string          `json:"updated_at,omitempty" format:"date-time"`
}

// Delivery is a write-once record of materials supplied against a milestone.
type Delivery struct {
	ID          int64  `json:"id"`
	Exists      bool   `json:"exists"`
	MilestoneID int64  `json:"milestone_id"`
	Hash        Hash   `json:"hash"`
	Description string `json:"description,omitempty"`
	SupplierID  string `json:"supplier_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" format:"date-time"`
}

// Event is one audit log entry.
type Event struct {
	Seq         int64  `json:"seq"`
	TS          string `json:"ts" format:"date-time"`
	Kind        string `json:"kind"`
	ActorID     string `json:"actor_id"`
	Role        Role   `json:"role"`
	MilestoneID *int64 `json:"milestone_id,omitempty"`
	DeliveryID  *int64 `json:"delivery_id,omitempty"`
	Payload     string `json:"payload_json"`
	PrevHash    Hash   `json:"prev_hash"`
	Hash        Hash   `json:"hash"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Audit event kinds.
const (
	EventParticipantRegistered     = "participant.registered"
	EventMilestoneSubmitted        = "milestone.submitted"
	EventMilestoneResubmitted      = "milestone.resubmitted"
	EventMilestoneChangesRequested = "milestone.changes_requested"
	EventMilestoneVerified         = "milestone.verified"
	EventMilestoneApproved         = "milestone.approved"
	EventDeliveryLogged            = "delivery.logged"
	EventDocumentHashRegistered    = "document_hash.registered"
)

// EventKinds lists every audit event kind in declaration order.
var EventKinds = []string{
	EventParticipantRegistered,
	EventMilestoneSubmitted,
	EventMilestoneResubmitted,
	EventMilestoneChangesRequested,
	EventMilestoneVerified,
	EventMilestoneApproved,
	EventDeliveryLogged,
	EventDocumentHashRegistered,
}
