package engine

import (
	"context"
	"fmt"
	"strings"

	"buildledger/internal/domain"
	"buildledger/internal/events"
)

// LogDelivery records a write-once delivery against milestoneID. The
// milestone is not required to exist or to be open.
func (e Engine) LogDelivery(ctx context.Context, actorID string, deliveryID, milestoneID int64, hash domain.Hash, description string) (domain.Delivery, error) {
	d, err := e.logDelivery(ctx, actorID, deliveryID, milestoneID, hash, description)
	e.logResult("delivery.log", actorID, err, "delivery_id", deliveryID, "milestone_id", milestoneID)
	return d, err
}

func (e Engine) logDelivery(ctx context.Context, actorID string, deliveryID, milestoneID int64, hash domain.Hash, description string) (domain.Delivery, error) {
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Delivery{}, err
	}
	defer tx.Rollback()

	role, err := e.Auth.Authorize(ctx, tx, actorID, domain.RoleSupplier)
	if err != nil {
		return domain.Delivery{}, err
	}
	exists, err := e.Repo.DeliveryExists(ctx, tx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if exists {
		return domain.Delivery{}, fmt.Errorf("delivery %d: %w", deliveryID, domain.ErrDuplicateDelivery)
	}
	d := domain.Delivery{
		ID:          deliveryID,
		Exists:      true,
		MilestoneID: milestoneID,
		Hash:        hash,
		Description: description,
		SupplierID:  actorID,
		CreatedAt:   ts.Format(events.TimeFormat),
	}
	if err := e.Repo.InsertDelivery(ctx, tx, d); err != nil {
		return domain.Delivery{}, fmt.Errorf("insert delivery %d: %w", deliveryID, err)
	}
	did, mid := deliveryID, milestoneID
	if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:        domain.EventDeliveryLogged,
		ActorID:     actorID,
		Role:        role,
		MilestoneID: &mid,
		DeliveryID:  &did,
		Payload:     events.EventPayload{"hash": hash.String(), "description": description},
	}); err != nil {
		return domain.Delivery{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Delivery{}, err
	}
	return d, nil
}

// RegisterDocumentHash attests a document hash. Any caller may do so; the
// audit entry is the only record.
func (e Engine) RegisterDocumentHash(ctx context.Context, actorID string, hash domain.Hash, docType string) (domain.Event, error) {
	evt, err := e.registerDocumentHash(ctx, actorID, hash, strings.TrimSpace(docType))
	e.logResult("document.register", actorID, err, "hash", hash.String(), "doc_type", docType)
	return evt, err
}

func (e Engine) registerDocumentHash(ctx context.Context, actorID string, hash domain.Hash, docType string) (domain.Event, error) {
	if actorID == "" {
		return domain.Event{}, fmt.Errorf("%w: caller identity required", domain.ErrUnauthorized)
	}
	if hash.IsZero() {
		return domain.Event{}, fmt.Errorf("register document: %w", domain.ErrInvalidHash)
	}
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	role, err := e.Repo.RoleOf(ctx, tx, actorID)
	if err != nil {
		return domain.Event{}, err
	}
	evt, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:    domain.EventDocumentHashRegistered,
		ActorID: actorID,
		Role:    role,
		Payload: events.EventPayload{"hash": hash.String(), "doc_type": docType},
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}
