package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"buildledger/internal/domain"
)

// TimeFormat is the layout of every timestamp written by this module.
const TimeFormat = time.RFC3339Nano

// Writer appends entries to the audit log. Append must run inside the same
// transaction as the mutation it records.
type Writer struct {
	DB *sql.DB
}

type EventPayload map[string]any

// Entry is an audit record before sequencing and hashing.
type Entry struct {
	Kind        string
	ActorID     string
	Role        domain.Role
	MilestoneID *int64
	DeliveryID  *int64
	Payload     EventPayload
}

// Tail describes the last entry of the log. The zero Tail is an empty log.
type Tail struct {
	Seq  int64
	Hash domain.Hash
	TS   time.Time
}

// Tail reads the head of the chain through tx.
func (w Writer) Tail(ctx context.Context, tx *sql.Tx) (Tail, error) {
	var (
		t    Tail
		hash string
		ts   string
	)
	err := tx.QueryRowContext(ctx, `SELECT seq, hash, ts FROM events ORDER BY seq DESC LIMIT 1`).Scan(&t.Seq, &hash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Tail{}, nil
	}
	if err != nil {
		return Tail{}, fmt.Errorf("read audit tail: %w", err)
	}
	if t.Hash, err = domain.ParseHash(hash); err != nil {
		return Tail{}, fmt.Errorf("audit tail %d: %w", t.Seq, err)
	}
	if t.TS, err = time.Parse(TimeFormat, ts); err != nil {
		return Tail{}, fmt.Errorf("audit tail %d: %w", t.Seq, err)
	}
	return t, nil
}

// Append links e to the current tail and inserts it.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, ts time.Time, e Entry) (domain.Event, error) {
	tail, err := w.Tail(ctx, tx)
	if err != nil {
		return domain.Event{}, err
	}
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		Seq:         tail.Seq + 1,
		TS:          ts.UTC().Format(TimeFormat),
		Kind:        e.Kind,
		ActorID:     e.ActorID,
		Role:        e.Role,
		MilestoneID: e.MilestoneID,
		DeliveryID:  e.DeliveryID,
		Payload:     string(data),
		PrevHash:    tail.Hash,
	}
	if evt.Hash, err = HashEvent(evt); err != nil {
		return domain.Event{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(seq,ts,kind,actor_id,role,milestone_id,delivery_id,payload_json,prev_hash,hash) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		evt.Seq, evt.TS, evt.Kind, evt.ActorID, evt.Role.String(), nullableID(evt.MilestoneID), nullableID(evt.DeliveryID),
		evt.Payload, evt.PrevHash.String(), evt.Hash.String())
	if err != nil {
		return domain.Event{}, fmt.Errorf("append %s: %w", evt.Kind, err)
	}
	return evt, nil
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
