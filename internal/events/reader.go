package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"buildledger/internal/domain"
)

// Filter selects audit entries. Zero fields match everything.
type Filter struct {
	Kind        string
	ActorID     string
	MilestoneID *int64
	DeliveryID  *int64
	AfterSeq    int64
	Limit       int
}

const eventColumns = `seq,ts,kind,actor_id,role,milestone_id,delivery_id,payload_json,prev_hash,hash`

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var (
		e         domain.Event
		role      string
		milestone sql.NullInt64
		delivery  sql.NullInt64
		prev      string
		hash      string
	)
	if err := rows.Scan(&e.Seq, &e.TS, &e.Kind, &e.ActorID, &role, &milestone, &delivery, &e.Payload, &prev, &hash); err != nil {
		return e, err
	}
	e.Role = domain.ParseRole(role)
	if milestone.Valid {
		id := milestone.Int64
		e.MilestoneID = &id
	}
	if delivery.Valid {
		id := delivery.Int64
		e.DeliveryID = &id
	}
	var err error
	if e.PrevHash, err = domain.ParseHash(prev); err != nil {
		return e, fmt.Errorf("event %d prev_hash: %w", e.Seq, err)
	}
	if e.Hash, err = domain.ParseHash(hash); err != nil {
		return e, fmt.Errorf("event %d hash: %w", e.Seq, err)
	}
	return e, nil
}

// Query returns entries in sequence order.
func Query(ctx context.Context, db *sql.DB, f Filter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind=?")
		args = append(args, f.Kind)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.MilestoneID != nil {
		where = append(where, "milestone_id=?")
		args = append(args, *f.MilestoneID)
	}
	if f.DeliveryID != nil {
		where = append(where, "delivery_id=?")
		args = append(args, *f.DeliveryID)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq>?")
		args = append(args, f.AfterSeq)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LastSeq returns the sequence number of the newest entry, or 0.
func LastSeq(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM events`).Scan(&seq)
	return seq, err
}

// Verify streams the whole log through a Verifier.
func Verify(ctx context.Context, db *sql.DB) (VerifyReport, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq`)
	if err != nil {
		return VerifyReport{}, err
	}
	defer rows.Close()
	var v Verifier
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return VerifyReport{}, err
		}
		if !v.Add(e) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return VerifyReport{}, err
	}
	return v.Report(), nil
}
