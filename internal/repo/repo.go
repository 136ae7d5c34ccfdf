package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"buildledger/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set so reads inside an operation see its own writes.
func (r Repo) q(tx *sql.Tx) Queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const milestoneColumns = `id,status,description,hashes_json,submitter_id,verifier_id,approver_id,submitted_at,verified_at,approved_at,submissions,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMilestone(row rowScanner) (domain.Milestone, error) {
	var (
		m          domain.Milestone
		status     string
		hashesJSON string
		verifier   sql.NullString
		approver   sql.NullString
		verifiedAt sql.NullString
		approvedAt sql.NullString
		submitted  string
	)
	err := row.Scan(&m.ID, &status, &m.Description, &hashesJSON, &m.SubmitterID, &verifier, &approver,
		&submitted, &verifiedAt, &approvedAt, &m.Submissions, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(hashesJSON), &m.Hashes); err != nil {
		return m, fmt.Errorf("milestone %d hashes: %w", m.ID, err)
	}
	m.Exists = true
	m.Status = domain.MilestoneStatus(status)
	m.SubmittedAt = &submitted
	m.VerifierID = nullString(verifier)
	m.ApproverID = nullString(approver)
	m.VerifiedAt = nullString(verifiedAt)
	m.ApprovedAt = nullString(approvedAt)
	return m, nil
}

func (r Repo) GetMilestone(ctx context.Context, tx *sql.Tx, id int64) (domain.Milestone, error) {
	return scanMilestone(r.q(tx).QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id=?`, id))
}

// SaveMilestone inserts the milestone or replaces every mutable column of an
// existing one.
func (r Repo) SaveMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	if m.Hashes == nil {
		m.Hashes = []domain.Hash{}
	}
	hashes, err := json.Marshal(m.Hashes)
	if err != nil {
		return fmt.Errorf("marshal hashes: %w", err)
	}
	submittedAt := ""
	if m.SubmittedAt != nil {
		submittedAt = *m.SubmittedAt
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO milestones(`+milestoneColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  description=excluded.description,
  hashes_json=excluded.hashes_json,
  submitter_id=excluded.submitter_id,
  verifier_id=excluded.verifier_id,
  approver_id=excluded.approver_id,
  submitted_at=excluded.submitted_at,
  verified_at=excluded.verified_at,
  approved_at=excluded.approved_at,
  submissions=excluded.submissions,
  updated_at=excluded.updated_at`,
		m.ID, string(m.Status), m.Description, string(hashes), m.SubmitterID, nullablePtr(m.VerifierID), nullablePtr(m.ApproverID),
		submittedAt, nullablePtr(m.VerifiedAt), nullablePtr(m.ApprovedAt), m.Submissions, m.UpdatedAt)
	return err
}

// ListMilestones returns milestones ordered by id, optionally filtered by status.
func (r Repo) ListMilestones(ctx context.Context, tx *sql.Tx, status domain.MilestoneStatus) ([]domain.Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
