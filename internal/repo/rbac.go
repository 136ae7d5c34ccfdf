package repo

import (
	"context"
	"database/sql"
	"errors"

	"buildledger/internal/domain"
)

const participantColumns = `id,role,registered_by,registered_at`

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p    domain.Participant
		role string
	)
	err := row.Scan(&p.ID, &role, &p.RegisteredBy, &p.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Role = domain.ParseRole(role)
	p.Registered = true
	return p, nil
}

func (r Repo) GetParticipant(ctx context.Context, tx *sql.Tx, id string) (domain.Participant, error) {
	return scanParticipant(r.q(tx).QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=?`, id))
}

// RoleOf returns RoleNone for unregistered identities.
func (r Repo) RoleOf(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	p, err := r.GetParticipant(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, err
	}
	return p.Role, nil
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO participants(`+participantColumns+`) VALUES (?,?,?,?)`,
		p.ID, p.Role.String(), p.RegisteredBy, p.RegisteredAt)
	return err
}

// ListParticipants returns participants in registration order, optionally
// restricted to one role.
func (r Repo) ListParticipants(ctx context.Context, tx *sql.Tx, role domain.Role) ([]domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants`
	var args []any
	if role != domain.RoleNone {
		query += ` WHERE role=?`
		args = append(args, role.String())
	}
	query += ` ORDER BY registered_at, rowid`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
