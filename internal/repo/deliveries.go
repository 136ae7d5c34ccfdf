package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"buildledger/internal/domain"
)

const deliveryColumns = `d.id,d.milestone_id,d.hash,d.description,d.supplier_id,d.created_at`

func scanDelivery(row rowScanner) (domain.Delivery, error) {
	var (
		d    domain.Delivery
		hash string
	)
	err := row.Scan(&d.ID, &d.MilestoneID, &hash, &d.Description, &d.SupplierID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	h, err := domain.ParseHash(hash)
	if err != nil {
		return d, fmt.Errorf("delivery %d: %w", d.ID, err)
	}
	d.Hash = h
	d.Exists = true
	return d, nil
}

func (r Repo) GetDelivery(ctx context.Context, tx *sql.Tx, id int64) (domain.Delivery, error) {
	return scanDelivery(r.q(tx).QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries d WHERE d.id=?`, id))
}

// DeliveryExists reports whether the delivery slot is occupied.
func (r Repo) DeliveryExists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM deliveries WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertDelivery stores the record and appends its id to the milestone's
// reverse index.
func (r Repo) InsertDelivery(ctx context.Context, tx *sql.Tx, d domain.Delivery) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO deliveries(id,milestone_id,hash,description,supplier_id,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.MilestoneID, d.Hash.String(), d.Description, d.SupplierID, d.CreatedAt); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO milestone_deliveries(milestone_id,position,delivery_id)
SELECT ?, COALESCE(MAX(position)+1, 0), ? FROM milestone_deliveries WHERE milestone_id=?`, d.MilestoneID, d.ID, d.MilestoneID)
	return err
}

// DeliveryIDsForMilestone returns the reverse index in insertion order.
func (r Repo) DeliveryIDsForMilestone(ctx context.Context, tx *sql.Tx, milestoneID int64) ([]int64, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT delivery_id FROM milestone_deliveries WHERE milestone_id=? ORDER BY position`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeliveriesForMilestone returns the records behind the reverse index.
func (r Repo) DeliveriesForMilestone(ctx context.Context, tx *sql.Tx, milestoneID int64) ([]domain.Delivery, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+deliveryColumns+` FROM milestone_deliveries md
JOIN deliveries d ON d.id = md.delivery_id
WHERE md.milestone_id=? ORDER BY md.position`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListDeliveries returns every delivery ordered by id.
func (r Repo) ListDeliveries(ctx context.Context, tx *sql.Tx) ([]domain.Delivery, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries d ORDER BY d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
