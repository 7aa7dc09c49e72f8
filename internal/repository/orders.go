package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, amount, status, description, transaction_id, message_id, created_at, paid_at, refunded_at, updated_at`

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

func (r *OrdersRepositoryImpl) Insert(ctx context.Context, o model.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders
		    (id, user_id, amount, status, description, created_at, updated_at)
		VALUES
		    (?,  ?,       ?,      ?,      ?,           ?,          ?)
	`, o.ID, o.UserID, o.Amount, o.Status.String(), o.Description, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *OrdersRepositoryImpl) Get(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

// Transition updates the status only while the row still holds tr.From.
func (r *OrdersRepositoryImpl) Transition(ctx context.Context, id string, tr model.OrderTransition) (bool, error) {
	q := `UPDATE orders SET status = ?, updated_at = ?`
	args := []any{tr.To.String(), tr.At}

	switch tr.To {
	case model.OrderPaid:
		q += `, paid_at = ?, transaction_id = ?`
		args = append(args, tr.At, tr.TransactionID)
	case model.OrderRefunded:
		q += `, refunded_at = ?`
		args = append(args, tr.At)
	}

	q += ` WHERE id = ? AND status = ?`
	args = append(args, id, tr.From.String())

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LinkMessage attaches messageID to the order. Relinking the same message is
// a no-op; an order linked to another message reports ErrNotFound.
func (r *OrdersRepositoryImpl) LinkMessage(ctx context.Context, id, messageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET message_id = ?, updated_at = ?
		WHERE id = ? AND (message_id IS NULL OR message_id = ?)
	`, messageID, at, id, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// zero rows also means the row already held these exact values
	var linked sql.NullString
	err = r.db.GetContext(ctx, &linked, `SELECT message_id FROM orders WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !linked.Valid || linked.String != messageID {
		return ErrNotFound
	}
	return nil
}

func (r *OrdersRepositoryImpl) ListByStatus(ctx context.Context, status model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Order
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ? AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, status.String(), updatedBefore, limit)
	return rows, err
}

// ListUnlinkedPaid finds charged orders that never got a message.
func (r *OrdersRepositoryImpl) ListUnlinkedPaid(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Order
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ? AND message_id IS NULL AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, model.OrderPaid.String(), updatedBefore, limit)
	return rows, err
}
