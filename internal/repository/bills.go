package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

const billColumns = `id, user_id, order_id, type, amount, description, created_at`

type BillsRepositoryImpl struct {
	db *sqlx.DB
}

func NewBillsRepository(db *sqlx.DB) *BillsRepositoryImpl {
	return &BillsRepositoryImpl{db: db}
}

var _ BillsRepository = (*BillsRepositoryImpl)(nil)

// idempotencyKey is unique per (type, order): pay-<order> / ref-<order>.
func idempotencyKey(typ model.BillType, orderID string) string {
	return fmt.Sprintf("%s-%s", typ.String()[:3], orderID)
}

func (r *BillsRepositoryImpl) Insert(ctx context.Context, b model.Bill) (model.Bill, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bills (id, user_id, order_id, type, amount, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, b.ID, b.UserID, b.OrderID, b.Type.String(), b.Amount, b.Description, idempotencyKey(b.Type, b.OrderID), b.CreatedAt)
	if err != nil {
		return model.Bill{}, err
	}
	return r.Get(ctx, b.OrderID, b.Type)
}

func (r *BillsRepositoryImpl) Get(ctx context.Context, orderID string, typ model.BillType) (model.Bill, error) {
	var b model.Bill
	err := r.db.GetContext(ctx, &b, `
		SELECT `+billColumns+` FROM bills WHERE idempotency_key = ? LIMIT 1
	`, idempotencyKey(typ, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bill{}, ErrNotFound
	}
	return b, err
}

func (r *BillsRepositoryImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Bill, error) {
	limit, offset = clampPage(limit, offset)

	var rows []model.Bill
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+billColumns+`
		FROM bills
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	return rows, err
}
