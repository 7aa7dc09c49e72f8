package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

const messageColumns = `id, user_id, order_id, recipient_phone, content, char_count, cost, status,
	scheduled_at, sent_at, dispatch_id, failed_reason, created_at, updated_at`

const messageRowColumns = messageColumns + `, persist_history`

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

// Insert writes a new message row; messages are always created pending.
func (r *MessagesRepositoryImpl) Insert(ctx context.Context, m model.Message) error {
	const q = `
		INSERT INTO messages
		    (id, user_id, order_id, recipient_phone, content, char_count, cost, status, scheduled_at, persist_history, created_at, updated_at)
		VALUES
		    (?,  ?,       ?,        ?,               ?,       ?,          ?,    'pending', ?,         ?,               ?,          ?)
	`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.UserID, m.OrderID, m.RecipientPhone, m.Content, m.CharCount, m.Cost, m.ScheduledAt, m.PersistHistory, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (r *MessagesRepositoryImpl) Get(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageRowColumns+` FROM messages WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// GetByOrder finds the message created for an order; order_id is unique.
func (r *MessagesRepositoryImpl) GetByOrder(ctx context.Context, orderID string) (model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageRowColumns+` FROM messages WHERE order_id = ? LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// Settle moves a pending message to sent or failed exactly once.
func (r *MessagesRepositoryImpl) Settle(ctx context.Context, id string, out model.MessageOutcome) (bool, error) {
	var sentAt any
	if out.Status == model.MessageSent {
		sentAt = out.At
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, sent_at = ?, dispatch_id = NULLIF(?, ''), failed_reason = NULLIF(?, ''), updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, out.Status.String(), sentAt, out.DispatchID, out.FailedReason, out.At, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *MessagesRepositoryImpl) ListByUser(ctx context.Context, userID string, status model.MessageStatus, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	q := `SELECT ` + messageRowColumns + ` FROM messages WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.Message
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
