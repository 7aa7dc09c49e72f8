package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHHistoryRepository reads and writes the history projection in ClickHouse.
// Tables are ReplacingMergeTree keyed by id, so reads use FINAL.
type CHHistoryRepository struct {
	ch *sqlx.DB
}

func NewCHHistoryRepository(ch *sqlx.DB) *CHHistoryRepository {
	return &CHHistoryRepository{ch: ch}
}

var (
	_ HistoryReader = (*CHHistoryRepository)(nil)
	_ HistoryWriter = (*CHHistoryRepository)(nil)
)

func (r *CHHistoryRepository) ListMessages(ctx context.Context, userID string, status model.MessageStatus, phone string, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	q := `
		SELECT ` + messageColumns + `
		FROM paysms.messages_history FINAL
		WHERE user_id = ?
	`
	args := []any{userID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if phone != "" {
		q += " AND recipient_phone = ?"
		args = append(args, phone)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.Message
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CHHistoryRepository) ListBills(ctx context.Context, userID string, typ model.BillType, limit, offset int) ([]model.Bill, error) {
	limit, offset = clampPage(limit, offset)

	q := `SELECT ` + billColumns + ` FROM paysms.bills_history FINAL WHERE user_id = ?`
	args := []any{userID}
	if typ != "" {
		q += " AND type = ?"
		args = append(args, typ.String())
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.Bill
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CHHistoryRepository) Summary(ctx context.Context, userID string) (model.BillSummary, error) {
	var s model.BillSummary
	err := r.ch.GetContext(ctx, &s, `
		SELECT
		    sumIf(amount, type = 'payment') AS total_payment,
		    sumIf(amount, type = 'refund')  AS total_refund
		FROM paysms.bills_history FINAL
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return model.BillSummary{}, err
	}
	s.Net = s.TotalPayment - s.TotalRefund
	return s, nil
}

// InsertMessages writes a batch through a prepared statement inside one
// transaction, which clickhouse-go turns into a single native block insert.
func (r *CHHistoryRepository) InsertMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.batch(ctx, `INSERT INTO paysms.messages_history (`+messageColumns+`)`, len(msgs), func(i int) []any {
		m := msgs[i]
		return []any{
			m.ID, m.UserID, m.OrderID, m.RecipientPhone, m.Content, m.CharCount, int64(m.Cost), m.Status.String(),
			m.ScheduledAt, m.SentAt, m.DispatchID, m.FailedReason, m.CreatedAt, m.UpdatedAt,
		}
	})
}

func (r *CHHistoryRepository) InsertBills(ctx context.Context, bills []model.Bill) error {
	if len(bills) == 0 {
		return nil
	}
	return r.batch(ctx, `INSERT INTO paysms.bills_history (`+billColumns+`)`, len(bills), func(i int) []any {
		b := bills[i]
		return []any{b.ID, b.UserID, b.OrderID, b.Type.String(), int64(b.Amount), b.Description, b.CreatedAt}
	})
}

func (r *CHHistoryRepository) batch(ctx context.Context, query string, n int, row func(i int) []any) error {
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("append row %d: %w", i, err)
		}
	}
	return tx.Commit()
}
