package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

type SchedulesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSchedulesRepository(db *sqlx.DB) *SchedulesRepositoryImpl {
	return &SchedulesRepositoryImpl{db: db}
}

var _ SchedulesRepository = (*SchedulesRepositoryImpl)(nil)

func (r *SchedulesRepositoryImpl) Insert(ctx context.Context, d model.ScheduledDispatch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_dispatches (message_id, due_at, state, attempts, created_at, updated_at)
		VALUES (?, ?, 'waiting', 0, ?, ?)
		ON DUPLICATE KEY UPDATE message_id = message_id
	`, d.MessageID, d.DueAt, d.CreatedAt, d.CreatedAt)
	return err
}

// ClaimDue locks due rows with SKIP LOCKED so parallel schedulers split the
// batch instead of blocking on each other, then leases them in the same tx.
func (r *SchedulesRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.ScheduledDispatch, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var due []model.ScheduledDispatch
	err = tx.SelectContext(ctx, &due, `
		SELECT message_id, due_at, state, claimed_until, attempts, created_at, updated_at
		FROM scheduled_dispatches
		WHERE due_at <= ?
		  AND (state = 'waiting' OR (state = 'dispatching' AND claimed_until < ?))
		ORDER BY due_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`, now, now, limit)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.MessageID)
	}

	until := now.Add(lease)
	query, args, err := sqlx.In(`
		UPDATE scheduled_dispatches
		SET state = 'dispatching', claimed_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE message_id IN (?)
	`, until, now, ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range due {
		due[i].State = model.DispatchDispatching
		due[i].ClaimedUntil = &until
		due[i].Attempts++
		due[i].UpdatedAt = now
	}
	return due, nil
}

func (r *SchedulesRepositoryImpl) Complete(ctx context.Context, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_dispatches
		SET state = 'done', claimed_until = NULL, updated_at = ?
		WHERE message_id = ?
	`, at, messageID)
	return err
}

func (r *SchedulesRepositoryImpl) Release(ctx context.Context, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_dispatches
		SET state = 'waiting', claimed_until = NULL, updated_at = ?
		WHERE message_id = ? AND state = 'dispatching'
	`, at, messageID)
	return err
}
