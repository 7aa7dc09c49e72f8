package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository appends history events to the outbox table, from where
// Debezium's outbox router publishes them to the topic named on each row.
type OutboxRepository interface {
	Append(ctx context.Context, events ...model.OutboxEvent) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// Append writes all events in one transaction; either every row lands or none.
func (r *OutboxRepositoryImpl) Append(ctx context.Context, events ...model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, ev.Aggregate, ev.AggregateID, ev.Topic, ev.Payload, ev.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
