package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
)

var ErrNotFound = errors.New("repository: not found")

// OrdersRepository persists orders. Transition is a compare-and-set on the
// current status and reports false when the row was not in tr.From.
type OrdersRepository interface {
	Insert(ctx context.Context, o model.Order) error
	Get(ctx context.Context, id string) (model.Order, error)
	Transition(ctx context.Context, id string, tr model.OrderTransition) (bool, error)
	LinkMessage(ctx context.Context, id, messageID string, at time.Time) error
	ListByStatus(ctx context.Context, status model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error)
	ListUnlinkedPaid(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Order, error)
}

// BillsRepository is append-only. Insert is idempotent on (order, type) and
// returns the stored bill, which is the pre-existing one on a duplicate.
type BillsRepository interface {
	Insert(ctx context.Context, b model.Bill) (model.Bill, error)
	Get(ctx context.Context, orderID string, typ model.BillType) (model.Bill, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Bill, error)
}

// MessagesRepository persists messages. Settle moves a pending message to a
// terminal status and reports false when it was no longer pending.
type MessagesRepository interface {
	Insert(ctx context.Context, m model.Message) error
	Get(ctx context.Context, id string) (model.Message, error)
	GetByOrder(ctx context.Context, orderID string) (model.Message, error)
	Settle(ctx context.Context, id string, out model.MessageOutcome) (bool, error)
	ListByUser(ctx context.Context, userID string, status model.MessageStatus, limit, offset int) ([]model.Message, error)
}

// SchedulesRepository stores deferred dispatch jobs. ClaimDue atomically moves
// due jobs to dispatching with a lease, so concurrent schedulers never claim
// the same job while the lease holds.
type SchedulesRepository interface {
	Insert(ctx context.Context, d model.ScheduledDispatch) error
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.ScheduledDispatch, error)
	Complete(ctx context.Context, messageID string, at time.Time) error
	Release(ctx context.Context, messageID string, at time.Time) error
}

// HistoryReader is the read side of the history log.
type HistoryReader interface {
	ListMessages(ctx context.Context, userID string, status model.MessageStatus, phone string, limit, offset int) ([]model.Message, error)
	ListBills(ctx context.Context, userID string, typ model.BillType, limit, offset int) ([]model.Bill, error)
	Summary(ctx context.Context, userID string) (model.BillSummary, error)
}

// HistoryWriter appends projected records to the history store.
type HistoryWriter interface {
	InsertMessages(ctx context.Context, msgs []model.Message) error
	InsertBills(ctx context.Context, bills []model.Bill) error
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
