// Package ledger owns order state and the bills derived from it. It is the
// only writer of orders; every transition is a compare-and-set on the
// expected current status.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/util"
)

type Orders struct {
	repo repository.OrdersRepository
	now  func() time.Time
}

func NewOrders(repo repository.OrdersRepository) *Orders {
	return &Orders{repo: repo, now: time.Now}
}

// Create stores a new pending order.
func (l *Orders) Create(ctx context.Context, userID string, amount model.Money, description string) (model.Order, error) {
	now := l.now().UTC()
	o := model.Order{
		ID:          util.NewAt(now),
		UserID:      userID,
		Amount:      amount,
		Status:      model.OrderPending,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.repo.Insert(ctx, o); err != nil {
		return model.Order{}, storageErr("create order", err)
	}
	return o, nil
}

func (l *Orders) Get(ctx context.Context, id string) (model.Order, error) {
	o, err := l.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, storageErr("get order", err)
	}
	return o, nil
}

func (l *Orders) MarkPaid(ctx context.Context, id string, paidAt time.Time, transactionID string) (model.Order, error) {
	return l.transition(ctx, id, model.OrderTransition{
		From: model.OrderPending, To: model.OrderPaid, At: paidAt.UTC(), TransactionID: transactionID,
	})
}

func (l *Orders) MarkCompleted(ctx context.Context, id string) (model.Order, error) {
	return l.transition(ctx, id, model.OrderTransition{From: model.OrderPaid, To: model.OrderCompleted, At: l.now().UTC()})
}

// MarkFailed records a failed dispatch; it is the precondition for a refund.
func (l *Orders) MarkFailed(ctx context.Context, id string) (model.Order, error) {
	return l.transition(ctx, id, model.OrderTransition{From: model.OrderPaid, To: model.OrderFailed, At: l.now().UTC()})
}

func (l *Orders) MarkRefunded(ctx context.Context, id string, refundedAt time.Time) (model.Order, error) {
	return l.transition(ctx, id, model.OrderTransition{From: model.OrderFailed, To: model.OrderRefunded, At: refundedAt.UTC()})
}

func (l *Orders) LinkMessage(ctx context.Context, id, messageID string) error {
	err := l.repo.LinkMessage(ctx, id, messageID, l.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return storageErr("link message", err)
	}
	return nil
}

// ListFailed returns orders stuck in Failed since before the given instant,
// oldest first. These are the refund-pending orders.
func (l *Orders) ListFailed(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	orders, err := l.repo.ListByStatus(ctx, model.OrderFailed, before.UTC(), limit)
	if err != nil {
		return nil, storageErr("list failed orders", err)
	}
	return orders, nil
}

// ListUnlinkedPaid returns orders charged before the given instant that
// never had a message attached, i.e. a send that died after payment.
func (l *Orders) ListUnlinkedPaid(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	orders, err := l.repo.ListUnlinkedPaid(ctx, before.UTC(), limit)
	if err != nil {
		return nil, storageErr("list unlinked orders", err)
	}
	return orders, nil
}

// transition applies tr. A lost compare-and-set is resolved by reloading:
// an order already in tr.To is a no-op, anything else is invalid.
func (l *Orders) transition(ctx context.Context, id string, tr model.OrderTransition) (model.Order, error) {
	ok, err := l.repo.Transition(ctx, id, tr)
	if err != nil {
		return model.Order{}, storageErr("transition order", err)
	}

	o, err := l.Get(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if ok || o.Status == tr.To {
		return o, nil
	}
	return o, &TransitionError{OrderID: id, From: tr.From, To: tr.To, Current: o.Status}
}
