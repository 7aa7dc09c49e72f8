// Package memory holds in-process implementations of the repository
// interfaces. They honour the same compare-and-set contracts as the MySQL
// implementations and are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

type Orders struct {
	mu   sync.Mutex
	rows map[string]model.Order
}

func NewOrders() *Orders {
	return &Orders{rows: make(map[string]model.Order)}
}

var _ repository.OrdersRepository = (*Orders)(nil)

func (r *Orders) Insert(_ context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.rows[o.ID] = o
	return nil
}

func (r *Orders) Get(_ context.Context, id string) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[id]
	if !ok {
		return model.Order{}, repository.ErrNotFound
	}
	return o, nil
}

func (r *Orders) Transition(_ context.Context, id string, tr model.OrderTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[id]
	if !ok || o.Status != tr.From {
		return false, nil
	}

	o.Status = tr.To
	o.UpdatedAt = tr.At
	switch tr.To {
	case model.OrderPaid:
		at, txID := tr.At, tr.TransactionID
		o.PaidAt = &at
		o.TransactionID = &txID
	case model.OrderRefunded:
		at := tr.At
		o.RefundedAt = &at
	}
	r.rows[id] = o
	return true, nil
}

func (r *Orders) LinkMessage(_ context.Context, id, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[id]
	if !ok || (o.MessageID != nil && *o.MessageID != messageID) {
		return repository.ErrNotFound
	}
	o.MessageID = &messageID
	o.UpdatedAt = at
	r.rows[id] = o
	return nil
}

func (r *Orders) ListByStatus(_ context.Context, status model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error) {
	return r.list(func(o model.Order) bool {
		return o.Status == status && !o.UpdatedAt.After(updatedBefore)
	}, limit), nil
}

func (r *Orders) ListUnlinkedPaid(_ context.Context, updatedBefore time.Time, limit int) ([]model.Order, error) {
	return r.list(func(o model.Order) bool {
		return o.Status == model.OrderPaid && o.MessageID == nil && !o.UpdatedAt.After(updatedBefore)
	}, limit), nil
}

func (r *Orders) list(match func(model.Order) bool, limit int) []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Order
	for _, o := range r.rows {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// All returns every stored order, for assertions.
func (r *Orders) All() []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Order, 0, len(r.rows))
	for _, o := range r.rows {
		out = append(out, o)
	}
	return out
}
