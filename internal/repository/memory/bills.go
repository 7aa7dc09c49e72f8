package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

type billKey struct {
	orderID string
	typ     model.BillType
}

type Bills struct {
	mu   sync.Mutex
	rows map[billKey]model.Bill
}

func NewBills() *Bills {
	return &Bills{rows: make(map[billKey]model.Bill)}
}

var _ repository.BillsRepository = (*Bills)(nil)

func (r *Bills) Insert(_ context.Context, b model.Bill) (model.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := billKey{b.OrderID, b.Type}
	if existing, ok := r.rows[k]; ok {
		return existing, nil
	}
	r.rows[k] = b
	return b, nil
}

func (r *Bills) Get(_ context.Context, orderID string, typ model.BillType) (model.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.rows[billKey{orderID, typ}]
	if !ok {
		return model.Bill{}, repository.ErrNotFound
	}
	return b, nil
}

func (r *Bills) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Bill
	for _, b := range r.rows {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// ForOrder returns every bill of an order, for assertions.
func (r *Bills) ForOrder(orderID string) []model.Bill {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Bill
	for k, b := range r.rows {
		if k.orderID == orderID {
			out = append(out, b)
		}
	}
	return out
}

func (r *Bills) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func page[T any](rows []T, limit, offset int) []T {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
