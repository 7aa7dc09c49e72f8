package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

type Messages struct {
	mu   sync.Mutex
	rows map[string]model.Message
}

func NewMessages() *Messages {
	return &Messages{rows: make(map[string]model.Message)}
}

var _ repository.MessagesRepository = (*Messages)(nil)

func (r *Messages) Insert(_ context.Context, m model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[m.ID]; ok {
		return fmt.Errorf("message %s already exists", m.ID)
	}
	m.Status = model.MessagePending
	r.rows[m.ID] = m
	return nil
}

func (r *Messages) Get(_ context.Context, id string) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return model.Message{}, repository.ErrNotFound
	}
	return m, nil
}

func (r *Messages) GetByOrder(_ context.Context, orderID string) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.rows {
		if m.OrderID == orderID {
			return m, nil
		}
	}
	return model.Message{}, repository.ErrNotFound
}

func (r *Messages) Settle(_ context.Context, id string, out model.MessageOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || m.Status != model.MessagePending {
		return false, nil
	}

	m.Status = out.Status
	m.UpdatedAt = out.At
	if out.Status == model.MessageSent {
		at := out.At
		m.SentAt = &at
	}
	if out.DispatchID != "" {
		d := out.DispatchID
		m.DispatchID = &d
	}
	if out.FailedReason != "" {
		reason := out.FailedReason
		m.FailedReason = &reason
	}
	r.rows[id] = m
	return true, nil
}

func (r *Messages) ListByUser(_ context.Context, userID string, status model.MessageStatus, limit, offset int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Message
	for _, m := range r.rows {
		if m.UserID != userID || (status != "" && m.Status != status) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// All returns every stored message, for assertions.
func (r *Messages) All() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Message, 0, len(r.rows))
	for _, m := range r.rows {
		out = append(out, m)
	}
	return out
}
