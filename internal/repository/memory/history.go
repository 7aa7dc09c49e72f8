package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

// History keeps the latest version of every projected record by id.
type History struct {
	mu       sync.Mutex
	messages map[string]model.Message
	bills    map[string]model.Bill
}

func NewHistory() *History {
	return &History{
		messages: make(map[string]model.Message),
		bills:    make(map[string]model.Bill),
	}
}

var (
	_ repository.HistoryReader = (*History)(nil)
	_ repository.HistoryWriter = (*History)(nil)
)

func (h *History) InsertMessages(_ context.Context, msgs []model.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages[m.ID] = m
	}
	return nil
}

func (h *History) InsertBills(_ context.Context, bills []model.Bill) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range bills {
		h.bills[b.ID] = b
	}
	return nil
}

func (h *History) ListMessages(_ context.Context, userID string, status model.MessageStatus, phone string, limit, offset int) ([]model.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []model.Message
	for _, m := range h.messages {
		if m.UserID != userID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		if phone != "" && m.RecipientPhone != phone {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (h *History) ListBills(_ context.Context, userID string, typ model.BillType, limit, offset int) ([]model.Bill, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []model.Bill
	for _, b := range h.bills {
		if b.UserID == userID && (typ == "" || b.Type == typ) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (h *History) Summary(_ context.Context, userID string) (model.BillSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var s model.BillSummary
	for _, b := range h.bills {
		if b.UserID != userID {
			continue
		}
		switch b.Type {
		case model.BillPayment:
			s.TotalPayment += b.Amount
		case model.BillRefund:
			s.TotalRefund += b.Amount
		}
	}
	s.Net = s.TotalPayment - s.TotalRefund
	return s, nil
}
