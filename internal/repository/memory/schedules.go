package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

type Schedules struct {
	mu   sync.Mutex
	rows map[string]model.ScheduledDispatch
}

func NewSchedules() *Schedules {
	return &Schedules{rows: make(map[string]model.ScheduledDispatch)}
}

var _ repository.SchedulesRepository = (*Schedules)(nil)

func (r *Schedules) Insert(_ context.Context, d model.ScheduledDispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[d.MessageID]; ok {
		return nil
	}
	d.State = model.DispatchWaiting
	d.UpdatedAt = d.CreatedAt
	r.rows[d.MessageID] = d
	return nil
}

func (r *Schedules) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]model.ScheduledDispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []model.ScheduledDispatch
	for _, d := range r.rows {
		if d.DueAt.After(now) {
			continue
		}
		expired := d.State == model.DispatchDispatching && d.ClaimedUntil != nil && d.ClaimedUntil.Before(now)
		if d.State == model.DispatchWaiting || expired {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	for i := range due {
		due[i].State = model.DispatchDispatching
		due[i].ClaimedUntil = &until
		due[i].Attempts++
		due[i].UpdatedAt = now
		r.rows[due[i].MessageID] = due[i]
	}
	return due, nil
}

func (r *Schedules) Complete(_ context.Context, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.rows[messageID]; ok {
		d.State = model.DispatchDone
		d.ClaimedUntil = nil
		d.UpdatedAt = at
		r.rows[messageID] = d
	}
	return nil
}

func (r *Schedules) Release(_ context.Context, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.rows[messageID]; ok && d.State == model.DispatchDispatching {
		d.State = model.DispatchWaiting
		d.ClaimedUntil = nil
		d.UpdatedAt = at
		r.rows[messageID] = d
	}
	return nil
}

// Get returns a job by message id, for assertions.
func (r *Schedules) Get(messageID string) (model.ScheduledDispatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[messageID]
	return d, ok
}
