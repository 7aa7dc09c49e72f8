// Package dispatcher hands messages to SMS carriers.
package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jmehdipour/paysms/internal/metrics"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Result is the outcome of one dispatch. Success=false with a nil error is
// a definitive failure.
type Result struct {
	Success    bool
	DispatchID string
	Reason     string
	Provider   string
}

// Service delivers one message. Single logical attempt per call; callers
// own the retry policy.
type Service interface {
	Send(ctx context.Context, phone, content string) (Result, error)
}

// Dispatcher round-robins over the providers whose breaker is closed.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

var _ Service = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher. maxAttempts bounds failover to another
// provider after a transport error within one Send; 1 disables failover.
func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, phone, content string) (Result, error) {
	p, err := d.selectProvider()
	if err != nil {
		return Result{}, err
	}

	if !p.Acquire() {
		return Result{}, ErrNoAcquire
	}

	res, err := p.Send(ctx, phone, content)
	switch {
	case err != nil:
		metrics.ProviderRequests.WithLabelValues(p.Name(), "error").Inc()
	case res.Success:
		metrics.ProviderRequests.WithLabelValues(p.Name(), "sent").Inc()
	default:
		metrics.ProviderRequests.WithLabelValues(p.Name(), "rejected").Inc()
	}
	return res, err
}

// Send returns a definitive Result whenever a provider answered. Errors are
// only returned when no provider could be reached or ctx ended.
func (d *Dispatcher) Send(ctx context.Context, phone, content string) (Result, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		res, err := d.tryOnce(ctx, phone, content)
		if err == nil {
			return res, nil
		}
		last = err
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}

	return Result{}, last
}
