// Package scheduler runs periodic background work and the deferred
// dispatch of scheduled messages.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Ticker calls tickFn immediately on Start and then every interval until
// Stop. A panicking tick is recovered and logged.
type Ticker struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	log      *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTicker(name string, interval time.Duration, tickFn func(context.Context), log *zap.Logger) (*Ticker, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      log.With(zap.String("loop", name)),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop under parent; it reports false if already running.
func (t *Ticker) Start(parent context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running.Store(true)

	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		t.log.Info("loop started", zap.Duration("interval", t.interval))

		t.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				t.log.Info("loop stopping")
				return
			case <-ticker.C:
				t.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for the in-flight tick to return.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.Load() {
		return false
	}

	t.cancel()
	<-t.done
	t.running.Store(false)

	t.log.Info("loop stopped")
	return true
}

func (t *Ticker) IsRunning() bool {
	return t.running.Load()
}

// Done is closed when the current loop exits.
func (t *Ticker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Ticker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tick panic recovered", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	t.tickFn(ctx)
	t.log.Debug("tick completed", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}
