// Package breaker is a small consecutive-failure circuit breaker shared by
// the outbound HTTP clients (SMS providers, payment gateway).
package breaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("breaker: open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker opens after failThreshold consecutive failures and lets a
// single probe through once openFor has elapsed.
type MicroBreaker struct {
	mu               sync.Mutex
	st               State
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func New(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether TryAcquire would currently succeed, without taking the probe slot.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case Open:
		return b.now().After(b.nextTryAt) && !b.probeInFlight
	case HalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case Open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = HalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = Closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == HalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

func (b *MicroBreaker) trip() {
	b.st = Open
	b.nextTryAt = b.now().Add(b.openFor)
	b.probeInFlight = false
}
