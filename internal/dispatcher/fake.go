package dispatcher

import (
	"context"
	"fmt"
	"sync"
)

// Call records one Fake.Send invocation.
type Call struct {
	Phone   string
	Content string
}

// Fake is a deterministic Service. Scripted outcomes are consumed in order,
// then Default applies.
type Fake struct {
	mu      sync.Mutex
	Default bool
	Err     error
	plan    []bool
	calls   []Call
	seq     int
}

var _ Service = (*Fake)(nil)

// NewFake returns a dispatcher that delivers every message.
func NewFake() *Fake { return &Fake{Default: true} }

func (f *Fake) Script(outcomes ...bool) {
	f.mu.Lock()
	f.plan = append(f.plan, outcomes...)
	f.mu.Unlock()
}

func (f *Fake) Send(_ context.Context, phone, content string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Phone: phone, Content: content})
	if f.Err != nil {
		return Result{}, f.Err
	}

	ok := f.Default
	if len(f.plan) > 0 {
		ok, f.plan = f.plan[0], f.plan[1:]
	}
	if !ok {
		return Result{Reason: "carrier rejected", Provider: "fake"}, nil
	}
	f.seq++
	return Result{Success: true, DispatchID: fmt.Sprintf("fake-%d", f.seq), Provider: "fake"}, nil
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
