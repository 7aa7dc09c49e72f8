package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/paysms/internal/kafka"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	ch chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newFakeSource(msgs ...kafka.Message) *fakeSource {
	s := &fakeSource{ch: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		s.ch <- m
	}
	return s
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) Committed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeStore struct {
	mu       sync.Mutex
	failures int
	msgs     []model.Message
	bills    []model.Bill
	// commitsAtWrite records how many offsets were committed when a write landed
	src            *fakeSource
	commitsAtWrite []int
}

func (s *fakeStore) InsertMessages(_ context.Context, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("clickhouse: connection reset")
	}
	s.msgs = append(s.msgs, msgs...)
	if s.src != nil {
		s.commitsAtWrite = append(s.commitsAtWrite, len(s.src.Committed()))
	}
	return nil
}

func (s *fakeStore) InsertBills(_ context.Context, bills []model.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills = append(s.bills, bills...)
	return nil
}

func (s *fakeStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs), len(s.bills)
}

func envelopeMsg(t *testing.T, offset int64, env model.Envelope, err error) kafka.Message {
	t.Helper()
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func sample(t *testing.T) []kafka.Message {
	now := time.Now()
	m1, e1 := model.NewMessageEnvelope(model.Message{ID: "m1", UserID: "u", Status: model.MessageSent}, now)
	m2, e2 := model.NewMessageEnvelope(model.Message{ID: "m2", UserID: "u", Status: model.MessageFailed}, now)
	b1, e3 := model.NewBillEnvelope(model.Bill{ID: "b1", UserID: "u", Type: model.BillPayment, Amount: 100}, now)
	return []kafka.Message{
		envelopeMsg(t, 1, m1, e1),
		envelopeMsg(t, 2, m2, e2),
		envelopeMsg(t, 3, b1, e3),
		{Offset: 4, Value: []byte(`{not json`)},
		{Offset: 5, Value: []byte(`{"kind":"audit","id":"x"}`)},
	}
}

func runProjector(t *testing.T, p *Projector) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("projector did not stop")
		}
	}
}

func TestProjector_WritesThenCommits(t *testing.T) {
	src := newFakeSource(sample(t)...)
	store := &fakeStore{src: src}
	p := NewProjector(src, store, nil)
	p.BatchSize = 5
	p.BatchWait = time.Hour

	stop := runProjector(t, p)
	require.Eventually(t, func() bool { return len(src.Committed()) == 5 }, 2*time.Second, 10*time.Millisecond)
	stop()

	msgs, bills := store.counts()
	assert.Equal(t, 2, msgs)
	assert.Equal(t, 1, bills)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, src.Committed(), "poison records are committed and skipped")
	assert.Equal(t, []int{0}, store.commitsAtWrite, "nothing committed before the write")
}

func TestProjector_RetriesFailedWrites(t *testing.T) {
	src := newFakeSource(sample(t)[:3]...)
	store := &fakeStore{failures: 2}
	p := NewProjector(src, store, nil)
	p.BatchSize = 3
	p.RetryWait = 10 * time.Millisecond

	stop := runProjector(t, p)
	require.Eventually(t, func() bool { return len(src.Committed()) == 3 }, 2*time.Second, 10*time.Millisecond)
	stop()

	msgs, _ := store.counts()
	assert.Equal(t, 2, msgs)
}

func TestProjector_FlushesOnTimer(t *testing.T) {
	src := newFakeSource(sample(t)[:1]...)
	store := &fakeStore{}
	p := NewProjector(src, store, nil)
	p.BatchWait = 20 * time.Millisecond

	stop := runProjector(t, p)
	require.Eventually(t, func() bool { return len(src.Committed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()
}

func TestProjector_FlushesOnShutdown(t *testing.T) {
	src := newFakeSource(sample(t)[:2]...)
	store := &fakeStore{}
	p := NewProjector(src, store, nil)
	p.BatchWait = time.Hour

	stop := runProjector(t, p)
	require.Eventually(t, func() bool { return len(src.ch) == 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	msgs, _ := store.counts()
	assert.Equal(t, 2, msgs)
	assert.Len(t, src.Committed(), 2)
}

func TestProjector_RequiresDependencies(t *testing.T) {
	assert.Error(t, (&Projector{}).Run(context.Background()))
}
