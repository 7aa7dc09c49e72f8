package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/kafka"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"go.uber.org/zap"
)

// Source is the consumer side the projector reads from.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Projector:
// - fetches history envelopes from Kafka,
// - batches them by size and time,
// - writes each batch to the history store, then commits its offsets.
//
// Delivery is at-least-once; the store dedupes by record id.
type Projector struct {
	Source Source
	Store  repository.HistoryWriter
	Log    *zap.Logger

	BatchSize int           // max envelopes per write
	BatchWait time.Duration // max time an envelope waits for its batch
	RetryWait time.Duration // pause between failed writes
}

func NewProjector(src Source, store repository.HistoryWriter, log *zap.Logger) *Projector {
	return &Projector{
		Source:    src,
		Store:     store,
		Log:       log,
		BatchSize: 500,
		BatchWait: time.Second,
		RetryWait: time.Second,
	}
}

// Run blocks until ctx is cancelled. Pending envelopes are flushed on the
// way out.
func (p *Projector) Run(ctx context.Context) error {
	if p.Source == nil || p.Store == nil {
		return errors.New("projector: source and store are required")
	}
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.BatchWait <= 0 {
		p.BatchWait = time.Second
	}
	if p.RetryWait <= 0 {
		p.RetryWait = time.Second
	}

	in := make(chan kafka.Message, p.BatchSize)
	go p.fetch(ctx, in)

	tick := time.NewTicker(p.BatchWait)
	defer tick.Stop()

	var (
		envs []model.Envelope
		raw  []kafka.Message
	)
	flush := func(ctx context.Context) {
		if len(raw) == 0 {
			return
		}
		if !p.write(ctx, envs) {
			return
		}
		if err := p.Source.Commit(ctx, raw...); err != nil {
			p.Log.Warn("projector: commit failed", zap.Error(err))
		}
		p.Log.Debug("projector: flushed", zap.Int("records", len(envs)), zap.Int("offsets", len(raw)))
		envs, raw = envs[:0], raw[:0]
	}

	add := func(m kafka.Message) {
		raw = append(raw, m)
		if env, ok := p.decode(m); ok {
			envs = append(envs, env)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for len(in) > 0 {
				add(<-in)
			}
			drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(drain)
			cancel()
			return nil

		case m := <-in:
			add(m)
			if len(raw) >= p.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

func (p *Projector) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := p.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Warn("projector: fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// decode rejects poison records; they are committed and skipped.
func (p *Projector) decode(m kafka.Message) (model.Envelope, bool) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ID == "" {
		p.Log.Warn("projector: bad envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return model.Envelope{}, false
	}
	if _, _, err := history.Split([]model.Envelope{env}); err != nil {
		p.Log.Warn("projector: bad envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return model.Envelope{}, false
	}
	return env, true
}

// write retries until the batch is stored or ctx ends.
func (p *Projector) write(ctx context.Context, envs []model.Envelope) bool {
	for {
		err := history.Project(ctx, p.Store, envs)
		if err == nil {
			return true
		}
		p.Log.Error("projector: write failed", zap.Int("records", len(envs)), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.RetryWait):
		}
	}
}
