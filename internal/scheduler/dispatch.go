package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/workflow"
	"go.uber.org/zap"
)

// Dispatcher runs the dispatch-then-settle step for one message.
type Dispatcher interface {
	Dispatch(ctx context.Context, messageID string) (model.Message, error)
}

type Options struct {
	BatchSize int           // jobs claimed per tick
	Lease     time.Duration // how long a claim holds before another instance may take it
	Workers   int           // concurrent dispatches per tick
}

// DispatchScheduler fires scheduled messages once they are due. Any number
// of instances may tick against the same store: claims are atomic and
// Dispatch is a no-op for messages that already left Pending.
type DispatchScheduler struct {
	repo repository.SchedulesRepository
	disp Dispatcher
	log  *zap.Logger
	now  func() time.Time
	opts Options
}

var _ workflow.Scheduler = (*DispatchScheduler)(nil)

func NewDispatchScheduler(repo repository.SchedulesRepository, disp Dispatcher, opts Options, log *zap.Logger) *DispatchScheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DispatchScheduler{repo: repo, disp: disp, log: log, now: time.Now, opts: opts}
}

// SetDispatcher wires the dispatcher after construction; the workflow and
// the scheduler reference each other.
func (s *DispatchScheduler) SetDispatcher(d Dispatcher) { s.disp = d }

// Schedule stores a waiting job for messageID due at dueAt.
func (s *DispatchScheduler) Schedule(ctx context.Context, messageID string, dueAt time.Time) error {
	return s.repo.Insert(ctx, model.ScheduledDispatch{
		MessageID: messageID,
		DueAt:     dueAt.UTC(),
		State:     model.DispatchWaiting,
		CreatedAt: s.now().UTC(),
	})
}

// Complete marks the job of messageID done so it is never claimed.
func (s *DispatchScheduler) Complete(ctx context.Context, messageID string) error {
	return s.repo.Complete(ctx, messageID, s.now().UTC())
}

// Tick claims due jobs and dispatches them. It returns the number of jobs
// that reached a terminal outcome.
func (s *DispatchScheduler) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now().UTC()
	jobs, err := s.repo.ClaimDue(ctx, now, s.opts.BatchSize, s.opts.Lease)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	metrics.SchedulerClaimed.Add(float64(len(jobs)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
		sem  = make(chan struct{}, s.opts.Workers)
	)
	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job model.ScheduledDispatch) {
			defer func() { <-sem; wg.Done() }()
			if s.run(ctx, job) {
				mu.Lock()
				done++
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()

	s.log.Info("scheduler tick", zap.Int("claimed", len(jobs)), zap.Int("done", done))
	return done, nil
}

// Loop returns a tick function for a Ticker.
func (s *DispatchScheduler) Loop() func(context.Context) {
	return func(ctx context.Context) {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error("scheduler tick failed", zap.Error(err))
		}
	}
}

func (s *DispatchScheduler) run(ctx context.Context, job model.ScheduledDispatch) bool {
	log := s.log.With(zap.String("message_id", job.MessageID), zap.Int("attempt", job.Attempts))

	m, err := s.disp.Dispatch(ctx, job.MessageID)
	switch {
	case err == nil && m.Status.Terminal():
		s.complete(ctx, job)
		return true
	case errors.Is(err, workflow.ErrMessageNotFound) && s.now().Sub(job.CreatedAt) > s.opts.Lease:
		log.Warn("dropping job for unknown message")
		s.complete(ctx, job)
		return true
	case err != nil:
		log.Error("scheduled dispatch failed, releasing", zap.Error(err))
	default:
		log.Warn("message still pending after dispatch, releasing")
	}

	if rerr := s.repo.Release(ctx, job.MessageID, s.now().UTC()); rerr != nil {
		log.Error("release job", zap.Error(rerr))
	}
	return false
}

func (s *DispatchScheduler) complete(ctx context.Context, job model.ScheduledDispatch) {
	if err := s.Complete(ctx, job.MessageID); err != nil {
		// the lease expires and the next claim finds the message settled
		s.log.Error("complete job", zap.String("message_id", job.MessageID), zap.Error(err))
	}
}
