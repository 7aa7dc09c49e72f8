package history

import (
	"context"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"go.uber.org/zap"
)

// Recorder wraps terminal messages and bills into envelopes for a Sink.
// Append failures are logged and returned; the workflow never blocks a
// terminal outcome on them.
type Recorder struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	if sink == nil {
		sink = Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, log: log, now: time.Now}
}

func (r *Recorder) Message(ctx context.Context, m model.Message) error {
	env, err := model.NewMessageEnvelope(m, r.now())
	if err != nil {
		return err
	}
	return r.append(ctx, env)
}

func (r *Recorder) Bill(ctx context.Context, b model.Bill) error {
	env, err := model.NewBillEnvelope(b, r.now())
	if err != nil {
		return err
	}
	return r.append(ctx, env)
}

func (r *Recorder) append(ctx context.Context, env model.Envelope) error {
	if err := r.sink.Append(ctx, env); err != nil {
		r.log.Warn("history append failed",
			zap.String("kind", string(env.Kind)),
			zap.String("id", env.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
