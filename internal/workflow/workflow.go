// Package workflow turns a send request into a priced, paid and dispatched
// message, compensating with a refund when dispatch fails.
package workflow

import (
	"context"
	"time"

	"github.com/jmehdipour/paysms/internal/dispatcher"
	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/payment"
	"github.com/jmehdipour/paysms/internal/pricing"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultMaxContentChars = 200
	DefaultRecoveryDelay   = 5 * time.Minute
)

// Scheduler persists a deferred dispatch of a message. Complete retires the
// job once the message is terminal.
type Scheduler interface {
	Schedule(ctx context.Context, messageID string, dueAt time.Time) error
	Complete(ctx context.Context, messageID string) error
}

type SendRequest struct {
	UserID         string
	Phone          string
	Content        string
	ScheduledAt    *time.Time
	PersistHistory bool
}

type Deps struct {
	Calculator *pricing.Calculator
	Orders     *ledger.Orders
	Bills      *ledger.Bills
	Messages   repository.MessagesRepository
	Gateway    payment.Gateway
	Dispatch   dispatcher.Service
	Refunds    *refund.Compensator
	Scheduler  Scheduler
	History    *history.Recorder
	Logger     *zap.Logger
}

type Workflow struct {
	calc      *pricing.Calculator
	orders    *ledger.Orders
	bills     *ledger.Bills
	messages  repository.MessagesRepository
	gateway   payment.Gateway
	dispatch  dispatcher.Service
	refunds   *refund.Compensator
	scheduler Scheduler
	history   *history.Recorder
	log       *zap.Logger
	now       func() time.Time

	MaxContentChars int
	// RecoveryDelay is how long an immediate message's fallback job waits
	// before the scheduler picks up a send that died mid-way.
	RecoveryDelay time.Duration
}

func New(d Deps) *Workflow {
	if d.Calculator == nil {
		d.Calculator = pricing.Default()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.History == nil {
		d.History = history.NewRecorder(history.Discard, d.Logger)
	}
	return &Workflow{
		calc:            d.Calculator,
		orders:          d.Orders,
		bills:           d.Bills,
		messages:        d.Messages,
		gateway:         d.Gateway,
		dispatch:        d.Dispatch,
		refunds:         d.Refunds,
		scheduler:       d.Scheduler,
		history:         d.History,
		log:             d.Logger,
		now:             time.Now,
		MaxContentChars: DefaultMaxContentChars,
		RecoveryDelay:   DefaultRecoveryDelay,
	}
}

// Send runs validate, price, order, charge, pay, create and then either
// schedules or dispatches. Each step consumes the previous step's outcome.
//
// Validation and payment failures are errors; a failed dispatch is a
// Message in status failed with its refund already attempted.
func (w *Workflow) Send(ctx context.Context, req SendRequest) (model.Message, error) {
	v, err := w.validate(req)
	if err != nil {
		return model.Message{}, err
	}

	o, err := w.openOrder(ctx, w.price(v))
	if err != nil {
		return model.Message{}, err
	}

	c, err := w.charge(ctx, o)
	if err != nil {
		return model.Message{}, err
	}

	// The charge went through; the rest runs to a terminal state even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	p, err := w.markPaid(ctx, c)
	if err != nil {
		return model.Message{}, err
	}

	cr, err := w.createMessage(ctx, p)
	if err != nil {
		return model.Message{}, err
	}

	if cr.scheduled {
		w.log.Info("message scheduled",
			zap.String("message_id", cr.msg.ID),
			zap.String("order_id", cr.msg.OrderID),
			zap.Time("scheduled_at", *cr.msg.ScheduledAt),
		)
		return cr.msg, nil
	}

	m, err := w.Dispatch(ctx, cr.msg.ID)
	if err != nil {
		// the fallback job retries once it is due
		return m, err
	}
	if m.Status.Terminal() {
		if err := w.scheduler.Complete(ctx, m.ID); err != nil {
			// the job fires later and finds the message settled
			w.log.Warn("retire fallback job", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
	return m, nil
}

type Quote struct {
	Chars int         `json:"chars"`
	Units int         `json:"units"`
	Cost  model.Money `json:"cost"`
}

// Quote prices content without creating anything.
func (w *Workflow) Quote(content string) (Quote, error) {
	chars, err := w.validateContent(content)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Chars: chars, Units: w.calc.Units(content), Cost: w.calc.Cost(content)}, nil
}
