package workflow

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository"
	"go.uber.org/zap"
)

// Dispatch delivers a pending message and settles its order. It is shared
// by the immediate path and the scheduler, and safe to call repeatedly:
// a message that already left Pending is returned unchanged, and a pending
// message whose order already settled is reconciled without dispatching.
func (w *Workflow) Dispatch(ctx context.Context, messageID string) (model.Message, error) {
	m, err := w.messages.Get(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return model.Message{}, storageErr("get message", err)
	}
	if m.Status != model.MessagePending {
		return m, nil
	}

	o, err := w.orders.Get(ctx, m.OrderID)
	if err != nil {
		return model.Message{}, err
	}
	if o.Status != model.OrderPaid {
		return w.reconcile(ctx, m, o)
	}

	res, err := w.dispatch.Send(ctx, m.RecipientPhone, m.Content)
	if err == nil && res.Success {
		o, err = w.orders.MarkCompleted(ctx, o.ID)
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return w.reconcile(ctx, m, o)
		}
		if err != nil {
			return model.Message{}, err
		}
		return w.settle(ctx, m, model.MessageOutcome{Status: model.MessageSent, At: w.now().UTC(), DispatchID: res.DispatchID})
	}

	reason := res.Reason
	if err != nil {
		reason = err.Error()
	}
	w.log.Info("dispatch failed",
		zap.String("message_id", m.ID),
		zap.String("order_id", o.ID),
		zap.String("provider", res.Provider),
		zap.String("reason", reason),
	)

	o, err = w.orders.MarkFailed(ctx, o.ID)
	if errors.Is(err, ledger.ErrInvalidTransition) {
		return w.reconcile(ctx, m, o)
	}
	if err != nil {
		return model.Message{}, err
	}
	return w.fail(ctx, m, o, reason)
}

// reconcile settles a pending message from the state its order already
// reached, without contacting the carrier.
func (w *Workflow) reconcile(ctx context.Context, m model.Message, o model.Order) (model.Message, error) {
	w.log.Info("reconciling pending message",
		zap.String("message_id", m.ID),
		zap.String("order_id", o.ID),
		zap.Stringer("order_status", o.Status),
	)

	switch o.Status {
	case model.OrderCompleted:
		return w.settle(ctx, m, model.MessageOutcome{Status: model.MessageSent, At: w.now().UTC()})
	case model.OrderFailed, model.OrderRefunded:
		return w.fail(ctx, m, o, "dispatch failed")
	default:
		return model.Message{}, fmt.Errorf("%w: message %s belongs to %s order %s",
			ledger.ErrInvalidTransition, m.ID, o.Status, o.ID)
	}
}

// maxFailedReason matches messages.failed_reason (VARCHAR(512)).
const maxFailedReason = 512

func clipReason(reason string) string {
	if utf8.RuneCountInString(reason) <= maxFailedReason {
		return reason
	}
	return string([]rune(reason)[:maxFailedReason-3]) + "..."
}

// fail settles the message as failed and compensates the charge. A refund
// failure leaves the order Failed for the refund sweep and is not returned.
func (w *Workflow) fail(ctx context.Context, m model.Message, o model.Order, reason string) (model.Message, error) {
	m, err := w.settle(ctx, m, model.MessageOutcome{Status: model.MessageFailed, At: w.now().UTC(), FailedReason: clipReason(reason)})
	if err != nil {
		return model.Message{}, err
	}

	if _, err := w.refunds.Refund(ctx, o.ID); err != nil {
		if !errors.Is(err, refund.ErrRefundFailed) {
			return m, err
		}
		w.log.Warn("refund deferred to reconciler", zap.String("order_id", o.ID), zap.Error(err))
	}
	return m, nil
}

// settle moves the message out of Pending. Losing the race to another
// settler returns the stored message.
func (w *Workflow) settle(ctx context.Context, m model.Message, out model.MessageOutcome) (model.Message, error) {
	ok, err := w.messages.Settle(ctx, m.ID, out)
	if err != nil {
		return model.Message{}, storageErr("settle message", err)
	}

	stored, err := w.messages.Get(ctx, m.ID)
	if err != nil {
		return model.Message{}, storageErr("get message", err)
	}
	if !ok {
		return stored, nil
	}

	metrics.MessagesTotal.WithLabelValues(stored.Status.String()).Inc()
	if stored.PersistHistory {
		_ = w.history.Message(ctx, stored)
	}
	return stored, nil
}
