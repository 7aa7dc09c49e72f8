// Package reconcile repairs orders left behind by interrupted sends: charged
// orders that never got linked to a message, and failed orders whose refund
// did not go through.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository"
	"go.uber.org/zap"
)

type Options struct {
	Grace     time.Duration // minimum age before an order is touched
	BatchSize int
}

type Report struct {
	Linked   int // paid orders whose message existed but was never linked
	Orphaned int // paid orders without a message, failed and refunded
	Refunded int // failed orders refunded on retry
	Deferred int // refunds still failing, left for the next tick
}

type Reconciler struct {
	orders   *ledger.Orders
	messages repository.MessagesRepository
	bills    *ledger.Bills
	refunds  *refund.Compensator
	log      *zap.Logger
	now      func() time.Time
	opts     Options
}

func New(orders *ledger.Orders, messages repository.MessagesRepository, bills *ledger.Bills, refunds *refund.Compensator, opts Options, log *zap.Logger) *Reconciler {
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{orders: orders, messages: messages, bills: bills, refunds: refunds, log: log, now: time.Now, opts: opts}
}

// Tick runs both sweeps once. Storage errors are collected and returned
// after the remaining orders were tried.
func (r *Reconciler) Tick(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	cutoff := r.now().Add(-r.opts.Grace)

	orphans, err := r.orders.ListUnlinkedPaid(ctx, cutoff, r.opts.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, o := range orphans {
		m, err := r.messages.GetByOrder(ctx, o.ID)
		if err == nil {
			// the message was written but never linked; its dispatch job
			// settles it, so only the link is repaired here
			if err := r.orders.LinkMessage(ctx, o.ID, m.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			r.log.Info("linked paid order to its message", zap.String("order_id", o.ID), zap.String("message_id", m.ID))
			metrics.ReconciledOrders.WithLabelValues("orphan", "linked").Inc()
			rep.Linked++
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		// the send may have died before its payment bill was written
		if _, err := r.bills.RecordPayment(ctx, o); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := r.orders.MarkFailed(ctx, o.ID); err != nil {
			if errors.Is(err, ledger.ErrInvalidTransition) {
				metrics.ReconciledOrders.WithLabelValues("orphan", "skipped").Inc()
				continue
			}
			errs = append(errs, err)
			continue
		}
		r.log.Warn("failing paid order without message", zap.String("order_id", o.ID))
		rep.Orphaned++
		outcome, err := r.refund(ctx, "orphan", o.ID)
		if err != nil {
			errs = append(errs, err)
		}
		if outcome == "failed" {
			rep.Deferred++
		}
	}

	failed, err := r.orders.ListFailed(ctx, cutoff, r.opts.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, o := range failed {
		outcome, err := r.refund(ctx, "refund", o.ID)
		switch {
		case err != nil:
			errs = append(errs, err)
		case outcome == "refunded":
			rep.Refunded++
		case outcome == "failed":
			rep.Deferred++
		}
	}

	return rep, errors.Join(errs...)
}

func (r *Reconciler) refund(ctx context.Context, sweep, orderID string) (string, error) {
	_, err := r.refunds.Refund(ctx, orderID)

	var outcome string
	switch {
	case err == nil:
		outcome = "refunded"
	case errors.Is(err, refund.ErrRefundFailed):
		outcome = "failed"
		r.log.Warn("refund still failing", zap.String("order_id", orderID), zap.Error(err))
	case errors.Is(err, refund.ErrNotRefundable):
		// settled elsewhere since it was listed
		outcome = "skipped"
	default:
		return "", err
	}
	metrics.ReconciledOrders.WithLabelValues(sweep, outcome).Inc()
	return outcome, nil
}

// Loop adapts Tick to a scheduler.Ticker callback.
func (r *Reconciler) Loop() func(context.Context) {
	return func(ctx context.Context) {
		rep, err := r.Tick(ctx)
		if err != nil {
			r.log.Error("reconcile tick failed", zap.Error(err))
		}
		if rep != (Report{}) {
			r.log.Info("reconcile tick",
				zap.Int("linked", rep.Linked),
				zap.Int("orphaned", rep.Orphaned),
				zap.Int("refunded", rep.Refunded),
				zap.Int("deferred", rep.Deferred),
			)
		}
	}
}
