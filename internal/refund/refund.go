// Package refund compensates the charge of an order whose dispatch failed.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/payment"
	"go.uber.org/zap"
)

var (
	ErrNotRefundable = errors.New("refund: order is not refundable")
	ErrRefundFailed  = errors.New("refund: gateway refund failed")
)

// FailedError is a non-fatal reconciliation fault: the order stays Failed
// and a later Refund call retries it.
type FailedError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("refund order %s: %v", e.OrderID, e.Err)
	}
	return fmt.Sprintf("refund order %s: %s", e.OrderID, e.Reason)
}

func (e *FailedError) Is(target error) bool { return target == ErrRefundFailed }

func (e *FailedError) Unwrap() error { return e.Err }

type Compensator struct {
	orders  *ledger.Orders
	bills   *ledger.Bills
	gateway payment.Gateway
	history *history.Recorder
	log     *zap.Logger
	now     func() time.Time
}

func NewCompensator(orders *ledger.Orders, bills *ledger.Bills, gw payment.Gateway, rec *history.Recorder, log *zap.Logger) *Compensator {
	if rec == nil {
		rec = history.NewRecorder(history.Discard, log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Compensator{orders: orders, bills: bills, gateway: gw, history: rec, log: log, now: time.Now}
}

// Refund reverses the charge of a Failed order and appends its refund bill.
// On an already Refunded order it returns the existing refund bill,
// re-appending it if an earlier run stopped before writing it.
func (c *Compensator) Refund(ctx context.Context, orderID string) (model.Bill, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return model.Bill{}, err
	}

	switch o.Status {
	case model.OrderRefunded:
		bill, err := c.finish(ctx, o)
		if err == nil {
			metrics.RefundsTotal.WithLabelValues("noop").Inc()
		}
		return bill, err
	case model.OrderFailed:
	default:
		return model.Bill{}, fmt.Errorf("%w: order %s is %s", ErrNotRefundable, o.ID, o.Status)
	}

	amount := o.Amount
	if pay, err := c.bills.Get(ctx, o.ID, model.BillPayment); err == nil {
		amount = pay.Amount
	} else if !errors.Is(err, ledger.ErrBillNotFound) {
		return model.Bill{}, err
	}

	var txID string
	if o.TransactionID != nil {
		txID = *o.TransactionID
	}

	res, err := c.gateway.Refund(ctx, payment.RefundRequest{TransactionID: txID, Amount: amount})
	switch {
	case err != nil:
		metrics.PaymentCalls.WithLabelValues("refund", "error").Inc()
		metrics.RefundsTotal.WithLabelValues("failed").Inc()
		return model.Bill{}, &FailedError{OrderID: o.ID, Err: err}
	case !res.Success:
		metrics.PaymentCalls.WithLabelValues("refund", "declined").Inc()
		metrics.RefundsTotal.WithLabelValues("failed").Inc()
		return model.Bill{}, &FailedError{OrderID: o.ID, Reason: res.Reason}
	}
	metrics.PaymentCalls.WithLabelValues("refund", "ok").Inc()

	o, err = c.orders.MarkRefunded(ctx, o.ID, c.now())
	if err != nil {
		return model.Bill{}, err
	}

	bill, err := c.finish(ctx, o)
	if err != nil {
		return model.Bill{}, err
	}
	metrics.RefundsTotal.WithLabelValues("refunded").Inc()
	c.log.Info("order refunded",
		zap.String("order_id", o.ID),
		zap.String("refund_id", res.RefundID),
		zap.Stringer("amount", bill.Amount),
	)
	return bill, nil
}

// finish appends the refund bill of a Refunded order. Appends are
// idempotent on (order, refund), so replays return the stored bill.
func (c *Compensator) finish(ctx context.Context, o model.Order) (model.Bill, error) {
	pay, err := c.bills.Get(ctx, o.ID, model.BillPayment)
	if errors.Is(err, ledger.ErrBillNotFound) {
		pay = model.Bill{Amount: o.Amount}
	} else if err != nil {
		return model.Bill{}, err
	}

	existing, err := c.bills.Get(ctx, o.ID, model.BillRefund)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ledger.ErrBillNotFound) {
		return model.Bill{}, err
	}

	bill, err := c.bills.RecordRefund(ctx, o, pay)
	if err != nil {
		return model.Bill{}, err
	}
	_ = c.history.Bill(ctx, bill)
	return bill, nil
}
