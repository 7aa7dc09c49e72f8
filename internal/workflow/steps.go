package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/payment"
	"github.com/jmehdipour/paysms/internal/util"
	"go.uber.org/zap"
)

type validated struct {
	userID      string
	phone       string
	content     string
	chars       int
	scheduledAt *time.Time
	persist     bool
}

type priced struct {
	validated
	units int
	cost  model.Money
}

type opened struct {
	priced
	order model.Order
}

type charged struct {
	opened
	transactionID string
}

type paid struct {
	charged
	payment model.Bill
}

type created struct {
	paid
	msg       model.Message
	scheduled bool
}

func (w *Workflow) validate(req SendRequest) (validated, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return validated{}, &ValidationError{Field: "user_id", Reason: "missing"}
	}

	phone := util.NormalizePhone(req.Phone)
	if !util.IsMobile(phone) {
		return validated{}, &ValidationError{Field: "phone", Reason: "not a valid mobile number"}
	}

	chars, err := w.validateContent(req.Content)
	if err != nil {
		return validated{}, err
	}

	var at *time.Time
	if req.ScheduledAt != nil {
		t := req.ScheduledAt.UTC()
		if !t.After(w.now()) {
			return validated{}, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
		}
		at = &t
	}

	return validated{
		userID:      userID,
		phone:       phone,
		content:     req.Content,
		chars:       chars,
		scheduledAt: at,
		persist:     req.PersistHistory,
	}, nil
}

func (w *Workflow) validateContent(content string) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, &ValidationError{Field: "content", Reason: "empty"}
	}
	n := utf8.RuneCountInString(content)
	if w.MaxContentChars > 0 && n > w.MaxContentChars {
		return 0, &ValidationError{Field: "content", Reason: fmt.Sprintf("%d characters exceeds the limit of %d", n, w.MaxContentChars)}
	}
	return n, nil
}

func (w *Workflow) price(v validated) priced {
	return priced{validated: v, units: w.calc.Units(v.content), cost: w.calc.Cost(v.content)}
}

func (w *Workflow) openOrder(ctx context.Context, p priced) (opened, error) {
	desc := fmt.Sprintf("SMS to %s, %d chars, %d unit(s)", util.MaskPhone(p.phone), p.chars, p.units)
	o, err := w.orders.Create(ctx, p.userID, p.cost, desc)
	if err != nil {
		return opened{}, err
	}
	return opened{priced: p, order: o}, nil
}

// charge calls the gateway exactly once with a fresh idempotency key.
func (w *Workflow) charge(ctx context.Context, o opened) (charged, error) {
	res, err := w.gateway.Charge(ctx, payment.ChargeRequest{
		OrderID:        o.order.ID,
		Amount:         o.cost,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		metrics.PaymentCalls.WithLabelValues("charge", "error").Inc()
		w.log.Warn("charge failed", zap.String("order_id", o.order.ID), zap.Error(err))
		return charged{}, &PaymentFailedError{OrderID: o.order.ID, Err: err}
	}
	if !res.Success {
		metrics.PaymentCalls.WithLabelValues("charge", "declined").Inc()
		w.log.Info("charge declined", zap.String("order_id", o.order.ID), zap.String("reason", res.Reason))
		return charged{}, &PaymentFailedError{OrderID: o.order.ID, Reason: res.Reason}
	}
	metrics.PaymentCalls.WithLabelValues("charge", "ok").Inc()
	return charged{opened: o, transactionID: res.TransactionID}, nil
}

func (w *Workflow) markPaid(ctx context.Context, c charged) (paid, error) {
	o, err := w.orders.MarkPaid(ctx, c.order.ID, w.now(), c.transactionID)
	if err != nil {
		// the order stays pending with no transaction on record, so nothing
		// downstream would ever refund this charge
		w.rollbackCharge(ctx, c, err)
		return paid{}, err
	}
	c.order = o

	bill, err := w.bills.RecordPayment(ctx, o)
	if err != nil {
		return paid{}, err
	}
	_ = w.history.Bill(ctx, bill)

	return paid{charged: c, payment: bill}, nil
}

func (w *Workflow) rollbackCharge(ctx context.Context, c charged, cause error) {
	log := w.log.With(
		zap.String("order_id", c.order.ID),
		zap.String("transaction_id", c.transactionID),
		zap.Stringer("amount", c.cost),
	)

	res, err := w.gateway.Refund(ctx, payment.RefundRequest{TransactionID: c.transactionID, Amount: c.cost})
	switch {
	case err != nil:
		metrics.PaymentCalls.WithLabelValues("refund", "error").Inc()
		metrics.RefundsTotal.WithLabelValues("rollback_failed").Inc()
		log.Error("charge rollback failed, manual refund required", zap.NamedError("cause", cause), zap.Error(err))
	case !res.Success:
		metrics.PaymentCalls.WithLabelValues("refund", "declined").Inc()
		metrics.RefundsTotal.WithLabelValues("rollback_failed").Inc()
		log.Error("charge rollback declined, manual refund required", zap.NamedError("cause", cause), zap.String("reason", res.Reason))
	default:
		metrics.PaymentCalls.WithLabelValues("refund", "ok").Inc()
		metrics.RefundsTotal.WithLabelValues("rolled_back").Inc()
		log.Warn("charge rolled back, order could not be marked paid", zap.NamedError("cause", cause), zap.String("refund_id", res.RefundID))
	}
}

// createMessage persists the pending message. Every message gets its
// dispatch job first, so a message is never left without one: a scheduled
// message fires at its time, an immediate one gets a fallback job due after
// RecoveryDelay in case the process dies before the inline dispatch settles
// it. A job whose message was never written is dropped by the scheduler.
func (w *Workflow) createMessage(ctx context.Context, p paid) (created, error) {
	now := w.now().UTC()
	m := model.Message{
		ID:             util.NewAt(now),
		UserID:         p.userID,
		OrderID:        p.order.ID,
		RecipientPhone: p.phone,
		Content:        p.content,
		CharCount:      p.chars,
		Cost:           p.cost,
		Status:         model.MessagePending,
		ScheduledAt:    p.scheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		PersistHistory: p.persist,
	}

	scheduled := p.scheduledAt != nil
	dueAt := now.Add(w.RecoveryDelay)
	if scheduled {
		dueAt = *p.scheduledAt
	}
	if err := w.scheduler.Schedule(ctx, m.ID, dueAt); err != nil {
		return created{}, storageErr("schedule message", err)
	}

	if err := w.messages.Insert(ctx, m); err != nil {
		return created{}, storageErr("insert message", err)
	}
	if err := w.orders.LinkMessage(ctx, p.order.ID, m.ID); err != nil {
		return created{}, err
	}

	stage := "accepted"
	if scheduled {
		stage = "scheduled"
	}
	metrics.MessagesTotal.WithLabelValues(stage).Inc()

	return created{paid: p, msg: m, scheduled: scheduled}, nil
}
