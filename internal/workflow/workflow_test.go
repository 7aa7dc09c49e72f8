package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/paysms/internal/dispatcher"
	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/payment"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduleCall struct {
	messageID string
	dueAt     time.Time
}

type recordingScheduler struct {
	calls     []scheduleCall
	completed []string
}

func (s *recordingScheduler) Schedule(_ context.Context, id string, at time.Time) error {
	s.calls = append(s.calls, scheduleCall{id, at})
	return nil
}

func (s *recordingScheduler) Complete(_ context.Context, id string) error {
	s.completed = append(s.completed, id)
	return nil
}

type env struct {
	orders   *memory.Orders
	bills    *memory.Bills
	messages *memory.Messages
	hist     *memory.History
	gw       *payment.Fake
	carrier  *dispatcher.Fake
	sched    *recordingScheduler
	wf       *Workflow
}

func newEnv() *env {
	e := &env{
		orders:   memory.NewOrders(),
		bills:    memory.NewBills(),
		messages: memory.NewMessages(),
		hist:     memory.NewHistory(),
		gw:       payment.NewFake(),
		carrier:  dispatcher.NewFake(),
		sched:    &recordingScheduler{},
	}
	e.wire()
	return e
}

func (e *env) wire() {
	orders := ledger.NewOrders(e.orders)
	bills := ledger.NewBills(e.bills)
	rec := history.NewRecorder(history.NewMemorySink(e.hist), nil)
	e.wf = New(Deps{
		Orders:    orders,
		Bills:     bills,
		Messages:  e.messages,
		Gateway:   e.gw,
		Dispatch:  e.carrier,
		Refunds:   refund.NewCompensator(orders, bills, e.gw, rec, nil),
		Scheduler: e.sched,
		History:   rec,
	})
}

func (e *env) billsOf(orderID string, typ model.BillType) []model.Bill {
	var out []model.Bill
	for _, b := range e.bills.ForOrder(orderID) {
		if b.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

func request(content string) SendRequest {
	return SendRequest{UserID: "user-1", Phone: "13800000000", Content: content, PersistHistory: true}
}

func TestSend_DeliveredImmediately(t *testing.T) {
	ctx := context.Background()
	e := newEnv()

	m, err := e.wf.Send(ctx, request(strings.Repeat("a", 60)))
	require.NoError(t, err)
	assert.Equal(t, model.MessageSent, m.Status)
	assert.Equal(t, "1.00", m.Cost.String())
	assert.Equal(t, 60, m.CharCount)
	require.NotNil(t, m.DispatchID)

	pays := e.billsOf(m.OrderID, model.BillPayment)
	require.Len(t, pays, 1)
	assert.Equal(t, "1.00", pays[0].Amount.String())
	assert.Empty(t, e.billsOf(m.OrderID, model.BillRefund))

	o, _ := e.orders.Get(ctx, m.OrderID)
	assert.Equal(t, model.OrderCompleted, o.Status)
	require.NotNil(t, o.MessageID)
	assert.Equal(t, m.ID, *o.MessageID)
	assert.Equal(t, 1, e.gw.ChargeCount())
}

func TestSend_DispatchFailureRefunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.carrier.Script(false)

	m, err := e.wf.Send(ctx, request(strings.Repeat("b", 60)))
	require.NoError(t, err, "dispatch failure is an outcome, not an error")
	assert.Equal(t, model.MessageFailed, m.Status)
	require.NotNil(t, m.FailedReason)

	pays := e.billsOf(m.OrderID, model.BillPayment)
	refs := e.billsOf(m.OrderID, model.BillRefund)
	require.Len(t, pays, 1)
	require.Len(t, refs, 1)
	assert.Equal(t, pays[0].Amount, refs[0].Amount)
	assert.Equal(t, "1.00", refs[0].Amount.String())

	o, _ := e.orders.Get(ctx, m.OrderID)
	assert.Equal(t, model.OrderRefunded, o.Status)
}

func TestSend_PaymentDeclinedLeavesOrderPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.gw.ScriptCharges(false)

	_, err := e.wf.Send(ctx, request("hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentFailed)

	var pf *PaymentFailedError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, "card declined", pf.Reason)

	assert.Empty(t, e.messages.All())
	assert.Zero(t, e.bills.Len())
	assert.Empty(t, e.carrier.Calls())

	o, _ := e.orders.Get(ctx, pf.OrderID)
	assert.Equal(t, model.OrderPending, o.Status)
}

func TestSend_ChargeTransportErrorIsPaymentFailed(t *testing.T) {
	e := newEnv()
	e.gw.ChargeErr = errors.New("i/o timeout")

	_, err := e.wf.Send(context.Background(), request("hello"))
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Empty(t, e.messages.All())
}

func TestSend_PastScheduleRejected(t *testing.T) {
	e := newEnv()
	past := time.Now().Add(-time.Minute)
	req := request("later")
	req.ScheduledAt = &past

	_, err := e.wf.Send(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, e.orders.All())
	assert.Zero(t, e.gw.ChargeCount())
}

func TestSend_ValidationHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name  string
		req   SendRequest
		field string
	}{
		{"bad phone", SendRequest{UserID: "u", Phone: "12345", Content: "x"}, "phone"},
		{"landline prefix", SendRequest{UserID: "u", Phone: "12800000000", Content: "x"}, "phone"},
		{"empty content", SendRequest{UserID: "u", Phone: "13800000000", Content: "   "}, "content"},
		{"too long", SendRequest{UserID: "u", Phone: "13800000000", Content: strings.Repeat("x", 201)}, "content"},
		{"no user", SendRequest{Phone: "13800000000", Content: "x"}, "user_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			_, err := e.wf.Send(context.Background(), tc.req)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
			assert.Empty(t, e.orders.All())
		})
	}
}

func TestSend_PhoneIsNormalised(t *testing.T) {
	e := newEnv()
	req := request("hi")
	req.Phone = "+86 138-0000-0000"

	m, err := e.wf.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "13800000000", m.RecipientPhone)
	assert.Equal(t, "13800000000", e.carrier.Calls()[0].Phone)
}

func TestSend_PricingBoundaries(t *testing.T) {
	for n, want := range map[int]string{1: "1.00", 60: "1.00", 61: "2.00", 120: "2.00", 121: "3.00", 200: "4.00"} {
		e := newEnv()
		m, err := e.wf.Send(context.Background(), request(strings.Repeat("字", n)))
		require.NoError(t, err)
		assert.Equal(t, want, m.Cost.String(), "chars=%d", n)
	}
}

func TestSend_ScheduledStaysPending(t *testing.T) {
	e := newEnv()
	at := time.Now().Add(time.Hour)
	req := request("tomorrow")
	req.ScheduledAt = &at

	m, err := e.wf.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.MessagePending, m.Status)
	assert.Empty(t, e.carrier.Calls())

	require.Len(t, e.sched.calls, 1)
	assert.Equal(t, m.ID, e.sched.calls[0].messageID)
	assert.True(t, at.UTC().Equal(e.sched.calls[0].dueAt))
	assert.Empty(t, e.sched.completed)

	o, _ := e.orders.Get(context.Background(), m.OrderID)
	assert.Equal(t, model.OrderPaid, o.Status)
	assert.Len(t, e.billsOf(m.OrderID, model.BillPayment), 1)
}

func TestDispatch_RepeatedCallsHaveNoEffect(t *testing.T) {
	ctx := context.Background()
	for _, ok := range []bool{true, false} {
		e := newEnv()
		e.carrier.Default = ok

		m, err := e.wf.Send(ctx, request("once"))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			again, err := e.wf.Dispatch(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, m.Status, again.Status)
		}
		assert.Len(t, e.carrier.Calls(), 1)
		assert.Equal(t, 1, e.gw.ChargeCount())
		assert.LessOrEqual(t, e.gw.RefundCount(), 1)
		assert.LessOrEqual(t, len(e.bills.ForOrder(m.OrderID)), 2)
	}
}

func TestDispatch_UnknownMessage(t *testing.T) {
	_, err := newEnv().wf.Dispatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDispatch_ReconcilesSettledOrderWithoutCarrier(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	at := time.Now().Add(time.Hour)
	req := request("crash recovery")
	req.ScheduledAt = &at
	m, err := e.wf.Send(ctx, req)
	require.NoError(t, err)

	// simulate a crash between completing the order and settling the message
	_, err = e.wf.orders.MarkCompleted(ctx, m.OrderID)
	require.NoError(t, err)

	got, err := e.wf.Dispatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageSent, got.Status)
	assert.Empty(t, e.carrier.Calls())
}

func TestDispatch_RefundFailureIsDeferred(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.carrier.Script(false)
	e.gw.ScriptRefunds(false)

	m, err := e.wf.Send(ctx, request("no luck"))
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, m.Status)

	o, _ := e.orders.Get(ctx, m.OrderID)
	assert.Equal(t, model.OrderFailed, o.Status, "left for the refund sweep")
	assert.Empty(t, e.billsOf(m.OrderID, model.BillRefund))
}

func TestDispatch_CarrierErrorIsFailure(t *testing.T) {
	e := newEnv()
	e.carrier.Err = dispatcher.ErrNoHealthy

	m, err := e.wf.Send(context.Background(), request("hi"))
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, m.Status)
	assert.Contains(t, *m.FailedReason, "no healthy providers")
}

func TestDispatch_LongCarrierErrorIsClipped(t *testing.T) {
	e := newEnv()
	e.carrier.Err = errors.New(strings.Repeat("错", 2000))

	m, err := e.wf.Send(context.Background(), request("hi"))
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, m.Status)
	require.NotNil(t, m.FailedReason)
	assert.Equal(t, maxFailedReason, utf8.RuneCountInString(*m.FailedReason))
	assert.True(t, strings.HasSuffix(*m.FailedReason, "..."))
	assert.Len(t, e.billsOf(m.OrderID, model.BillRefund), 1)
}

func TestSend_HistoryRespectsPersistFlag(t *testing.T) {
	ctx := context.Background()

	e := newEnv()
	m, err := e.wf.Send(ctx, request("kept"))
	require.NoError(t, err)
	msgs, _ := e.hist.ListMessages(ctx, "user-1", "", "", 10, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)

	e = newEnv()
	req := request("not kept")
	req.PersistHistory = false
	_, err = e.wf.Send(ctx, req)
	require.NoError(t, err)
	msgs, _ = e.hist.ListMessages(ctx, "user-1", "", "", 10, 0)
	assert.Empty(t, msgs)

	bills, _ := e.hist.ListBills(ctx, "user-1", "", 10, 0)
	assert.Len(t, bills, 1, "bills are always recorded")
}

type brokenMessages struct{ *memory.Messages }

func (brokenMessages) Insert(context.Context, model.Message) error {
	return errors.New("deadlock found")
}

func TestSend_StorageFailureIsFatal(t *testing.T) {
	e := newEnv()
	orders := ledger.NewOrders(e.orders)
	bills := ledger.NewBills(e.bills)
	e.wf = New(Deps{
		Orders:    orders,
		Bills:     bills,
		Messages:  brokenMessages{e.messages},
		Gateway:   e.gw,
		Dispatch:  e.carrier,
		Refunds:   refund.NewCompensator(orders, bills, e.gw, nil, nil),
		Scheduler: e.sched,
	})

	_, err := e.wf.Send(context.Background(), request("x"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, e.carrier.Calls())
}

func TestSend_ImmediateMessageRetiresFallbackJob(t *testing.T) {
	e := newEnv()
	before := time.Now().UTC()

	m, err := e.wf.Send(context.Background(), request("now please"))
	require.NoError(t, err)
	assert.Equal(t, model.MessageSent, m.Status)

	require.Len(t, e.sched.calls, 1)
	assert.Equal(t, m.ID, e.sched.calls[0].messageID)
	assert.False(t, e.sched.calls[0].dueAt.Before(before.Add(DefaultRecoveryDelay)))
	assert.Equal(t, []string{m.ID}, e.sched.completed)
}

type unpayableOrders struct{ *memory.Orders }

func (unpayableOrders) Transition(_ context.Context, _ string, tr model.OrderTransition) (bool, error) {
	if tr.To == model.OrderPaid {
		return false, errors.New("lock wait timeout exceeded")
	}
	return true, nil
}

func TestSend_ChargeRolledBackWhenOrderCannotBeMarkedPaid(t *testing.T) {
	for name, refundErr := range map[string]error{
		"rolled back":     nil,
		"rollback failed": errors.New("gateway unreachable"),
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv()
			e.gw.RefundErr = refundErr
			orders := ledger.NewOrders(unpayableOrders{e.orders})
			bills := ledger.NewBills(e.bills)
			e.wf = New(Deps{
				Orders:    orders,
				Bills:     bills,
				Messages:  e.messages,
				Gateway:   e.gw,
				Dispatch:  e.carrier,
				Refunds:   refund.NewCompensator(orders, bills, e.gw, nil, nil),
				Scheduler: e.sched,
			})

			_, err := e.wf.Send(context.Background(), request(strings.Repeat("x", 61)))
			assert.ErrorIs(t, err, ErrStorageUnavailable)

			require.Equal(t, 1, e.gw.ChargeCount())
			require.Equal(t, 1, e.gw.RefundCount())
			assert.True(t, strings.HasPrefix(e.gw.Refunds[0].TransactionID, "tx_"))
			assert.Equal(t, e.gw.Charges[0].Amount, e.gw.Refunds[0].Amount)
			assert.Equal(t, "2.00", e.gw.Refunds[0].Amount.String())

			assert.Empty(t, e.sched.calls)
			assert.Empty(t, e.carrier.Calls())
		})
	}
}

func TestQuote(t *testing.T) {
	q, err := newEnv().wf.Quote(strings.Repeat("x", 61))
	require.NoError(t, err)
	assert.Equal(t, 61, q.Chars)
	assert.Equal(t, 2, q.Units)
	assert.Equal(t, "2.00", q.Cost.String())

	_, err = newEnv().wf.Quote("")
	assert.ErrorIs(t, err, ErrValidation)
}
