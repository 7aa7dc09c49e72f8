package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/payment"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orderRepo *memory.Orders
	billRepo  *memory.Bills
	messages  *memory.Messages
	orders    *ledger.Orders
	gw        *payment.Fake
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{orderRepo: memory.NewOrders(), billRepo: memory.NewBills(), messages: memory.NewMessages(), gw: payment.NewFake()}
	f.wire(f.orderRepo)
	return f
}

func (f *fixture) wire(repo repository.OrdersRepository) {
	f.orders = ledger.NewOrders(repo)
	bills := ledger.NewBills(f.billRepo)
	f.rec = New(f.orders, f.messages, bills, refund.NewCompensator(f.orders, bills, f.gw, nil, nil), Options{Grace: time.Minute}, nil)
}

func (f *fixture) later() { f.rec.now = func() time.Time { return time.Now().Add(10 * time.Minute) } }

func (f *fixture) paid(t *testing.T, linked bool) model.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.Create(ctx, "user-1", 100, "sms")
	require.NoError(t, err)
	o, err = f.orders.MarkPaid(ctx, o.ID, time.Now(), "tx-"+o.ID)
	require.NoError(t, err)
	if linked {
		require.NoError(t, f.orders.LinkMessage(ctx, o.ID, "m-"+o.ID))
	}
	return o
}

func (f *fixture) failed(t *testing.T) model.Order {
	t.Helper()
	o := f.paid(t, true)
	o, err := f.orders.MarkFailed(context.Background(), o.ID)
	require.NoError(t, err)
	return o
}

func (f *fixture) status(t *testing.T, id string) model.OrderStatus {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestReconciler_RespectsGrace(t *testing.T) {
	f := newFixture(t)
	f.failed(t)
	f.paid(t, false)

	rep, err := f.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Zero(t, f.gw.RefundCount())
}

func TestReconciler_RefundsFailedOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.failed(t)
	f.later()

	rep, err := f.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Refunded: 1}, rep)
	assert.Equal(t, model.OrderRefunded, f.status(t, o.ID))

	bill, err := f.billRepo.Get(ctx, o.ID, model.BillRefund)
	require.NoError(t, err)
	assert.Equal(t, o.Amount, bill.Amount)
}

func TestReconciler_FailsAndRefundsOrphans(t *testing.T) {
	f := newFixture(t)
	orphan := f.paid(t, false)
	linked := f.paid(t, true)
	f.later()

	rep, err := f.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Orphaned: 1}, rep)
	assert.Equal(t, model.OrderRefunded, f.status(t, orphan.ID))
	assert.Equal(t, model.OrderPaid, f.status(t, linked.ID), "a scheduled message keeps its order")

	assert.Len(t, f.billRepo.ForOrder(orphan.ID), 2, "payment backfilled, then refunded")
}

func TestReconciler_LinksOrphanWhoseMessageExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.paid(t, false)
	require.NoError(t, f.messages.Insert(ctx, model.Message{ID: "m-1", OrderID: o.ID, Status: model.MessagePending}))
	f.later()

	rep, err := f.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Linked: 1}, rep)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, got.Status, "the message's dispatch job settles it")
	require.NotNil(t, got.MessageID)
	assert.Equal(t, "m-1", *got.MessageID)
	assert.Zero(t, f.gw.RefundCount())

	rep, err = f.rec.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
}

func TestReconciler_DeferredRefundIsRetried(t *testing.T) {
	f := newFixture(t)
	o := f.failed(t)
	f.gw.ScriptRefunds(false)
	f.later()

	rep, err := f.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Deferred: 1}, rep)
	assert.Equal(t, model.OrderFailed, f.status(t, o.ID))

	rep, err = f.rec.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Refunded: 1}, rep)
	assert.Equal(t, model.OrderRefunded, f.status(t, o.ID))
	assert.Equal(t, 2, f.gw.RefundCount())
}

type failingList struct{ *memory.Orders }

func (failingList) ListByStatus(context.Context, model.OrderStatus, time.Time, int) ([]model.Order, error) {
	return nil, errors.New("too many connections")
}

func TestReconciler_StorageErrorDoesNotStopOtherSweep(t *testing.T) {
	f := newFixture(t)
	f.wire(failingList{f.orderRepo})
	orphan := f.paid(t, false)
	f.later()

	rep, err := f.rec.Tick(context.Background())
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.Equal(t, 1, rep.Orphaned)
	assert.Equal(t, model.OrderRefunded, f.status(t, orphan.ID))
}

func TestReconciler_LoopSwallowsErrors(t *testing.T) {
	f := newFixture(t)
	f.wire(failingList{f.orderRepo})
	assert.NotPanics(t, func() { f.rec.Loop()(context.Background()) })
}
