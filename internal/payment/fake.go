package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is a deterministic Gateway. Outcomes are scripted per call; when the
// script runs out the default outcome applies.
type Fake struct {
	mu sync.Mutex

	ChargeOK    bool
	RefundOK    bool
	ChargeErr   error
	RefundErr   error
	chargePlan  []bool
	refundPlan  []bool
	Charges     []ChargeRequest
	Refunds     []RefundRequest
	refundedTxs map[string]string
}

var _ Gateway = (*Fake)(nil)

// NewFake returns a gateway that approves every charge and refund.
func NewFake() *Fake {
	return &Fake{ChargeOK: true, RefundOK: true, refundedTxs: make(map[string]string)}
}

// ScriptCharges queues outcomes for the next Charge calls.
func (f *Fake) ScriptCharges(outcomes ...bool) {
	f.mu.Lock()
	f.chargePlan = append(f.chargePlan, outcomes...)
	f.mu.Unlock()
}

// ScriptRefunds queues outcomes for the next Refund calls.
func (f *Fake) ScriptRefunds(outcomes ...bool) {
	f.mu.Lock()
	f.refundPlan = append(f.refundPlan, outcomes...)
	f.mu.Unlock()
}

func (f *Fake) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Charges = append(f.Charges, req)
	if f.ChargeErr != nil {
		return ChargeResult{}, f.ChargeErr
	}

	ok := f.ChargeOK
	if len(f.chargePlan) > 0 {
		ok, f.chargePlan = f.chargePlan[0], f.chargePlan[1:]
	}
	if !ok {
		return ChargeResult{Reason: "card declined"}, nil
	}
	return ChargeResult{Success: true, TransactionID: "tx_" + uuid.NewString()}, nil
}

// Refund is idempotent per transaction id once it has succeeded.
func (f *Fake) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Refunds = append(f.Refunds, req)
	if id, ok := f.refundedTxs[req.TransactionID]; ok {
		return RefundResult{Success: true, RefundID: id}, nil
	}
	if f.RefundErr != nil {
		return RefundResult{}, f.RefundErr
	}

	ok := f.RefundOK
	if len(f.refundPlan) > 0 {
		ok, f.refundPlan = f.refundPlan[0], f.refundPlan[1:]
	}
	if !ok {
		return RefundResult{Reason: "refund rejected"}, nil
	}
	id := "rf_" + uuid.NewString()
	f.refundedTxs[req.TransactionID] = id
	return RefundResult{Success: true, RefundID: id}, nil
}

func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Charges)
}

func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}

// SetRefundOK changes the default refund outcome.
func (f *Fake) SetRefundOK(ok bool) {
	f.mu.Lock()
	f.RefundOK = ok
	f.mu.Unlock()
}
