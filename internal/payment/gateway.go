// Package payment is the client side of the external payment gateway.
package payment

import (
	"context"

	"github.com/jmehdipour/paysms/internal/model"
)

type ChargeRequest struct {
	OrderID        string
	Amount         model.Money
	IdempotencyKey string
}

type ChargeResult struct {
	Success       bool
	TransactionID string
	Reason        string
}

type RefundRequest struct {
	TransactionID string
	Amount        model.Money
}

type RefundResult struct {
	Success  bool
	RefundID string
	Reason   string
}

// Gateway charges and refunds orders. Charge is not idempotent on the order
// id from the gateway's point of view, so callers invoke it at most once per
// order; Refund is idempotent per transaction id.
//
// A returned error means the outcome is unknown (transport failure, open
// breaker); a definitive decline is a nil error with Success=false.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
