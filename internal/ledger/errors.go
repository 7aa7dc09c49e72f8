package ledger

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/paysms/internal/model"
)

var (
	ErrOrderNotFound      = errors.New("ledger: order not found")
	ErrInvalidTransition  = errors.New("ledger: invalid order transition")
	ErrStorageUnavailable = errors.New("ledger: storage unavailable")
	ErrBillNotFound       = errors.New("ledger: bill not found")
)

// TransitionError reports a transition attempted from the wrong status.
type TransitionError struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
	Current model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: order %s cannot move %s -> %s (current %s)", e.OrderID, e.From, e.To, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
