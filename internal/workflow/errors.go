package workflow

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/paysms/internal/ledger"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrMessageNotFound    = errors.New("message not found")
	ErrStorageUnavailable = ledger.ErrStorageUnavailable
)

// ValidationError is returned before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PaymentFailedError is returned when the charge was declined or its
// outcome is unknown. The order stays Pending and no message exists.
type PaymentFailedError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *PaymentFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment for order %s failed: %v", e.OrderID, e.Err)
	}
	return fmt.Sprintf("payment for order %s declined: %s", e.OrderID, e.Reason)
}

func (e *PaymentFailedError) Is(target error) bool { return target == ErrPaymentFailed }

func (e *PaymentFailedError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
