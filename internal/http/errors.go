package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/paysms/internal/idempotency"
	"github.com/jmehdipour/paysms/internal/workflow"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// writeSendError maps workflow errors onto status codes.
func writeSendError(c echo.Context, err error) error {
	var (
		ve *workflow.ValidationError
		pf *workflow.PaymentFailedError
	)
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":  "validation_failed",
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	case errors.As(err, &pf):
		body := map[string]string{"error": "payment_failed", "order_id": pf.OrderID}
		if pf.Reason != "" {
			body["reason"] = pf.Reason
		}
		return c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, idempotency.ErrInFlight):
		return c.JSON(http.StatusConflict, map[string]string{"error": "request in flight"})
	case errors.Is(err, idempotency.ErrUnresolved):
		return c.JSON(http.StatusConflict, map[string]string{"error": "earlier request did not complete"})
	case errors.Is(err, workflow.ErrStorageUnavailable):
		log.Errorf("send failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
	default:
		log.Errorf("send failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
