package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/paysms/internal/http/middleware"
	"github.com/jmehdipour/paysms/internal/idempotency"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/util"
	"github.com/jmehdipour/paysms/internal/workflow"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type sendReq struct {
	Phone          string     `json:"phone"`
	Content        string     `json:"content"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	PersistHistory *bool      `json:"persist_history"` // default true
}

type quoteReq struct {
	Content string `json:"content"`
}

func sendMessageHandler(wf *workflow.Workflow, msgs repository.MessagesRepository, idem idempotency.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ctx := c.Request().Context()
		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		if idem == nil {
			key = ""
		}
		if key != "" {
			id, replay, err := idem.Begin(ctx, userID, key)
			if err != nil {
				return writeSendError(c, err)
			}
			if replay {
				m, err := msgs.Get(ctx, id)
				if err != nil {
					log.Errorf("idempotent replay of %s: %v", id, err)
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
				}
				c.Response().Header().Set("Idempotent-Replayed", "true")
				return c.JSON(http.StatusOK, m)
			}
		}

		persist := true
		if req.PersistHistory != nil {
			persist = *req.PersistHistory
		}

		m, err := wf.Send(ctx, workflow.SendRequest{
			UserID:         userID,
			Phone:          req.Phone,
			Content:        req.Content,
			ScheduledAt:    req.ScheduledAt,
			PersistHistory: persist,
		})
		if err != nil {
			// Nothing was charged for these, so the key may be reused. Any
			// other failure may follow a charge and holds the key for its
			// full TTL.
			if key != "" {
				if errors.Is(err, workflow.ErrValidation) || errors.Is(err, workflow.ErrPaymentFailed) {
					if aerr := idem.Abort(ctx, userID, key); aerr != nil {
						log.Warnf("release idempotency key: %v", aerr)
					}
				} else if herr := idem.Hold(ctx, userID, key); herr != nil {
					log.Warnf("hold idempotency key: %v", herr)
				}
			}
			return writeSendError(c, err)
		}

		if key != "" {
			if err := idem.Complete(ctx, userID, key, m.ID); err != nil {
				log.Warnf("record idempotency key: %v", err)
			}
		}

		status := http.StatusCreated
		if m.Status == model.MessagePending {
			status = http.StatusAccepted
		}
		return c.JSON(status, m)
	}
}

func quoteHandler(wf *workflow.Workflow) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req quoteReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		q, err := wf.Quote(req.Content)
		if err != nil {
			return writeSendError(c, err)
		}
		return c.JSON(http.StatusOK, q)
	}
}

// getMessageHandler reports a message's current delivery status from the
// live store, including messages kept out of history. Other users' messages
// are reported as missing.
func getMessageHandler(msgs repository.MessagesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		m, err := msgs.Get(c.Request().Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) || (err == nil && m.UserID != userID) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found"})
		}
		if err != nil {
			c.Logger().Errorf("get message failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		}
		return c.JSON(http.StatusOK, m)
	}
}

func listMessagesHandler(hist repository.HistoryReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		limit, offset := pageParams(c)

		var st model.MessageStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st = model.MessageStatus(raw)
			if !st.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
		}
		phone := util.NormalizePhone(c.QueryParam("phone"))

		msgs, err := hist.ListMessages(c.Request().Context(), userID, st, phone, limit, offset)
		if err != nil {
			c.Logger().Errorf("history list messages failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}

func pageParams(c echo.Context) (int, int) {
	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
