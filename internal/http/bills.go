package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/paysms/internal/http/middleware"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/labstack/echo/v4"
)

func listBillsHandler(hist repository.HistoryReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		limit, offset := pageParams(c)

		var typ model.BillType
		if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
			typ = model.BillType(raw)
			if !typ.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid type"})
			}
		}

		bills, err := hist.ListBills(c.Request().Context(), userID, typ, limit, offset)
		if err != nil {
			c.Logger().Errorf("history list bills failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(bills),
			"results": bills,
		})
	}
}

func billSummaryHandler(hist repository.HistoryReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		sum, err := hist.Summary(c.Request().Context(), userID)
		if err != nil {
			c.Logger().Errorf("history summary failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, sum)
	}
}
