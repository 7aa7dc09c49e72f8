package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	HeaderUserID = "X-User-ID"
	ctxUserID    = "user_id"
	maxUserIDLen = 64
)

// UserIDFromCtx extracts the caller id set by IdentityMiddleware.
func UserIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxUserID).(string)
	return id, ok && id != ""
}

// IdentityMiddleware trusts the opaque user id that the upstream auth layer
// puts in X-User-ID. Requests without one are rejected.
func IdentityMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
			if id == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing user id"})
			}
			if len(id) > maxUserIDLen || strings.ContainsAny(id, ": \t") {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user id"})
			}
			c.Set(ctxUserID, id)
			return next(c)
		}
	}
}
