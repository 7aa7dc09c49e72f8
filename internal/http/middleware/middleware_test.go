package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func echoUser(c echo.Context) error {
	id, _ := UserIDFromCtx(c)
	return c.String(http.StatusOK, id)
}

func TestIdentityMiddleware(t *testing.T) {
	e := echo.New()
	e.GET("/", echoUser, IdentityMiddleware())

	rec := serve(e, "user-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "a:b").Code)
}

func TestRateLimitMiddleware_PerUserFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := echo.New()
	e.GET("/", echoUser, IdentityMiddleware(), RateLimitMiddleware(RateLimitConfig{
		Redis:          rdb,
		RPS:            2,
		RetryAfterHint: true,
		Now:            func() time.Time { return now },
	}))

	assert.Equal(t, http.StatusOK, serve(e, "u1").Code)
	assert.Equal(t, http.StatusOK, serve(e, "u1").Code)

	rec := serve(e, "u1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(e, "u2").Code, "limits are per user")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(e, "u1").Code, "next window")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := echo.New()
	e.GET("/", echoUser, IdentityMiddleware(), RateLimitMiddleware(RateLimitConfig{Redis: rdb, RPS: 1}))
	assert.Equal(t, http.StatusOK, serve(e, "u1").Code)
	assert.Equal(t, http.StatusOK, serve(e, "u1").Code)
}
