package app

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/paysms/internal/config"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaults(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryStackSendsEndToEnd(t *testing.T) {
	cfg := defaults(t)
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.MySQL)
	assert.Nil(t, a.Idempotency)

	ctx := context.Background()
	m, err := a.Workflow.Send(ctx, workflow.SendRequest{
		UserID: "u1", Phone: "13800000000", Content: "hello", PersistHistory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageSent, m.Status)

	msgs, err := a.History.ListMessages(ctx, "u1", "", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNew_AppliesContentLimitAndPricing(t *testing.T) {
	cfg := defaults(t)
	cfg.Content.MaxChars = 10
	cfg.Pricing.UnitChars = 5
	cfg.Pricing.UnitPrice = "0.10"

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	q, err := a.Workflow.Quote("123456")
	require.NoError(t, err)
	assert.Equal(t, "0.20", q.Cost.String())

	_, err = a.Workflow.Quote(strings.Repeat("x", 11))
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestNew_RedisEnablesIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := defaults(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Redis)
	assert.NotNil(t, a.Idempotency)
}

func TestNew_HTTPDispatcherNeedsProviders(t *testing.T) {
	cfg := defaults(t)
	cfg.Dispatcher.Driver = "http"

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}
