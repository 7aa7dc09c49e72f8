package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 60, cfg.Pricing.UnitChars)
	price, err := cfg.Pricing.Price()
	require.NoError(t, err)
	assert.Equal(t, model.Money(100), price)
	assert.Equal(t, 200, cfg.Content.MaxChars)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Lease)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RecoveryDelay)
	assert.Equal(t, "paysms.history", cfg.History.Topic)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  unit_chars: 70\nhttp:\n  addr: \":9000\"\n"), 0o600))
	t.Setenv("PAYSMS_PRICING_UNIT_PRICE", "0.50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Pricing.UnitChars)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	price, err := cfg.Pricing.Price()
	require.NoError(t, err)
	assert.Equal(t, model.Money(50), price)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"zero unit chars":     func(c *Config) { c.Pricing.UnitChars = 0 },
		"sub-cent price":      func(c *Config) { c.Pricing.UnitPrice = "0.001" },
		"free":                func(c *Config) { c.Pricing.UnitPrice = "0" },
		"mysql without dsn":   func(c *Config) { c.Storage.Driver = "mysql" },
		"unknown storage":     func(c *Config) { c.Storage.Driver = "sqlite" },
		"http payment no url": func(c *Config) { c.Payment.Driver = "http" },
		"http dispatcher":     func(c *Config) { c.Dispatcher.Driver = "http" },
		"kafka sink":          func(c *Config) { c.History.Sink = "kafka" },
		"outbox on memory":    func(c *Config) { c.History.Sink = "outbox" },
		"zero lease":          func(c *Config) { c.Scheduler.Lease = 0 },
		"no recovery delay":   func(c *Config) { c.Scheduler.RecoveryDelay = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			c.Providers = append([]ProviderConfig(nil), base.Providers...)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
