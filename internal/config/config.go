package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Storage     StorageConfig     `mapstructure:"storage"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Content     ContentConfig     `mapstructure:"content"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Providers   []ProviderConfig  `mapstructure:"providers"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	History     HistoryConfig     `mapstructure:"history"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mysql|memory
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type PricingConfig struct {
	UnitChars int    `mapstructure:"unit_chars"`
	UnitPrice string `mapstructure:"unit_price"` // decimal, e.g. "1.00"
}

// Price returns the configured unit price in minor units.
func (p PricingConfig) Price() (model.Money, error) {
	return model.ParseMoney(p.UnitPrice)
}

type ContentConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type PaymentConfig struct {
	Driver  string        `mapstructure:"driver"` // http|fake
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type DispatcherConfig struct {
	Driver      string `mapstructure:"driver"` // http|fake
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"` // run inside serve
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Lease     time.Duration `mapstructure:"lease"`
	Workers   int           `mapstructure:"workers"`
	// fallback job delay for immediate sends, picked up if the inline
	// dispatch never settles the message
	RecoveryDelay time.Duration `mapstructure:"recovery_delay"`
}

type ReconcilerConfig struct {
	Enabled   bool          `mapstructure:"enabled"` // run inside serve
	Interval  time.Duration `mapstructure:"interval"`
	Grace     time.Duration `mapstructure:"grace"`
	BatchSize int           `mapstructure:"batch_size"`
}

type HistoryConfig struct {
	Sink          string        `mapstructure:"sink"` // kafka|outbox|memory|discard
	Topic         string        `mapstructure:"topic"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type IdempotencyConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Load reads embedded defaults, merges user YAML (if present), and applies env overrides (PAYSMS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	// env override, e.g. PAYSMS_MYSQL_DSN for mysql.dsn
	v.SetEnvPrefix("PAYSMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Pricing.UnitChars > 0, "pricing.unit_chars must be > 0")
	if price, err := c.Pricing.Price(); err != nil {
		errs = append(errs, fmt.Errorf("pricing.unit_price: %w", err))
	} else {
		check(price > 0, "pricing.unit_price must be > 0")
	}
	check(c.Content.MaxChars > 0, "content.max_chars must be > 0")

	check(oneOf(c.Storage.Driver, "mysql", "memory"), "storage.driver %q: want mysql or memory", c.Storage.Driver)
	if c.Storage.Driver == "mysql" {
		check(c.MySQL.DSN != "", "mysql.dsn is required for the mysql storage driver")
	}

	check(oneOf(c.Payment.Driver, "http", "fake"), "payment.driver %q: want http or fake", c.Payment.Driver)
	if c.Payment.Driver == "http" {
		check(c.Payment.BaseURL != "", "payment.base_url is required for the http payment driver")
	}

	check(oneOf(c.Dispatcher.Driver, "http", "fake"), "dispatcher.driver %q: want http or fake", c.Dispatcher.Driver)
	if c.Dispatcher.Driver == "http" {
		enabled := 0
		for _, p := range c.Providers {
			if p.Enabled {
				enabled++
				check(p.BaseURL != "", "providers[%s].base_url is required", p.Name)
			}
		}
		check(enabled > 0, "at least one provider must be enabled for the http dispatcher")
	}

	check(c.Scheduler.Interval > 0, "scheduler.interval must be > 0")
	check(c.Scheduler.Lease > 0, "scheduler.lease must be > 0")
	check(c.Scheduler.RecoveryDelay > 0, "scheduler.recovery_delay must be > 0")
	check(c.Reconciler.Interval > 0, "reconciler.interval must be > 0")
	check(c.Reconciler.Grace > 0, "reconciler.grace must be > 0")

	check(oneOf(c.History.Sink, "kafka", "outbox", "memory", "discard"),
		"history.sink %q: want kafka, outbox, memory or discard", c.History.Sink)
	switch c.History.Sink {
	case "kafka":
		check(len(c.Kafka.Brokers) > 0, "kafka.brokers is required for the kafka history sink")
	case "outbox":
		check(c.Storage.Driver == "mysql", "the outbox history sink needs the mysql storage driver")
	}

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
