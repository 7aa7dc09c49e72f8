// Package app assembles the service from configuration. The serve command
// and the background workers share this wiring.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/paysms/internal/config"
	"github.com/jmehdipour/paysms/internal/db"
	"github.com/jmehdipour/paysms/internal/dispatcher"
	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/idempotency"
	"github.com/jmehdipour/paysms/internal/kafka"
	"github.com/jmehdipour/paysms/internal/ledger"
	"github.com/jmehdipour/paysms/internal/logger"
	"github.com/jmehdipour/paysms/internal/payment"
	"github.com/jmehdipour/paysms/internal/pricing"
	"github.com/jmehdipour/paysms/internal/reconcile"
	"github.com/jmehdipour/paysms/internal/refund"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/repository/memory"
	"github.com/jmehdipour/paysms/internal/scheduler"
	"github.com/jmehdipour/paysms/internal/workflow"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Config config.Config
	Log    *zap.Logger

	MySQL      *sqlx.DB      // nil with the memory storage driver
	ClickHouse *sqlx.DB      // nil unless clickhouse.dsn is set
	Redis      *redis.Client // nil unless redis.addr is set

	Orders      *ledger.Orders
	Bills       *ledger.Bills
	Messages    repository.MessagesRepository
	History     repository.HistoryReader
	Recorder    *history.Recorder
	Gateway     payment.Gateway
	Dispatch    dispatcher.Service
	Refunds     *refund.Compensator
	Scheduler   *scheduler.DispatchScheduler
	Workflow    *workflow.Workflow
	Reconciler  *reconcile.Reconciler
	Idempotency idempotency.Store

	closers []func() error
}

// Load reads configuration and builds the logger.
func Load(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// New connects the configured backends and wires every component. Close
// releases whatever was opened, also when New fails halfway.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg, log := a.Config, a.Log

	if err := a.connect(); err != nil {
		return err
	}

	var (
		orderRepo repository.OrdersRepository
		billRepo  repository.BillsRepository
		schedRepo repository.SchedulesRepository
	)
	if a.MySQL != nil {
		orderRepo = repository.NewOrdersRepository(a.MySQL)
		billRepo = repository.NewBillsRepository(a.MySQL)
		schedRepo = repository.NewSchedulesRepository(a.MySQL)
		a.Messages = repository.NewMessagesRepository(a.MySQL)
	} else {
		log.Warn("storage driver is memory: state is lost on restart")
		orderRepo = memory.NewOrders()
		billRepo = memory.NewBills()
		schedRepo = memory.NewSchedules()
		a.Messages = memory.NewMessages()
	}
	a.Orders = ledger.NewOrders(orderRepo)
	a.Bills = ledger.NewBills(billRepo)

	sink, reader, err := a.history()
	if err != nil {
		return err
	}
	a.History = reader
	a.Recorder = history.NewRecorder(sink, log)

	price, err := cfg.Pricing.Price()
	if err != nil {
		return err
	}
	calc, err := pricing.NewCalculator(cfg.Pricing.UnitChars, price)
	if err != nil {
		return err
	}

	a.Gateway = a.gateway()
	if a.Dispatch, err = a.dispatcher(); err != nil {
		return err
	}

	a.Refunds = refund.NewCompensator(a.Orders, a.Bills, a.Gateway, a.Recorder, log)
	a.Scheduler = scheduler.NewDispatchScheduler(schedRepo, nil, scheduler.Options{
		BatchSize: cfg.Scheduler.BatchSize,
		Lease:     cfg.Scheduler.Lease,
		Workers:   cfg.Scheduler.Workers,
	}, log.Named("scheduler"))

	a.Workflow = workflow.New(workflow.Deps{
		Calculator: calc,
		Orders:     a.Orders,
		Bills:      a.Bills,
		Messages:   a.Messages,
		Gateway:    a.Gateway,
		Dispatch:   a.Dispatch,
		Refunds:    a.Refunds,
		Scheduler:  a.Scheduler,
		History:    a.Recorder,
		Logger:     log.Named("workflow"),
	})
	a.Workflow.MaxContentChars = cfg.Content.MaxChars
	a.Workflow.RecoveryDelay = cfg.Scheduler.RecoveryDelay
	a.Scheduler.SetDispatcher(a.Workflow)

	a.Reconciler = reconcile.New(a.Orders, a.Messages, a.Bills, a.Refunds, reconcile.Options{
		Grace:     cfg.Reconciler.Grace,
		BatchSize: cfg.Reconciler.BatchSize,
	}, log.Named("reconciler"))

	if a.Redis != nil {
		a.Idempotency = idempotency.NewRedisStore(a.Redis, idempotency.RedisOpts{
			TTL:     cfg.Idempotency.TTL,
			LockTTL: cfg.Idempotency.LockTTL,
		})
	}

	return nil
}

func (a *App) connect() error {
	cfg := a.Config

	if cfg.Storage.Driver == "mysql" {
		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.MySQL = mysqlDB
		a.closers = append(a.closers, mysqlDB.Close)
	}

	if cfg.ClickHouse.DSN != "" {
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN: cfg.ClickHouse.DSN,
			PoolOpts: db.PoolOpts{
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			},
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		a.ClickHouse = chDB
		a.closers = append(a.closers, chDB.Close)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}
	return nil
}

// history picks the sink records are appended to and the reader the API
// serves from. Durable sinks are read back through ClickHouse.
func (a *App) history() (history.Sink, repository.HistoryReader, error) {
	cfg := a.Config
	topic := cfg.History.Topic
	if topic == "" {
		topic = history.DefaultTopic
	}

	if cfg.History.Sink == "memory" {
		mem := memory.NewHistory()
		return history.NewMemorySink(mem), mem, nil
	}

	var reader repository.HistoryReader = memory.NewHistory()
	if a.ClickHouse != nil {
		reader = repository.NewCHHistoryRepository(a.ClickHouse)
	} else {
		a.Log.Warn("clickhouse.dsn is empty: history reads return nothing")
	}

	switch cfg.History.Sink {
	case "kafka":
		producer := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: topic})
		a.closers = append(a.closers, producer.Close)
		return history.NewKafkaSink(producer), reader, nil
	case "outbox":
		if a.MySQL == nil {
			return nil, nil, errors.New("outbox history sink needs mysql")
		}
		return history.NewOutboxSink(repository.NewOutboxRepository(a.MySQL), topic), reader, nil
	default:
		return history.Discard, reader, nil
	}
}

func (a *App) gateway() payment.Gateway {
	pc := a.Config.Payment
	if pc.Driver == "fake" {
		a.Log.Warn("payment driver is fake: every charge is approved")
		return payment.NewFake()
	}
	return payment.NewHTTPGateway(payment.HTTPConfig{
		BaseURL:       pc.BaseURL,
		APIKey:        pc.APIKey,
		Timeout:       pc.Timeout,
		FailThreshold: pc.Breaker.FailThreshold,
		OpenFor:       time.Duration(pc.Breaker.OpenForMs) * time.Millisecond,
	})
}

func (a *App) dispatcher() (dispatcher.Service, error) {
	cfg := a.Config
	if cfg.Dispatcher.Driver == "fake" {
		a.Log.Warn("dispatcher driver is fake: nothing leaves the process")
		return dispatcher.NewFake(), nil
	}

	// providers → dispatcher
	var provs []dispatcher.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			dispatcher.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return dispatcher.NewDispatcher(provs, cfg.Dispatcher.MaxAttempts), nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
