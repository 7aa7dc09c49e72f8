package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/paysms/internal/app"
	httpSrv "github.com/jmehdipour/paysms/internal/http"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (and, if enabled, the scheduler and reconciler loops)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		server := httpSrv.NewServer(httpSrv.Deps{
			Workflow:    a.Workflow,
			Messages:    a.Messages,
			History:     a.History,
			Idempotency: a.Idempotency,
			Redis:       a.Redis,
			RateLimit:   cfg.RateLimit.RPS,
			Logger:      log.Named("http"),
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var loops []*scheduler.Ticker
		if cfg.Scheduler.Enabled {
			t, err := scheduler.NewTicker("scheduler", cfg.Scheduler.Interval, a.Scheduler.Loop(), log)
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			loops = append(loops, t)
		}
		if cfg.Reconciler.Enabled {
			t, err := scheduler.NewTicker("reconciler", cfg.Reconciler.Interval, a.Reconciler.Loop(), log)
			if err != nil {
				return fmt.Errorf("reconciler: %w", err)
			}
			loops = append(loops, t)
		}
		for _, t := range loops {
			t.Start(ctx)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		for _, t := range loops {
			t.Stop()
		}

		return nil
	},
}
