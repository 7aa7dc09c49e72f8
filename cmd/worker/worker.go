package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/paysms/internal/app"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(schedulerCmd)
	cmd.AddCommand(reconcilerCmd)
	cmd.AddCommand(historyCmd)

	return cmd
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Dispatch scheduled messages when they fall due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd, "scheduler", func(a *app.App) (time.Duration, func(context.Context)) {
			return a.Config.Scheduler.Interval, a.Scheduler.Loop()
		})
	},
}

var reconcilerCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Retry failed refunds and fail charged orders that never got a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd, "reconciler", func(a *app.App) (time.Duration, func(context.Context)) {
			return a.Config.Reconciler.Interval, a.Reconciler.Loop()
		})
	},
}

// setup loads config, builds the app and returns a context cancelled on
// SIGINT/SIGTERM.
func setup(cmd *cobra.Command) (*app.App, context.Context, context.CancelFunc, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, log, err := app.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Storage.Driver != "mysql" {
		return nil, nil, nil, fmt.Errorf("workers need shared storage: storage.driver is %q", cfg.Storage.Driver)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return a, ctx, stop, nil
}

func runLoop(cmd *cobra.Command, name string, pick func(*app.App) (time.Duration, func(context.Context))) error {
	a, ctx, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer stop()

	interval, fn := pick(a)
	t, err := scheduler.NewTicker(name, interval, fn, a.Log)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	a.Log.Info(">> worker started", zap.String("worker", name), zap.Duration("interval", interval))
	t.Start(ctx)
	<-ctx.Done()
	t.Stop()
	return nil
}
