package worker

import (
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/history"
	"github.com/jmehdipour/paysms/internal/kafka"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Project history records from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, stop, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		defer stop()

		if a.ClickHouse == nil {
			return errors.New("history worker needs clickhouse.dsn")
		}
		cfg := a.Config

		topic := cfg.History.Topic
		if topic == "" {
			topic = history.DefaultTopic
		}
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "paysms-history"
		}

		consumer := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		p := worker.NewProjector(consumer, repository.NewCHHistoryRepository(a.ClickHouse), a.Log.Named("projector"))
		// tune knobs
		if cfg.History.BatchSize > 0 {
			p.BatchSize = cfg.History.BatchSize
		}
		if cfg.History.FlushInterval > 0 {
			p.BatchWait = cfg.History.FlushInterval
		}

		a.Log.Info(">> history projector started",
			zap.String("topic", topic),
			zap.String("group", groupID),
			zap.Int("batch_size", p.BatchSize),
			zap.Duration("batch_wait", p.BatchWait),
		)
		return p.Run(ctx)
	},
}
