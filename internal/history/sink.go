// Package history appends terminal messages and bills to the external
// history log. The workflow only writes here; reads go through
// repository.HistoryReader on the projected store.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/paysms/internal/kafka"
	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

const DefaultTopic = "paysms.history"

// Sink is an append-only log keyed by record id.
type Sink interface {
	Append(ctx context.Context, records ...model.Envelope) error
}

// Publisher is the producing side of a Kafka topic.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes envelopes keyed by record id.
type KafkaSink struct {
	pub Publisher
}

func NewKafkaSink(pub Publisher) *KafkaSink { return &KafkaSink{pub: pub} }

func (s *KafkaSink) Append(ctx context.Context, records ...model.Envelope) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", r.Kind, r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.ID),
			Value: b,
			Time:  r.OccurredAt,
		})
	}
	err := s.pub.Publish(ctx, msgs...)
	countAppend("kafka", len(records), err)
	return err
}

// OutboxSink writes envelopes to the MySQL outbox; Debezium relays them to
// the history topic.
type OutboxSink struct {
	repo  repository.OutboxRepository
	topic string
}

func NewOutboxSink(repo repository.OutboxRepository, topic string) *OutboxSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &OutboxSink{repo: repo, topic: topic}
}

func (s *OutboxSink) Append(ctx context.Context, records ...model.Envelope) error {
	events := make([]model.OutboxEvent, 0, len(records))
	for _, r := range records {
		ev, err := r.Outbox(s.topic)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	err := s.repo.Append(ctx, events...)
	countAppend("outbox", len(records), err)
	return err
}

// MemorySink projects envelopes straight into a history store. Used when
// running without Kafka and in tests.
type MemorySink struct {
	w repository.HistoryWriter
}

func NewMemorySink(w repository.HistoryWriter) *MemorySink { return &MemorySink{w: w} }

func (s *MemorySink) Append(ctx context.Context, records ...model.Envelope) error {
	err := Project(ctx, s.w, records)
	countAppend("memory", len(records), err)
	return err
}

type discard struct{}

func (discard) Append(context.Context, ...model.Envelope) error { return nil }

// Discard drops every record.
var Discard Sink = discard{}

func countAppend(sink string, n int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.HistoryAppends.WithLabelValues(sink, outcome).Add(float64(n))
}
