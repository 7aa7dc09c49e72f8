// Package kafka wraps segmentio/kafka-go readers and writers with the
// defaults used across the service.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on Commit
	MaxWait        time.Duration // default 250ms
	BatchTimeout   time.Duration // writer only, default 10ms
	RequiredAcks   int           // writer only, default all (-1)
}

// Consumer is a consumer-group reader with explicit commits.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c Config) *Consumer {
	minBytes := c.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = 250 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: c.CommitInterval,
		MaxWait:        maxWait,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }

// Producer publishes keyed messages to one topic. Messages with the same key
// land on the same partition, so per-record ordering holds.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c Config) *Producer {
	batchTimeout := c.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	acks := kafka.RequireAll
	if c.RequiredAcks == 1 {
		acks = kafka.RequireOne
	}

	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
