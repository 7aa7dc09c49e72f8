package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type RecordKind string

const (
	RecordMessage RecordKind = "message"
	RecordBill    RecordKind = "bill"
)

// Envelope is the history record published to Kafka or written to the outbox.
type Envelope struct {
	Kind       RecordKind      `json:"kind"`
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewMessageEnvelope wraps a terminal message.
func NewMessageEnvelope(m Message, at time.Time) (Envelope, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: RecordMessage, ID: m.ID, UserID: m.UserID, OccurredAt: at.UTC(), Payload: b}, nil
}

// NewBillEnvelope wraps a bill.
func NewBillEnvelope(b Bill, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: RecordBill, ID: b.ID, UserID: b.UserID, OccurredAt: at.UTC(), Payload: raw}, nil
}

// OutboxEvent is one row of the outbox table. Debezium routes it by Topic and
// keys it by AggregateID.
type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`
	AggregateID string    `db:"aggregate_id"`
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}

// Outbox encodes the envelope as an outbox row for topic.
func (e Envelope) Outbox(topic string) (OutboxEvent, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s %s: %w", e.Kind, e.ID, err)
	}
	return OutboxEvent{
		Aggregate:   string(e.Kind),
		AggregateID: e.ID,
		Topic:       topic,
		Payload:     b,
		CreatedAt:   e.OccurredAt,
	}, nil
}
