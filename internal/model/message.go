package model

import "time"

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	return s == MessagePending || s == MessageSent || s == MessageFailed
}

// Terminal reports whether the message has reached its final state.
func (s MessageStatus) Terminal() bool {
	return s == MessageSent || s == MessageFailed
}

// Message is a paid send request and its delivery outcome.
type Message struct {
	ID             string        `db:"id"              json:"id"`
	UserID         string        `db:"user_id"         json:"user_id"`
	OrderID        string        `db:"order_id"        json:"order_id"`
	RecipientPhone string        `db:"recipient_phone" json:"recipient_phone"`
	Content        string        `db:"content"         json:"content"`
	CharCount      int           `db:"char_count"      json:"char_count"`
	Cost           Money         `db:"cost"            json:"cost"`
	Status         MessageStatus `db:"status"          json:"status"`
	ScheduledAt    *time.Time    `db:"scheduled_at"    json:"scheduled_at,omitempty"`
	SentAt         *time.Time    `db:"sent_at"         json:"sent_at,omitempty"`
	DispatchID     *string       `db:"dispatch_id"     json:"dispatch_id,omitempty"`
	FailedReason   *string       `db:"failed_reason"   json:"failed_reason,omitempty"`
	CreatedAt      time.Time     `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"      json:"updated_at"`

	// PersistHistory is the sender's choice to keep the message in history.
	PersistHistory bool `db:"persist_history" json:"-"`
}

// MessageOutcome carries the fields written when a message leaves Pending.
type MessageOutcome struct {
	Status       MessageStatus
	At           time.Time
	DispatchID   string
	FailedReason string
}
