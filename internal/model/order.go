package model

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderCompleted, OrderFailed, OrderRefunded:
		return true
	}
	return false
}

// Order is the billing unit behind one Message. Amount never changes after creation.
type Order struct {
	ID            string      `db:"id"             json:"id"`
	UserID        string      `db:"user_id"        json:"user_id"`
	Amount        Money       `db:"amount"         json:"amount"`
	Status        OrderStatus `db:"status"         json:"status"`
	Description   string      `db:"description"    json:"description"`
	TransactionID *string     `db:"transaction_id" json:"transaction_id,omitempty"`
	MessageID     *string     `db:"message_id"     json:"message_id,omitempty"`
	CreatedAt     time.Time   `db:"created_at"     json:"created_at"`
	PaidAt        *time.Time  `db:"paid_at"        json:"paid_at,omitempty"`
	RefundedAt    *time.Time  `db:"refunded_at"    json:"refunded_at,omitempty"`
	UpdatedAt     time.Time   `db:"updated_at"     json:"updated_at"`
}

// OrderTransition describes a compare-and-set status change on an order.
type OrderTransition struct {
	From          OrderStatus
	To            OrderStatus
	At            time.Time
	TransactionID string // set with To == OrderPaid
}
