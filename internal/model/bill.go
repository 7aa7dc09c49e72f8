package model

import "time"

type BillType string

const (
	BillPayment BillType = "payment"
	BillRefund  BillType = "refund"
)

func (t BillType) String() string { return string(t) }

func (t BillType) Valid() bool { return t == BillPayment || t == BillRefund }

// Bill is an immutable ledger entry derived from an order event.
type Bill struct {
	ID          string    `db:"id"          json:"id"`
	UserID      string    `db:"user_id"     json:"user_id"`
	OrderID     string    `db:"order_id"    json:"order_id"`
	Type        BillType  `db:"type"        json:"type"`
	Amount      Money     `db:"amount"      json:"amount"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}

// BillSummary aggregates a user's bills.
type BillSummary struct {
	TotalPayment Money `db:"total_payment" json:"total_payment"`
	TotalRefund  Money `db:"total_refund"  json:"total_refund"`
	Net          Money `db:"-"             json:"net"`
}
