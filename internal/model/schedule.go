package model

import "time"

type DispatchState string

const (
	DispatchWaiting     DispatchState = "waiting"
	DispatchDispatching DispatchState = "dispatching"
	DispatchDone        DispatchState = "done"
)

// ScheduledDispatch is the scheduler's job row for a message with a future send time.
type ScheduledDispatch struct {
	MessageID    string        `db:"message_id"`
	DueAt        time.Time     `db:"due_at"`
	State        DispatchState `db:"state"`
	ClaimedUntil *time.Time    `db:"claimed_until"`
	Attempts     int           `db:"attempts"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}
