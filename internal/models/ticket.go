package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	Kind         string     `json:"kind"`
	TicketNumber string     `json:"ticket_number"`
	ServiceID    string     `json:"service_id"`
	CustomerID   *string    `json:"customer_id,omitempty"`
	Title        string     `json:"title,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	Status       string     `json:"status"`
	QueueOrder   int64      `json:"-"`
	AssignedTo   *string    `json:"assigned_to,omitempty"`
	ParentID     *string    `json:"parent_id,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TimerStart   *time.Time `json:"timer_start,omitempty"`
	TimerEnd     *time.Time `json:"timer_end,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

const (
	KindQueue   = "queue"
	KindSupport = "support"
)

// Queue flavor.
const (
	StatusWaiting   = "WAITING"
	StatusCalled    = "CALLED"
	StatusInService = "IN_SERVICE"
	StatusDone      = "DONE"
	StatusNoShow    = "NO_SHOW"
	StatusCanceled  = "CANCELED"
)

// Support flavor.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusNoShow, StatusCanceled, StatusClosed:
		return true
	default:
		return false
	}
}

// IsResolved reports the statuses that carry a resolved_at timestamp.
func IsResolved(status string) bool {
	return status == StatusDone || status == StatusResolved
}

// KindOf returns the flavor a status belongs to, or "" when unknown.
func KindOf(status string) string {
	switch status {
	case StatusWaiting, StatusCalled, StatusInService, StatusDone, StatusNoShow, StatusCanceled:
		return KindQueue
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return KindSupport
	default:
		return ""
	}
}

func KnownStatus(status string) bool { return KindOf(status) != "" }

type QueuePosition struct {
	Ticket   Ticket `json:"ticket"`
	Position int    `json:"position"`
	Ahead    int    `json:"ahead"`
}
