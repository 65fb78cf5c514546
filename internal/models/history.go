package models

import "time"

const (
	ActionCreated       = "created"
	ActionStatusChanged = "status_changed"
	ActionFollowUp      = "follow_up"
)

// HistoryEntry is one append-only audit record for a ticket.
type HistoryEntry struct {
	EntryID   string    `json:"entry_id"`
	TicketID  string    `json:"ticket_id"`
	Seq       int       `json:"seq"`
	Action    string    `json:"action"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}
