package sqlite

import (
	"time"

	"servicedesk/internal/models"

	"github.com/uptrace/bun"
)

type serviceRow struct {
	bun.BaseModel `bun:"table:services"`

	ServiceID string    `bun:"service_id,pk"`
	Code      string    `bun:"code,notnull,unique"`
	Name      string    `bun:"name,notnull"`
	Active    bool      `bun:"active,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type customerRow struct {
	bun.BaseModel `bun:"table:customers"`

	CustomerID string    `bun:"customer_id,pk"`
	Name       string    `bun:"name,notnull"`
	Email      string    `bun:"email"`
	Phone      string    `bun:"phone"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	UserID       string    `bun:"user_id,pk"`
	Email        string    `bun:"email,notnull,unique"`
	Name         string    `bun:"name,notnull"`
	Role         string    `bun:"role,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Active       bool      `bun:"active,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type ticketRow struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID     string     `bun:"ticket_id,pk"`
	RequestID    string     `bun:"request_id,notnull,unique"`
	Kind         string     `bun:"kind,notnull"`
	TicketNumber string     `bun:"ticket_number,notnull"`
	ServiceID    string     `bun:"service_id,notnull"`
	CustomerID   *string    `bun:"customer_id"`
	Title        string     `bun:"title,notnull"`
	Notes        string     `bun:"notes,notnull"`
	CancelReason string     `bun:"cancel_reason,notnull"`
	Status       string     `bun:"status,notnull"`
	QueueOrder   int64      `bun:"queue_order,notnull"`
	AssignedTo   *string    `bun:"assigned_to"`
	ParentID     *string    `bun:"parent_id"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
	TimerStart   *time.Time `bun:"timer_start"`
	TimerEnd     *time.Time `bun:"timer_end"`
	ResolvedAt   *time.Time `bun:"resolved_at"`
	ClosedAt     *time.Time `bun:"closed_at"`
}

type historyRow struct {
	bun.BaseModel `bun:"table:ticket_history"`

	EntryID   string    `bun:"entry_id,pk"`
	TicketID  string    `bun:"ticket_id,notnull,unique:ticket_history_seq"`
	Seq       int       `bun:"seq,notnull,unique:ticket_history_seq"`
	Action    string    `bun:"action,notnull"`
	OldValue  string    `bun:"old_value,notnull"`
	NewValue  string    `bun:"new_value,notnull"`
	Actor     string    `bun:"actor,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	PrevHash  string    `bun:"prev_hash,notnull"`
	Hash      string    `bun:"hash,notnull"`
}

type sequenceRow struct {
	bun.BaseModel `bun:"table:ticket_sequences"`

	ServiceID  string `bun:"service_id,pk"`
	NextNumber int64  `bun:"next_number,notnull"`
}

type actionRequestRow struct {
	bun.BaseModel `bun:"table:ticket_action_requests"`

	RequestID string    `bun:"request_id,pk"`
	Action    string    `bun:"action,pk"`
	ServiceID *string   `bun:"service_id"`
	TicketID  *string   `bun:"ticket_id"`
	ToStatus  *string   `bun:"to_status"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (r ticketRow) model() models.Ticket {
	return models.Ticket{
		TicketID:     r.TicketID,
		Kind:         r.Kind,
		TicketNumber: r.TicketNumber,
		ServiceID:    r.ServiceID,
		CustomerID:   r.CustomerID,
		Title:        r.Title,
		Notes:        r.Notes,
		CancelReason: r.CancelReason,
		Status:       r.Status,
		QueueOrder:   r.QueueOrder,
		AssignedTo:   r.AssignedTo,
		ParentID:     r.ParentID,
		RequestID:    r.RequestID,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		TimerStart:   utcPtr(r.TimerStart),
		TimerEnd:     utcPtr(r.TimerEnd),
		ResolvedAt:   utcPtr(r.ResolvedAt),
		ClosedAt:     utcPtr(r.ClosedAt),
	}
}

func ticketRowFrom(t models.Ticket) ticketRow {
	return ticketRow{
		TicketID:     t.TicketID,
		RequestID:    t.RequestID,
		Kind:         t.Kind,
		TicketNumber: t.TicketNumber,
		ServiceID:    t.ServiceID,
		CustomerID:   t.CustomerID,
		Title:        t.Title,
		Notes:        t.Notes,
		CancelReason: t.CancelReason,
		Status:       t.Status,
		QueueOrder:   t.QueueOrder,
		AssignedTo:   t.AssignedTo,
		ParentID:     t.ParentID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		TimerStart:   t.TimerStart,
		TimerEnd:     t.TimerEnd,
		ResolvedAt:   t.ResolvedAt,
		ClosedAt:     t.ClosedAt,
	}
}

func (r historyRow) model() models.HistoryEntry {
	return models.HistoryEntry{
		EntryID:   r.EntryID,
		TicketID:  r.TicketID,
		Seq:       r.Seq,
		Action:    r.Action,
		OldValue:  r.OldValue,
		NewValue:  r.NewValue,
		Actor:     r.Actor,
		CreatedAt: r.CreatedAt.UTC(),
		PrevHash:  r.PrevHash,
		Hash:      r.Hash,
	}
}

func (r serviceRow) model() models.Service {
	return models.Service{ServiceID: r.ServiceID, Code: r.Code, Name: r.Name, Active: r.Active}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
