package fanout

import (
	"time"

	"servicedesk/internal/models"
)

// Event is what subscribers receive after a committed mutation.
type Event struct {
	Type         string    `json:"type"`
	TicketID     string    `json:"ticket_id"`
	TicketNumber string    `json:"ticket_number"`
	ServiceID    string    `json:"service_id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Kind         string    `json:"kind"`
	Action       string    `json:"action"`
	OldStatus    string    `json:"old_status,omitempty"`
	NewStatus    string    `json:"new_status"`
	Actor        string    `json:"actor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	TypeTicketCreated = "ticket.created"
	TypeTicketUpdated = "ticket.updated"
)

func NewEvent(action, oldStatus string, ticket models.Ticket, actor string, at time.Time) Event {
	eventType := TypeTicketUpdated
	if oldStatus == "" {
		eventType = TypeTicketCreated
	}
	customerID := ""
	if ticket.CustomerID != nil {
		customerID = *ticket.CustomerID
	}
	return Event{
		Type:         eventType,
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		ServiceID:    ticket.ServiceID,
		CustomerID:   customerID,
		Kind:         ticket.Kind,
		Action:       action,
		OldStatus:    oldStatus,
		NewStatus:    ticket.Status,
		Actor:        actor,
		Timestamp:    at.UTC(),
	}
}

// Public strips the staff and customer identities. It is what anonymous
// ticket channel subscribers receive.
func (e Event) Public() Event {
	e.Actor = ""
	e.CustomerID = ""
	return e
}

// Channels lists every key the event is delivered on.
func (e Event) Channels() []Channel {
	var out []Channel
	if e.ServiceID != "" {
		out = append(out, ServiceChannel(e.ServiceID))
	}
	if e.TicketID != "" {
		out = append(out, TicketChannel(e.TicketID))
	}
	return out
}
