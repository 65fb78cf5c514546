package store

import (
	"context"
	"time"

	"servicedesk/internal/models"
)

type CreateTicketInput struct {
	RequestID  string
	Kind       string
	ServiceID  string
	CustomerID string
	Title      string
	Notes      string
	Actor      string
	CreatedAt  time.Time
}

type ClaimInput struct {
	RequestID string
	ServiceID string
	Actor     string
	// Assignee is the staff user id recorded on the ticket. Actor is used
	// when it is empty.
	Assignee  string
	ClaimedAt time.Time
}

type TransitionInput struct {
	RequestID      string
	TicketID       string
	ToStatus       string
	ExpectedStatus string
	Actor          string
	Assignee       string
	Privileged     bool
	Notes          string
	Reason         string
	OccurredAt     time.Time
}

type FollowUpInput struct {
	RequestID string
	TicketID  string
	Actor     string
	Notes     string
	CreatedAt time.Time
}

// Store is the durable home of tickets and their history. Every mutating
// method commits the ticket change and its history entry together. The
// bool results report whether the call applied a change (false on an
// idempotent replay of the same request id).
type Store interface {
	Ping(ctx context.Context) error
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error)
	ClaimNext(ctx context.Context, input ClaimInput) (models.Ticket, bool, error)
	Transition(ctx context.Context, input TransitionInput) (models.Ticket, bool, error)
	CreateFollowUp(ctx context.Context, input FollowUpInput) (models.Ticket, bool, error)
	ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error)
	ListStaleCalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	GetCustomer(ctx context.Context, customerID string) (models.Customer, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Seeder upserts reference data. The api uses it to bootstrap a fresh
// database and tests use it for fixtures.
type Seeder interface {
	UpsertService(ctx context.Context, service models.Service) error
	UpsertCustomer(ctx context.Context, customer models.Customer) error
	UpsertUser(ctx context.Context, user models.User) error
}
