// Package notify emails customers when their ticket reaches a milestone.
// It consumes the ticket event stream and never touches ticket state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicedesk/internal/fanout"
	"servicedesk/internal/logging"
	"servicedesk/internal/models"
	"servicedesk/internal/store"
)

type Source interface {
	Next(ctx context.Context) (fanout.Event, error)
}

type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (models.Customer, error)
}

type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Worker struct {
	source      Source
	customers   CustomerLookup
	provider    Provider
	logger      *logging.Logger
	maxAttempts int
	backoff     time.Duration
}

func New(source Source, customers CustomerLookup, provider Provider, logger *logging.Logger, cfg Config) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		source:      source,
		customers:   customers,
		provider:    provider,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     cfg.Backoff,
	}
}

// Run consumes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		event, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var malformed *fanout.MalformedError
			if errors.As(err, &malformed) {
				w.logger.Warnf("notify", "skip malformed event at offset %d: %v", malformed.Offset, malformed.Err)
				continue
			}
			w.logger.Errorf("notify", "read event: %v", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if err := w.Handle(ctx, event); err != nil {
			w.logger.Errorf("notify", "dropped notification for %s: %v", event.TicketNumber, err)
		}
	}
}

// Handle sends the notification for one event, if the event calls for one
// and the customer has an email address.
func (w *Worker) Handle(ctx context.Context, event fanout.Event) error {
	templateID := templateForAction(event.Action)
	if templateID == "" || event.CustomerID == "" {
		return nil
	}
	customer, err := w.customers.GetCustomer(ctx, event.CustomerID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	recipient := strings.TrimSpace(customer.Email)
	if recipient == "" {
		return nil
	}

	msg := Message{
		Recipient:    recipient,
		Subject:      renderTemplate(subjectFor(templateID), event),
		Body:         renderTemplate(defaultTemplate(templateID), event),
		TicketNumber: event.TicketNumber,
		Status:       event.NewStatus,
	}
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.provider.Send(ctx, msg); lastErr == nil {
			w.logger.Debugf("notify", "sent %s for %s", templateID, event.TicketNumber)
			return nil
		}
		w.logger.Warnf("notify", "attempt %d/%d for %s failed: %v", attempt, w.maxAttempts, event.TicketNumber, lastErr)
		if attempt < w.maxAttempts && !sleep(ctx, w.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("max attempts reached: %w", lastErr)
}

func templateForAction(action string) string {
	switch action {
	case store.ActionClaim:
		return "ticket_called"
	case store.ActionResolve:
		return "ticket_resolved"
	case store.ActionNoShow:
		return "ticket_no_show"
	case store.ActionCancel:
		return "ticket_canceled"
	default:
		return ""
	}
}

func subjectFor(templateID string) string {
	switch templateID {
	case "ticket_called":
		return "Ticket {ticket_number}: it is your turn"
	default:
		return "Ticket {ticket_number} update"
	}
}

func defaultTemplate(templateID string) string {
	switch templateID {
	case "ticket_called":
		return "Ticket {ticket_number} has been called. Please go to the service desk."
	case "ticket_resolved":
		return "Ticket {ticket_number} is resolved. Status: {status}."
	case "ticket_no_show":
		return "Ticket {ticket_number} was marked as no-show. Take a new ticket at the kiosk if you still need help."
	case "ticket_canceled":
		return "Ticket {ticket_number} was canceled."
	}
	return ""
}

func renderTemplate(template string, event fanout.Event) string {
	return strings.NewReplacer(
		"{ticket_number}", event.TicketNumber,
		"{status}", event.NewStatus,
		"{service_id}", event.ServiceID,
	).Replace(template)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
