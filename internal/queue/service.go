// Package queue runs ticket operations against a store and announces the
// committed changes to realtime subscribers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicedesk/internal/fanout"
	"servicedesk/internal/models"
	"servicedesk/internal/store"
)

const DefaultTimeout = 3 * time.Second

type Logger interface {
	Infof(category, format string, args ...any)
	Warnf(category, format string, args ...any)
}

type Options struct {
	Publisher fanout.Publisher
	Logger    Logger
	Timeout   time.Duration
	Now       func() time.Time
}

type Service struct {
	store     store.Store
	publisher fanout.Publisher
	logger    Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewService(st store.Store, options Options) *Service {
	s := &Service{
		store:     st,
		publisher: options.Publisher,
		logger:    options.Logger,
		timeout:   options.Timeout,
		now:       options.Now,
	}
	if s.publisher == nil {
		s.publisher = fanout.Nop{}
	}
	if s.logger == nil {
		s.logger = discardLogger{}
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// TicketStatus is the kiosk view of one ticket. Position and Ahead are
// only set while the ticket is waiting.
type TicketStatus struct {
	Ticket   models.Ticket `json:"ticket"`
	Position int           `json:"position,omitempty"`
	Ahead    int           `json:"ahead"`
}

func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return wrapErr(s.store.Ping(ctx))
}

func (s *Service) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	input.ServiceID = strings.TrimSpace(input.ServiceID)
	input.CustomerID = strings.TrimSpace(input.CustomerID)
	input.Title = strings.TrimSpace(input.Title)
	input.Notes = strings.TrimSpace(input.Notes)
	if input.Kind == "" {
		input.Kind = models.KindQueue
	}
	switch {
	case input.ServiceID == "":
		return models.Ticket{}, false, store.Invalid("service_id", "is required")
	case input.Kind != models.KindQueue && input.Kind != models.KindSupport:
		return models.Ticket{}, false, store.Invalid("kind", "must be queue or support")
	case input.Kind == models.KindSupport && input.Title == "":
		return models.Ticket{}, false, store.Invalid("title", "is required for support tickets")
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = s.now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticket, created, err := s.store.CreateTicket(ctx, input)
	if err != nil {
		return models.Ticket{}, false, wrapErr(err)
	}
	if created {
		s.publish(ctx, fanout.NewEvent(models.ActionCreated, "", ticket, input.Actor, ticket.CreatedAt))
	}
	return ticket, created, nil
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticket, err := s.store.GetTicket(ctx, ticketID)
	return ticket, wrapErr(err)
}

// UpdateStatus moves a ticket to input.ToStatus. The status the ticket had
// when read is pinned as the expected status unless the caller pinned one,
// so a concurrent change surfaces as store.ErrLostRace.
func (s *Service) UpdateStatus(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	input.ToStatus = strings.TrimSpace(input.ToStatus)
	input.ExpectedStatus = strings.TrimSpace(input.ExpectedStatus)
	if input.ToStatus == "" {
		return models.Ticket{}, store.Invalid("status", "is required")
	}
	if !models.KnownStatus(input.ToStatus) {
		return models.Ticket{}, store.Invalid("status", fmt.Sprintf("unknown status %q", input.ToStatus))
	}
	if input.ExpectedStatus != "" && !models.KnownStatus(input.ExpectedStatus) {
		return models.Ticket{}, store.Invalid("expected_status", fmt.Sprintf("unknown status %q", input.ExpectedStatus))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	current, err := s.store.GetTicket(ctx, input.TicketID)
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return s.transition(ctx, current, input)
}

func (s *Service) Start(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionStart, input)
}

func (s *Service) Resolve(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionResolve, input)
}

func (s *Service) Requeue(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionRequeue, input)
}

func (s *Service) NoShow(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionNoShow, input)
}

func (s *Service) Cancel(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionCancel, input)
}

func (s *Service) Close(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	return s.apply(ctx, store.ActionClose, input)
}

// apply resolves a named action to the target status for the ticket's
// current state.
func (s *Service) apply(ctx context.Context, action string, input store.TransitionInput) (models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	current, err := s.store.GetTicket(ctx, input.TicketID)
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	target, ok := store.TargetStatus(action, current.Status)
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	input.ToStatus = target
	return s.transition(ctx, current, input)
}

func (s *Service) transition(ctx context.Context, current models.Ticket, input store.TransitionInput) (models.Ticket, error) {
	if input.ExpectedStatus == "" {
		input.ExpectedStatus = current.Status
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = s.now()
	}
	ticket, applied, err := s.store.Transition(ctx, input)
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	if applied {
		action, _ := store.ActionFor(input.ExpectedStatus, ticket.Status)
		s.publish(ctx, fanout.NewEvent(action, input.ExpectedStatus, ticket, input.Actor, ticket.UpdatedAt))
	}
	return ticket, nil
}

// Claim calls the head of the service's line. It returns store.ErrQueueEmpty
// when nobody is waiting.
func (s *Service) Claim(ctx context.Context, input store.ClaimInput) (models.Ticket, error) {
	input.ServiceID = strings.TrimSpace(input.ServiceID)
	if input.ServiceID == "" {
		return models.Ticket{}, store.Invalid("service_id", "is required")
	}
	if input.ClaimedAt.IsZero() {
		input.ClaimedAt = s.now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticket, applied, err := s.store.ClaimNext(ctx, input)
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	if applied {
		s.publish(ctx, fanout.NewEvent(store.ActionClaim, models.StatusWaiting, ticket, input.Actor, ticket.UpdatedAt))
	}
	return ticket, nil
}

func (s *Service) FollowUp(ctx context.Context, input store.FollowUpInput) (models.Ticket, bool, error) {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = s.now()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	child, created, err := s.store.CreateFollowUp(ctx, input)
	if err != nil {
		return models.Ticket{}, false, wrapErr(err)
	}
	if created {
		s.publish(ctx, fanout.NewEvent(store.ActionReopen, "", child, input.Actor, child.CreatedAt))
	}
	return child, created, nil
}

// Queue is the current waiting line of a service, front first.
func (s *Service) Queue(ctx context.Context, serviceID string) ([]models.QueuePosition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	waiting, err := s.store.ListWaiting(ctx, serviceID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return store.Positions(waiting), nil
}

func (s *Service) Position(ctx context.Context, ticketID string) (TicketStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return TicketStatus{}, wrapErr(err)
	}
	status := TicketStatus{Ticket: ticket}
	if ticket.Status != models.StatusWaiting {
		return status, nil
	}
	waiting, err := s.store.ListWaiting(ctx, ticket.ServiceID)
	if err != nil {
		return TicketStatus{}, wrapErr(err)
	}
	if pos, ok := store.PositionOf(store.Positions(waiting), ticketID); ok {
		status.Position = pos.Position
		status.Ahead = pos.Ahead
	}
	return status, nil
}

// History returns the ticket's audit trail, newest first.
func (s *Service) History(ctx context.Context, ticketID string) ([]models.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entries, err := s.store.ListHistory(ctx, ticketID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return entries, nil
}

func (s *Service) Services(ctx context.Context) ([]models.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return services, nil
}

// ExpireCalled marks tickets that have been CALLED for longer than grace as
// NO_SHOW. Tickets that moved on in the meantime are skipped.
func (s *Service) ExpireCalled(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := s.now().Add(-grace)

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	stale, err := s.store.ListStaleCalled(listCtx, cutoff, batchSize)
	err = wrapErr(err)
	cancel()
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ticket := range stale {
		_, err := s.UpdateStatus(ctx, store.TransitionInput{
			TicketID:       ticket.TicketID,
			ToStatus:       models.StatusNoShow,
			ExpectedStatus: models.StatusCalled,
			Actor:          "system",
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, store.ErrLostRace), errors.Is(err, store.ErrInvalidTransition):
			continue
		default:
			return expired, err
		}
	}
	if expired > 0 {
		s.logger.Infof("queue", "marked %d called tickets as no-show", expired)
	}
	return expired, nil
}

// wrapErr maps a deadline hit inside the store onto ErrUnavailable. Errors
// already in the taxonomy pass through untouched.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// publish runs after commit. A failed publish is logged and never undoes
// the mutation.
func (s *Service) publish(ctx context.Context, event fanout.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warnf("fanout", "publish %s %s failed: %v", event.Action, event.TicketID, err)
	}
}

type discardLogger struct{}

func (discardLogger) Infof(string, string, ...any) {}
func (discardLogger) Warnf(string, string, ...any) {}
