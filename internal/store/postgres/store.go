package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"servicedesk/internal/models"
	"servicedesk/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

const (
	requestActionClaim      = "claim"
	requestActionTransition = "transition"
	requestActionFollowUp   = "follow_up"
)

const ticketColumns = `ticket_id, kind, ticket_number, service_id, customer_id, title, notes, cancel_reason,
	status, queue_order, assigned_to, parent_id, request_id, created_at, updated_at,
	timer_start, timer_end, resolved_at, closed_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	ticket, created, err := s.createTicket(ctx, input)
	return ticket, created, classify(err)
}

func (s *Store) createTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	if !validID(input.ServiceID) {
		return models.Ticket{}, false, store.ErrServiceNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	service, err := getService(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !service.Active {
		err = store.Invalid("service_id", "is not accepting tickets")
		return models.Ticket{}, false, err
	}
	if input.CustomerID != "" {
		if !validID(input.CustomerID) {
			err = store.ErrCustomerNotFound
			return models.Ticket{}, false, err
		}
		if _, err = getCustomer(ctx, tx, input.CustomerID); err != nil {
			return models.Ticket{}, false, err
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	kind := input.Kind
	if kind == "" {
		kind = models.KindQueue
	}
	status := models.StatusWaiting
	if kind == models.KindSupport {
		status = models.StatusOpen
	}

	seq, err := nextTicketNumber(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, kind, ticket_number, service_id, customer_id,
			title, notes, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns,
		uuid.NewString(), input.RequestID, kind, formatTicketNumber(service.Code, seq), input.ServiceID,
		nullIfEmpty(input.CustomerID), strings.TrimSpace(input.Title), strings.TrimSpace(input.Notes), status, createdAt)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent request with the same id won the insert.
			_ = tx.Rollback(ctx)
			err = nil
			return s.ticketByRequestID(ctx, input.RequestID)
		}
		return models.Ticket{}, false, err
	}

	if _, err = appendHistory(ctx, tx, models.HistoryEntry{
		TicketID:  ticket.TicketID,
		Action:    models.ActionCreated,
		NewValue:  ticket.Status,
		Actor:     store.ActorOrSystem(input.Actor),
		CreatedAt: createdAt,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ticketByRequestID(ctx context.Context, requestID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, false, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if !validID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error) {
	if !validID(serviceID) {
		return nil, store.ErrServiceNotFound
	}
	if _, err := getService(ctx, s.pool, serviceID); err != nil {
		return nil, classify(err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status = $2
		ORDER BY queue_order ASC, created_at ASC, ticket_id ASC
	`, serviceID, models.StatusWaiting)
	if err != nil {
		return nil, classify(err)
	}
	tickets, err := collectTickets(rows)
	return tickets, classify(err)
}

// ClaimNext moves the head of a service's line to CALLED. The head is read
// without a lock and then updated conditionally, so two staff members that
// read the same head get one winner and one ErrLostRace.
func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, bool, error) {
	ticket, claimed, err := s.claimNext(ctx, input)
	return ticket, claimed, classify(err)
}

func (s *Store) claimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	if !validID(input.ServiceID) {
		return models.Ticket{}, false, store.ErrServiceNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, requestActionClaim, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrQueueEmpty
		}
		return existing, false, nil
	}

	if _, err = getService(ctx, tx, input.ServiceID); err != nil {
		return models.Ticket{}, false, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status = $2
		ORDER BY queue_order ASC, created_at ASC, ticket_id ASC
		LIMIT 1
	`, input.ServiceID, models.StatusWaiting)
	head, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = insertActionRequest(ctx, tx, requestActionClaim, input.RequestID, input.ServiceID, "", ""); err != nil {
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return models.Ticket{}, false, store.ErrQueueEmpty
		}
		return models.Ticket{}, false, err
	}

	change, err := store.Plan(head, store.TransitionInput{
		RequestID:      input.RequestID,
		TicketID:       head.TicketID,
		ToStatus:       models.StatusCalled,
		ExpectedStatus: models.StatusWaiting,
		Actor:          input.Actor,
		Assignee:       input.Assignee,
		OccurredAt:     input.ClaimedAt,
	}, input.ClaimedAt)
	if err != nil {
		return models.Ticket{}, false, err
	}

	ticket, err := applyChange(ctx, tx, head.Status, change)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if _, err = appendHistory(ctx, tx, change.Entry); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertActionRequest(ctx, tx, requestActionClaim, input.RequestID, input.ServiceID, ticket.TicketID, ticket.Status); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, bool, error) {
	ticket, applied, err := s.transition(ctx, input)
	return ticket, applied, classify(err)
}

func (s *Store) transition(ctx context.Context, input store.TransitionInput) (models.Ticket, bool, error) {
	if !validID(input.TicketID) {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		var recordedTicket, recordedStatus string
		var found bool
		recordedTicket, recordedStatus, found, err = findTransitionRequest(ctx, tx, input.RequestID)
		if err != nil {
			return models.Ticket{}, false, err
		}
		if found {
			if err = store.CheckReplay(input, recordedTicket, recordedStatus); err != nil {
				return models.Ticket{}, false, err
			}
			var existing models.Ticket
			if existing, err = getTicketByID(ctx, tx, input.TicketID); err != nil {
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return existing, false, nil
		}
	}

	current, err := getTicketByID(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	change, err := store.Plan(current, input, occurredAt)
	if err != nil {
		return models.Ticket{}, false, err
	}

	ticket, err := applyChange(ctx, tx, current.Status, change)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if _, err = appendHistory(ctx, tx, change.Entry); err != nil {
		return models.Ticket{}, false, err
	}
	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, requestActionTransition, input.RequestID, ticket.ServiceID, ticket.TicketID, ticket.Status); err != nil {
			return models.Ticket{}, false, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CreateFollowUp(ctx context.Context, input store.FollowUpInput) (models.Ticket, bool, error) {
	ticket, created, err := s.createFollowUp(ctx, input)
	return ticket, created, classify(err)
}

func (s *Store) createFollowUp(ctx context.Context, input store.FollowUpInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	if !validID(input.TicketID) {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, _, err := findActionRequest(ctx, tx, requestActionFollowUp, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	parent, err := getTicketByID(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	plan, err := store.PlanFollowUp(parent, input, input.CreatedAt)
	if err != nil {
		return models.Ticket{}, false, err
	}

	service, err := getService(ctx, tx, parent.ServiceID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	seq, err := nextTicketNumber(ctx, tx, parent.ServiceID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	child := plan.Ticket
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, kind, ticket_number, service_id, customer_id,
			title, notes, status, parent_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.RequestID, child.Kind, formatTicketNumber(service.Code, seq), child.ServiceID,
		child.CustomerID, child.Title, child.Notes, child.Status, parent.TicketID, child.CreatedAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}

	childEntry := plan.ChildEntry
	childEntry.TicketID = ticket.TicketID
	if _, err = appendHistory(ctx, tx, childEntry); err != nil {
		return models.Ticket{}, false, err
	}
	parentEntry := plan.ParentEntry
	parentEntry.NewValue = ticket.TicketID
	if _, err = appendHistory(ctx, tx, parentEntry); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertActionRequest(ctx, tx, requestActionFollowUp, input.RequestID, ticket.ServiceID, ticket.TicketID, ""); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error) {
	if !validID(ticketID) {
		return nil, store.ErrTicketNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, ticket_id, seq, action, old_value, new_value, actor, created_at, prev_hash, hash
		FROM ticket_history
		WHERE ticket_id = $1
		ORDER BY seq DESC
	`, ticketID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		if err := rows.Scan(&entry.EntryID, &entry.TicketID, &entry.Seq, &entry.Action, &entry.OldValue, &entry.NewValue, &entry.Actor, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, classify(err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(entries) == 0 {
		// Every ticket has a created entry, so an empty log means no ticket.
		if _, err := s.GetTicket(ctx, ticketID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// ListStaleCalled returns CALLED tickets that have not moved since cutoff,
// oldest first. The sweeper moves them through Transition, so a ticket that
// is started in the meantime loses nothing.
func (s *Store) ListStaleCalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, models.StatusCalled, cutoff, limit)
	if err != nil {
		return nil, classify(err)
	}
	tickets, err := collectTickets(rows)
	return tickets, classify(err)
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	if !validID(serviceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	service, err := getService(ctx, s.pool, serviceID)
	return service, classify(err)
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, code, name, active
		FROM services
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var service models.Service
		if err := rows.Scan(&service.ServiceID, &service.Code, &service.Name, &service.Active); err != nil {
			return nil, classify(err)
		}
		services = append(services, service)
	}
	return services, classify(rows.Err())
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	if !validID(customerID) {
		return models.Customer{}, store.ErrCustomerNotFound
	}
	customer, err := getCustomer(ctx, s.pool, customerID)
	return customer, classify(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, email, name, role, password_hash, active, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email))
	if err := row.Scan(&user.UserID, &user.Email, &user.Name, &user.RoleName, &user.PasswordHash, &user.Active, &user.Created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, classify(err)
	}
	return user, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getService(ctx context.Context, q querier, serviceID string) (models.Service, error) {
	var service models.Service
	row := q.QueryRow(ctx, `
		SELECT service_id, code, name, active
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&service.ServiceID, &service.Code, &service.Name, &service.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

func getCustomer(ctx context.Context, q querier, customerID string) (models.Customer, error) {
	var customer models.Customer
	var email, phone sql.NullString
	row := q.QueryRow(ctx, `
		SELECT customer_id, name, email, phone
		FROM customers
		WHERE customer_id = $1
	`, customerID)
	if err := row.Scan(&customer.CustomerID, &customer.Name, &email, &phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, store.ErrCustomerNotFound
		}
		return models.Customer{}, err
	}
	customer.Email = email.String
	customer.Phone = phone.String
	return customer, nil
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, serviceID string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (service_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (service_id)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, serviceID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func formatTicketNumber(code string, seq int64) string {
	return fmt.Sprintf("%s-%0*d", code, ticketNumberPad, seq)
}

// applyChange writes a planned transition. The update only matches while the
// ticket still has the status the plan was made from.
func applyChange(ctx context.Context, tx pgx.Tx, fromStatus string, change store.Change) (models.Ticket, error) {
	next := change.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1,
			notes = $2,
			cancel_reason = $3,
			assigned_to = $4,
			updated_at = $5,
			timer_start = $6,
			timer_end = $7,
			resolved_at = $8,
			closed_at = $9,
			queue_order = CASE WHEN $10::boolean THEN nextval('ticket_queue_order_seq') ELSE queue_order END
		WHERE ticket_id = $11 AND status = $12
		RETURNING `+ticketColumns,
		next.Status, next.Notes, next.CancelReason, next.AssignedTo, next.UpdatedAt,
		next.TimerStart, next.TimerEnd, next.ResolvedAt, next.ClosedAt, change.Requeue,
		next.TicketID, fromStatus)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, loadErr := ticketExists(ctx, tx, next.TicketID)
			if loadErr != nil {
				return models.Ticket{}, loadErr
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrLostRace
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// appendHistory seals and inserts one entry. The advisory lock serializes
// writers per ticket so sequence numbers and the hash chain stay linear.
func appendHistory(ctx context.Context, tx pgx.Tx, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.TicketID); err != nil {
		return models.HistoryEntry{}, err
	}

	var last models.HistoryEntry
	row := tx.QueryRow(ctx, `
		SELECT seq, hash, created_at
		FROM ticket_history
		WHERE ticket_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.TicketID)
	if err := row.Scan(&last.Seq, &last.Hash, &last.CreatedAt); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.HistoryEntry{}, err
	}

	entry.EntryID = uuid.NewString()
	sealed := store.SealEntry(last, entry)
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_history (entry_id, ticket_id, seq, action, old_value, new_value, actor, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sealed.EntryID, sealed.TicketID, sealed.Seq, sealed.Action, sealed.OldValue, sealed.NewValue, sealed.Actor, sealed.CreatedAt, sealed.PrevHash, sealed.Hash)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	return sealed, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// findActionRequest looks up an earlier call with the same request id. The
// second bool reports a recorded call that found nothing to act on.
func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Ticket, bool, bool, error) {
	var ticketID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM ticket_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, false, nil
		}
		return models.Ticket{}, false, false, err
	}

	if !ticketID.Valid {
		return models.Ticket{}, true, true, nil
	}

	ticket, err := getTicketByID(ctx, tx, ticketID.String)
	if err != nil {
		return models.Ticket{}, false, false, err
	}
	return ticket, true, false, nil
}

// findTransitionRequest returns the ticket and target status recorded for an
// earlier status change with the same request id.
func findTransitionRequest(ctx context.Context, tx pgx.Tx, requestID string) (string, string, bool, error) {
	var ticketID, toStatus sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, to_status
		FROM ticket_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, requestActionTransition)
	if err := row.Scan(&ticketID, &toStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return ticketID.String, toStatus.String, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, serviceID, ticketID, toStatus string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_action_requests (request_id, action, service_id, ticket_id, to_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, action) DO NOTHING
	`, requestID, action, nullIfEmpty(serviceID), nullIfEmpty(ticketID), nullIfEmpty(toStatus))
	return err
}

func ticketExists(ctx context.Context, tx pgx.Tx, ticketID string) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func getTicketByID(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var customerID, assignedTo, parentID sql.NullString
	var timerStart, timerEnd, resolvedAt, closedAt sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.Kind, &ticket.TicketNumber, &ticket.ServiceID, &customerID,
		&ticket.Title, &ticket.Notes, &ticket.CancelReason, &ticket.Status, &ticket.QueueOrder,
		&assignedTo, &parentID, &ticket.RequestID, &ticket.CreatedAt, &ticket.UpdatedAt,
		&timerStart, &timerEnd, &resolvedAt, &closedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.UpdatedAt = ticket.UpdatedAt.UTC()
	ticket.CustomerID = nullStringPtr(customerID)
	ticket.AssignedTo = nullStringPtr(assignedTo)
	ticket.ParentID = nullStringPtr(parentID)
	ticket.TimerStart = nullTimePtr(timerStart)
	ticket.TimerEnd = nullTimePtr(timerEnd)
	ticket.ResolvedAt = nullTimePtr(resolvedAt)
	ticket.ClosedAt = nullTimePtr(closedAt)
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// classify folds driver failures into the store taxonomy. Errors that are
// already part of it pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", store.ErrLostRace, err)
		case "57P01", "57P02", "57P03", "53300", "08000", "08003", "08006":
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
	}
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
