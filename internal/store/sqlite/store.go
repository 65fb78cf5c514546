// Package sqlite is the single-node backend. It keeps the same transaction
// boundaries as the Postgres store, with bun over an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicedesk/internal/models"
	"servicedesk/internal/store"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const ticketNumberPad = 3

const (
	requestActionClaim      = "claim"
	requestActionTransition = "transition"
	requestActionFollowUp   = "follow_up"
)

type Store struct {
	db *bun.DB
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Open connects to dsn and creates the schema. SQLite allows one writer at
// a time, so the pool is capped at a single connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = MemoryDSN(uuid.NewString())
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := CreateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// MemoryDSN names a private in-memory database that lives as long as the
// connection pool.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates every table and index if missing.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*serviceRow)(nil),
		(*customerRow)(nil),
		(*userRow)(nil),
		(*ticketRow)(nil),
		(*historyRow)(nil),
		(*sequenceRow)(nil),
		(*actionRequestRow)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if _, err := db.NewCreateIndex().
		Model((*ticketRow)(nil)).
		Index("tickets_waiting_idx").
		Column("service_id", "status", "queue_order").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	var ticket models.Ticket
	created := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
		if err != nil {
			return err
		}
		if found {
			ticket = existing
			return nil
		}

		service, err := getService(ctx, tx, input.ServiceID)
		if err != nil {
			return err
		}
		if !service.Active {
			return store.Invalid("service_id", "is not accepting tickets")
		}
		var customerID *string
		if input.CustomerID != "" {
			exists, err := tx.NewSelect().Model((*customerRow)(nil)).Where("customer_id = ?", input.CustomerID).Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return store.ErrCustomerNotFound
			}
			id := input.CustomerID
			customerID = &id
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

		number, err := nextTicketNumber(ctx, tx, service)
		if err != nil {
			return err
		}
		order, err := nextQueueOrder(ctx, tx)
		if err != nil {
			return err
		}

		row := ticketRow{
			TicketID:     uuid.NewString(),
			RequestID:    input.RequestID,
			Kind:         kind,
			TicketNumber: number,
			ServiceID:    input.ServiceID,
			CustomerID:   customerID,
			Title:        strings.TrimSpace(input.Title),
			Notes:        strings.TrimSpace(input.Notes),
			Status:       status,
			QueueOrder:   order,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, models.HistoryEntry{
			TicketID:  row.TicketID,
			Action:    models.ActionCreated,
			NewValue:  status,
			Actor:     store.ActorOrSystem(input.Actor),
			CreatedAt: createdAt,
		}); err != nil {
			return err
		}
		ticket = row.model()
		created = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, classify(err)
	}
	return ticket, created, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := getTicketByID(ctx, s.db, ticketID)
	return ticket, classify(err)
}

func (s *Store) ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error) {
	if _, err := getService(ctx, s.db, serviceID); err != nil {
		return nil, classify(err)
	}
	var rows []ticketRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("service_id = ?", serviceID).
		Where("status = ?", models.StatusWaiting).
		Order("queue_order ASC", "created_at ASC", "ticket_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.model())
	}
	return tickets, nil
}

func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	var ticket models.Ticket
	claimed, empty := false, false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, found, recordedEmpty, err := findActionRequest(ctx, tx, requestActionClaim, input.RequestID)
		if err != nil {
			return err
		}
		if found {
			empty = recordedEmpty
			ticket = existing
			return nil
		}

		if _, err := getService(ctx, tx, input.ServiceID); err != nil {
			return err
		}

		var head ticketRow
		err = tx.NewSelect().
			Model(&head).
			Where("service_id = ?", input.ServiceID).
			Where("status = ?", models.StatusWaiting).
			Order("queue_order ASC", "created_at ASC", "ticket_id ASC").
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			// Recorded so a retry of this request reports the same outcome.
			if err := insertActionRequest(ctx, tx, requestActionClaim, input.RequestID, input.ServiceID, "", ""); err != nil {
				return err
			}
			empty = true
			return nil
		}
		if err != nil {
			return err
		}

		current := head.model()
		change, err := store.Plan(current, store.TransitionInput{
			RequestID:      input.RequestID,
			TicketID:       current.TicketID,
			ToStatus:       models.StatusCalled,
			ExpectedStatus: models.StatusWaiting,
			Actor:          input.Actor,
			Assignee:       input.Assignee,
		}, input.ClaimedAt)
		if err != nil {
			return err
		}
		updated, err := applyChange(ctx, tx, current.Status, change)
		if err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, change.Entry); err != nil {
			return err
		}
		if err := insertActionRequest(ctx, tx, requestActionClaim, input.RequestID, input.ServiceID, updated.TicketID, updated.Status); err != nil {
			return err
		}
		ticket = updated
		claimed = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, classify(err)
	}
	if empty {
		return models.Ticket{}, false, store.ErrQueueEmpty
	}
	return ticket, claimed, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, bool, error) {
	var ticket models.Ticket
	applied := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if input.RequestID != "" {
			recorded, found, err := findTransitionRequest(ctx, tx, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				if err := store.CheckReplay(input, deref(recorded.TicketID), deref(recorded.ToStatus)); err != nil {
					return err
				}
				existing, err := getTicketByID(ctx, tx, input.TicketID)
				if err != nil {
					return err
				}
				ticket = existing
				return nil
			}
		}

		current, err := getTicketByID(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		occurredAt := input.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		change, err := store.Plan(current, input, occurredAt)
		if err != nil {
			return err
		}
		updated, err := applyChange(ctx, tx, current.Status, change)
		if err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, change.Entry); err != nil {
			return err
		}
		if input.RequestID != "" {
			if err := insertActionRequest(ctx, tx, requestActionTransition, input.RequestID, updated.ServiceID, updated.TicketID, updated.Status); err != nil {
				return err
			}
		}
		ticket = updated
		applied = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, classify(err)
	}
	return ticket, applied, nil
}

func (s *Store) CreateFollowUp(ctx context.Context, input store.FollowUpInput) (models.Ticket, bool, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	var ticket models.Ticket
	created := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, found, _, err := findActionRequest(ctx, tx, requestActionFollowUp, input.RequestID)
		if err != nil {
			return err
		}
		if found {
			ticket = existing
			return nil
		}

		parent, err := getTicketByID(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		plan, err := store.PlanFollowUp(parent, input, input.CreatedAt)
		if err != nil {
			return err
		}
		service, err := getService(ctx, tx, parent.ServiceID)
		if err != nil {
			return err
		}
		number, err := nextTicketNumber(ctx, tx, service)
		if err != nil {
			return err
		}
		order, err := nextQueueOrder(ctx, tx)
		if err != nil {
			return err
		}

		child := plan.Ticket
		child.TicketID = uuid.NewString()
		child.TicketNumber = number
		child.QueueOrder = order
		row := ticketRowFrom(child)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return err
		}

		childEntry := plan.ChildEntry
		childEntry.TicketID = child.TicketID
		if err := appendHistory(ctx, tx, childEntry); err != nil {
			return err
		}
		parentEntry := plan.ParentEntry
		parentEntry.NewValue = child.TicketID
		if err := appendHistory(ctx, tx, parentEntry); err != nil {
			return err
		}
		if err := insertActionRequest(ctx, tx, requestActionFollowUp, input.RequestID, child.ServiceID, child.TicketID, ""); err != nil {
			return err
		}
		ticket = row.model()
		created = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, classify(err)
	}
	return ticket, created, nil
}

func (s *Store) ListHistory(ctx context.Context, ticketID string) ([]models.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("ticket_id = ?", ticketID).
		Order("seq DESC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if len(rows) == 0 {
		if _, err := getTicketByID(ctx, s.db, ticketID); err != nil {
			return nil, classify(err)
		}
	}
	entries := make([]models.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.model())
	}
	return entries, nil
}

func (s *Store) ListStaleCalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ticketRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", models.StatusCalled).
		Where("updated_at <= ?", cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.model())
	}
	return tickets, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	service, err := getService(ctx, s.db, serviceID)
	return service, classify(err)
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	var rows []serviceRow
	if err := s.db.NewSelect().Model(&rows).Order("code ASC").Scan(ctx); err != nil {
		return nil, classify(err)
	}
	services := make([]models.Service, 0, len(rows))
	for _, row := range rows {
		services = append(services, row.model())
	}
	return services, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	var row customerRow
	err := s.db.NewSelect().Model(&row).Where("customer_id = ?", customerID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, store.ErrCustomerNotFound
	}
	if err != nil {
		return models.Customer{}, classify(err)
	}
	return models.Customer{CustomerID: row.CustomerID, Name: row.Name, Email: row.Email, Phone: row.Phone}, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var row userRow
	err := s.db.NewSelect().
		Model(&row).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, store.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, classify(err)
	}
	return models.User{
		UserID:       row.UserID,
		Email:        row.Email,
		Name:         row.Name,
		RoleName:     row.Role,
		PasswordHash: row.PasswordHash,
		Active:       row.Active,
		Created:      row.CreatedAt.UTC(),
	}, nil
}

func getService(ctx context.Context, db bun.IDB, serviceID string) (models.Service, error) {
	var row serviceRow
	err := db.NewSelect().Model(&row).Where("service_id = ?", serviceID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Service{}, store.ErrServiceNotFound
	}
	if err != nil {
		return models.Service{}, err
	}
	return row.model(), nil
}

func getTicketByID(ctx context.Context, db bun.IDB, ticketID string) (models.Ticket, error) {
	var row ticketRow
	err := db.NewSelect().Model(&row).Where("ticket_id = ?", ticketID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, err
	}
	return row.model(), nil
}

func findTicketByRequestID(ctx context.Context, tx bun.Tx, requestID string) (models.Ticket, bool, error) {
	var row ticketRow
	err := tx.NewSelect().Model(&row).Where("request_id = ?", requestID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return row.model(), true, nil
}

func findActionRequest(ctx context.Context, tx bun.Tx, action, requestID string) (models.Ticket, bool, bool, error) {
	var row actionRequestRow
	err := tx.NewSelect().
		Model(&row).
		Where("request_id = ?", requestID).
		Where("action = ?", action).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, false, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, false, err
	}
	if row.TicketID == nil {
		return models.Ticket{}, true, true, nil
	}
	ticket, err := getTicketByID(ctx, tx, *row.TicketID)
	if err != nil {
		return models.Ticket{}, false, false, err
	}
	return ticket, true, false, nil
}

func findTransitionRequest(ctx context.Context, tx bun.Tx, requestID string) (actionRequestRow, bool, error) {
	var row actionRequestRow
	err := tx.NewSelect().
		Model(&row).
		Where("request_id = ?", requestID).
		Where("action = ?", requestActionTransition).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return actionRequestRow{}, false, nil
	}
	if err != nil {
		return actionRequestRow{}, false, err
	}
	return row, true, nil
}

func insertActionRequest(ctx context.Context, tx bun.Tx, action, requestID, serviceID, ticketID, toStatus string) error {
	row := actionRequestRow{
		RequestID: requestID,
		Action:    action,
		ServiceID: optional(serviceID),
		TicketID:  optional(ticketID),
		ToStatus:  optional(toStatus),
		CreatedAt: time.Now().UTC(),
	}
	_, err := tx.NewInsert().Model(&row).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

func nextTicketNumber(ctx context.Context, tx bun.Tx, service models.Service) (string, error) {
	var seq sequenceRow
	err := tx.NewSelect().Model(&seq).Where("service_id = ?", service.ServiceID).Limit(1).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seq = sequenceRow{ServiceID: service.ServiceID, NextNumber: 1}
		if _, err := tx.NewInsert().Model(&seq).Exec(ctx); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		seq.NextNumber++
		if _, err := tx.NewUpdate().Model(&seq).Column("next_number").WherePK().Exec(ctx); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s-%0*d", service.Code, ticketNumberPad, seq.NextNumber), nil
}

// nextQueueOrder hands out a position past every ticket ever queued, which
// is what puts a requeued ticket at the back of the line.
func nextQueueOrder(ctx context.Context, tx bun.Tx) (int64, error) {
	var highest sql.NullInt64
	err := tx.NewSelect().
		Model((*ticketRow)(nil)).
		ColumnExpr("MAX(queue_order)").
		Scan(ctx, &highest)
	if err != nil {
		return 0, err
	}
	return highest.Int64 + 1, nil
}

func applyChange(ctx context.Context, tx bun.Tx, fromStatus string, change store.Change) (models.Ticket, error) {
	next := change.Ticket
	if change.Requeue {
		order, err := nextQueueOrder(ctx, tx)
		if err != nil {
			return models.Ticket{}, err
		}
		next.QueueOrder = order
	}

	row := ticketRowFrom(next)
	res, err := tx.NewUpdate().
		Model(&row).
		Column("status", "notes", "cancel_reason", "assigned_to", "updated_at",
			"timer_start", "timer_end", "resolved_at", "closed_at", "queue_order").
		Where("ticket_id = ?", next.TicketID).
		Where("status = ?", fromStatus).
		Exec(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Ticket{}, err
	}
	if affected == 0 {
		if _, err := getTicketByID(ctx, tx, next.TicketID); err != nil {
			return models.Ticket{}, err
		}
		return models.Ticket{}, store.ErrLostRace
	}
	return getTicketByID(ctx, tx, next.TicketID)
}

func appendHistory(ctx context.Context, tx bun.Tx, entry models.HistoryEntry) error {
	var last historyRow
	err := tx.NewSelect().
		Model(&last).
		Where("ticket_id = ?", entry.TicketID).
		Order("seq DESC").
		Limit(1).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	entry.EntryID = uuid.NewString()
	sealed := store.SealEntry(last.model(), entry)
	row := historyRow{
		EntryID:   sealed.EntryID,
		TicketID:  sealed.TicketID,
		Seq:       sealed.Seq,
		Action:    sealed.Action,
		OldValue:  sealed.OldValue,
		NewValue:  sealed.NewValue,
		Actor:     sealed.Actor,
		CreatedAt: sealed.CreatedAt,
		PrevHash:  sealed.PrevHash,
		Hash:      sealed.Hash,
	}
	_, err = tx.NewInsert().Model(&row).Exec(ctx)
	return err
}

// classify folds driver failures into the store taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
