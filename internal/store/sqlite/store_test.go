package sqlite_test

import (
	"context"
	"testing"
	"time"

	"servicedesk/internal/models"
	"servicedesk/internal/store"
	"servicedesk/internal/store/sqlite"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*sqlite.Store, models.Service) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, sqlite.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	service := models.Service{ServiceID: uuid.NewString(), Code: "gen", Name: "General", Active: true}
	require.NoError(t, st.UpsertService(ctx, service))
	service.Code = "GEN"
	return st, service
}

func createTicket(t *testing.T, st *sqlite.Store, serviceID string) models.Ticket {
	t.Helper()
	ticket, created, err := st.CreateTicket(context.Background(), store.CreateTicketInput{
		RequestID: uuid.NewString(),
		Kind:      models.KindQueue,
		ServiceID: serviceID,
		Actor:     "kiosk",
	})
	require.NoError(t, err)
	require.True(t, created)
	return ticket
}

func TestCreateTicketNumbersAndIdempotency(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()

	input := store.CreateTicketInput{RequestID: uuid.NewString(), ServiceID: service.ServiceID}
	first, created, err := st.CreateTicket(ctx, input)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "GEN-001", first.TicketNumber)
	assert.Equal(t, models.StatusWaiting, first.Status)

	again, created, err := st.CreateTicket(ctx, input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.TicketID, again.TicketID)

	second := createTicket(t, st, service.ServiceID)
	assert.Equal(t, "GEN-002", second.TicketNumber)

	history, err := st.ListHistory(ctx, first.TicketID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionCreated, history[0].Action)
}

func TestCreateTicketUnknownReferences(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()

	_, _, err := st.CreateTicket(ctx, store.CreateTicketInput{ServiceID: uuid.NewString()})
	assert.ErrorIs(t, err, store.ErrServiceNotFound)

	_, _, err = st.CreateTicket(ctx, store.CreateTicketInput{ServiceID: service.ServiceID, CustomerID: uuid.NewString()})
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)

	_, err = st.GetTicket(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	_, err = st.ListHistory(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestClaimNextTakesHeadOfLine(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()

	_, _, err := st.ClaimNext(ctx, store.ClaimInput{ServiceID: service.ServiceID, Actor: "agent-1"})
	assert.ErrorIs(t, err, store.ErrQueueEmpty)

	first := createTicket(t, st, service.ServiceID)
	createTicket(t, st, service.ServiceID)

	requestID := uuid.NewString()
	claimed, ok, err := st.ClaimNext(ctx, store.ClaimInput{RequestID: requestID, ServiceID: service.ServiceID, Actor: "agent-1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.TicketID, claimed.TicketID)
	assert.Equal(t, models.StatusCalled, claimed.Status)
	require.NotNil(t, claimed.AssignedTo)
	assert.Equal(t, "agent-1", *claimed.AssignedTo)

	replay, ok, err := st.ClaimNext(ctx, store.ClaimInput{RequestID: requestID, ServiceID: service.ServiceID, Actor: "agent-1"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, claimed.TicketID, replay.TicketID)

	waiting, err := st.ListWaiting(ctx, service.ServiceID)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}

func TestTransitionLifecycleAndHistory(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()
	ticket := createTicket(t, st, service.ServiceID)

	steps := []store.TransitionInput{
		{ToStatus: models.StatusCalled, Actor: "agent-1"},
		{ToStatus: models.StatusInService, Actor: "agent-1"},
		{ToStatus: models.StatusDone, Actor: "agent-1", Notes: "address updated"},
	}
	var last models.Ticket
	for _, step := range steps {
		step.TicketID = ticket.TicketID
		var err error
		last, _, err = st.Transition(ctx, step)
		require.NoError(t, err, "transition to %s", step.ToStatus)
	}
	assert.Equal(t, models.StatusDone, last.Status)
	assert.NotNil(t, last.ResolvedAt)
	assert.NotNil(t, last.TimerStart)
	assert.NotNil(t, last.TimerEnd)
	assert.Equal(t, "address updated", last.Notes)

	_, _, err := st.Transition(ctx, store.TransitionInput{TicketID: ticket.TicketID, ToStatus: models.StatusCanceled, Reason: "late"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	history, err := st.ListHistory(ctx, ticket.TicketID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.StatusDone, history[0].NewValue)
	assert.Equal(t, models.ActionCreated, history[3].Action)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i-1].CreatedAt.Before(history[i].CreatedAt), "timestamps must not decrease")
	}
	require.NoError(t, store.VerifyHistory(history))
}

func TestTransitionExpectedStatusMismatch(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()
	ticket := createTicket(t, st, service.ServiceID)

	_, _, err := st.Transition(ctx, store.TransitionInput{
		TicketID:       ticket.TicketID,
		ToStatus:       models.StatusInService,
		ExpectedStatus: models.StatusCalled,
	})
	assert.ErrorIs(t, err, store.ErrLostRace)

	reloaded, err := st.GetTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, reloaded.Status)
}

func TestRequeueGoesBehindEveryWaitingTicket(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()

	first := createTicket(t, st, service.ServiceID)
	second := createTicket(t, st, service.ServiceID)

	_, _, err := st.ClaimNext(ctx, store.ClaimInput{ServiceID: service.ServiceID, Actor: "agent-1"})
	require.NoError(t, err)
	third := createTicket(t, st, service.ServiceID)

	requeued, _, err := st.Transition(ctx, store.TransitionInput{TicketID: first.TicketID, ToStatus: models.StatusWaiting})
	require.NoError(t, err)
	assert.Nil(t, requeued.AssignedTo)

	waiting, err := st.ListWaiting(ctx, service.ServiceID)
	require.NoError(t, err)
	var order []string
	for _, ticket := range waiting {
		order = append(order, ticket.TicketID)
	}
	assert.Equal(t, []string{second.TicketID, third.TicketID, first.TicketID}, order)
}

func TestFollowUpCreatesLinkedTicket(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()

	parent, _, err := st.CreateTicket(ctx, store.CreateTicketInput{
		Kind:      models.KindSupport,
		ServiceID: service.ServiceID,
		Title:     "Follow-up: Card blocked",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, parent.Status)

	_, _, err = st.CreateFollowUp(ctx, store.FollowUpInput{TicketID: parent.TicketID})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	for _, step := range []store.TransitionInput{
		{ToStatus: models.StatusInProgress},
		{ToStatus: models.StatusResolved, Notes: "unblocked"},
		{ToStatus: models.StatusClosed},
	} {
		step.TicketID = parent.TicketID
		_, _, err := st.Transition(ctx, step)
		require.NoError(t, err)
	}

	closed, err := st.GetTicket(ctx, parent.TicketID)
	require.NoError(t, err)
	assert.Nil(t, closed.ResolvedAt)
	assert.NotNil(t, closed.ClosedAt)

	child, created, err := st.CreateFollowUp(ctx, store.FollowUpInput{TicketID: parent.TicketID, Actor: "agent-2", Notes: "blocked again"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Follow-up (2): Card blocked", child.Title)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.TicketID, *child.ParentID)

	parentHistory, err := st.ListHistory(ctx, parent.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFollowUp, parentHistory[0].Action)
	assert.Equal(t, child.TicketID, parentHistory[0].NewValue)
}

func TestListStaleCalled(t *testing.T) {
	st, service := setupTestStore(t)
	ctx := context.Background()
	ticket := createTicket(t, st, service.ServiceID)

	calledAt := time.Now().UTC().Add(-10 * time.Minute)
	_, _, err := st.ClaimNext(ctx, store.ClaimInput{ServiceID: service.ServiceID, Actor: "agent-1", ClaimedAt: calledAt})
	require.NoError(t, err)

	stale, err := st.ListStaleCalled(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ticket.TicketID, stale[0].TicketID)

	fresh, err := st.ListStaleCalled(ctx, calledAt.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestUserLookupIsCaseInsensitive(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, models.User{
		Email:        "Lead@Example.com",
		Name:         "Lead",
		RoleName:     "supervisor",
		PasswordHash: "hash",
		Active:       true,
	}))
	user, err := st.GetUserByEmail(ctx, "lead@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "supervisor", user.RoleName)

	_, err = st.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}
