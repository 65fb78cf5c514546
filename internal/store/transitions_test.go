package store

import (
	"errors"
	"testing"
	"time"

	"servicedesk/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"claim", "WAITING", true},
		{"claim", "CALLED", false},
		{"start", "CALLED", true},
		{"start", "WAITING", false},
		{"resolve", "IN_SERVICE", true},
		{"resolve", "CALLED", false},
		{"requeue", "CALLED", true},
		{"requeue", "IN_SERVICE", true},
		{"requeue", "WAITING", false},
		{"no-show", "CALLED", true},
		{"no-show", "IN_SERVICE", true},
		{"no-show", "WAITING", false},
		{"cancel", "WAITING", true},
		{"cancel", "IN_SERVICE", true},
		{"cancel", "DONE", false},
		{"start", "open", true},
		{"resolve", "in_progress", true},
		{"close", "resolved", true},
		{"close", "closed", false},
		{"reopen", "resolved", true},
		{"reopen", "closed", true},
		{"reopen", "open", false},
		{"unknown", "WAITING", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func queueTicket(status string) models.Ticket {
	return models.Ticket{
		TicketID:  "t-1",
		Kind:      models.KindQueue,
		ServiceID: "s-1",
		Status:    status,
		CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPlanOnlyListedTransitionsSucceed(t *testing.T) {
	queueStatuses := []string{
		models.StatusWaiting, models.StatusCalled, models.StatusInService,
		models.StatusDone, models.StatusNoShow, models.StatusCanceled,
	}
	allowed := map[[2]string]bool{
		{models.StatusWaiting, models.StatusCalled}:     true,
		{models.StatusCalled, models.StatusInService}:   true,
		{models.StatusInService, models.StatusDone}:     true,
		{models.StatusCalled, models.StatusWaiting}:     true,
		{models.StatusInService, models.StatusWaiting}:  true,
		{models.StatusCalled, models.StatusNoShow}:      true,
		{models.StatusInService, models.StatusNoShow}:   true,
		{models.StatusWaiting, models.StatusCanceled}:   true,
		{models.StatusCalled, models.StatusCanceled}:    true,
		{models.StatusInService, models.StatusCanceled}: true,
	}
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for _, from := range queueStatuses {
		for _, to := range append(queueStatuses, models.StatusOpen, models.StatusClosed) {
			current := queueTicket(from)
			change, err := Plan(current, TransitionInput{ToStatus: to, Actor: "u-1", Notes: "fixed", Reason: "left"}, now)
			if allowed[[2]string{from, to}] {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if change.Ticket.Status != to {
					t.Fatalf("%s -> %s: got status %s", from, to, change.Ticket.Status)
				}
				if (change.Ticket.ResolvedAt != nil) != models.IsResolved(to) {
					t.Fatalf("%s -> %s: resolved_at mismatch", from, to)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			if current.Status != from {
				t.Fatalf("input ticket mutated")
			}
		}
	}
}

func TestPlanResolveRequiresNotes(t *testing.T) {
	_, err := Plan(queueTicket(models.StatusInService), TransitionInput{ToStatus: models.StatusDone, Notes: "   "}, time.Now())
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if vErr.Field != "notes" {
		t.Fatalf("expected notes field, got %q", vErr.Field)
	}
}

func TestPlanResolveSetsTimers(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	change, err := Plan(queueTicket(models.StatusInService), TransitionInput{ToStatus: models.StatusDone, Notes: " fixed "}, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if change.Action != ActionResolve {
		t.Fatalf("expected resolve, got %s", change.Action)
	}
	if change.Ticket.Notes != "fixed" {
		t.Fatalf("expected trimmed notes, got %q", change.Ticket.Notes)
	}
	if change.Ticket.TimerEnd == nil || !change.Ticket.TimerEnd.Equal(now) {
		t.Fatalf("expected timer_end set")
	}
	if change.Ticket.ResolvedAt == nil || !change.Ticket.ResolvedAt.Equal(now) {
		t.Fatalf("expected resolved_at set")
	}
	if change.Entry.OldValue != models.StatusInService || change.Entry.NewValue != models.StatusDone {
		t.Fatalf("unexpected history values %q -> %q", change.Entry.OldValue, change.Entry.NewValue)
	}
	if change.Entry.Actor != "system" {
		t.Fatalf("expected system actor, got %q", change.Entry.Actor)
	}
}

func TestPlanCancelRequiresReason(t *testing.T) {
	_, err := Plan(queueTicket(models.StatusWaiting), TransitionInput{ToStatus: models.StatusCanceled}, time.Now())
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "reason" {
		t.Fatalf("expected reason validation error, got %v", err)
	}
}

func TestPlanRequeueClearsAssignment(t *testing.T) {
	current := queueTicket(models.StatusInService)
	staff := "u-1"
	started := time.Now()
	current.AssignedTo = &staff
	current.TimerStart = &started

	change, err := Plan(current, TransitionInput{ToStatus: models.StatusWaiting}, time.Now())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !change.Requeue {
		t.Fatalf("expected requeue flag")
	}
	if change.Ticket.AssignedTo != nil || change.Ticket.TimerStart != nil {
		t.Fatalf("expected assignment and timer cleared")
	}
}

func TestPlanExpectedStatusMismatchIsLostRace(t *testing.T) {
	_, err := Plan(queueTicket(models.StatusCalled), TransitionInput{ToStatus: models.StatusCalled, ExpectedStatus: models.StatusWaiting}, time.Now())
	if !errors.Is(err, ErrLostRace) {
		t.Fatalf("expected ErrLostRace, got %v", err)
	}
}

func TestPlanTerminalRejectsEverything(t *testing.T) {
	for _, status := range []string{models.StatusDone, models.StatusNoShow, models.StatusCanceled} {
		_, err := Plan(queueTicket(status), TransitionInput{ToStatus: models.StatusCanceled, Reason: "x"}, time.Now())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", status, err)
		}
	}
}

func TestPlanSupportClose(t *testing.T) {
	current := models.Ticket{TicketID: "t-2", Kind: models.KindSupport, Status: models.StatusOpen}
	if _, err := Plan(current, TransitionInput{ToStatus: models.StatusClosed}, time.Now()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := Plan(current, TransitionInput{ToStatus: models.StatusClosed, Privileged: true}, time.Now()); err != nil {
		t.Fatalf("privileged close: %v", err)
	}

	resolvedAt := time.Now()
	current.Status = models.StatusResolved
	current.ResolvedAt = &resolvedAt
	change, err := Plan(current, TransitionInput{ToStatus: models.StatusClosed}, time.Now())
	if err != nil {
		t.Fatalf("close resolved: %v", err)
	}
	if change.Ticket.ResolvedAt != nil || change.Ticket.ClosedAt == nil {
		t.Fatalf("expected resolved_at cleared and closed_at set")
	}
}

func TestTargetStatusDependsOnKind(t *testing.T) {
	cases := []struct {
		action, from, want string
	}{
		{ActionStart, models.StatusCalled, models.StatusInService},
		{ActionStart, models.StatusOpen, models.StatusInProgress},
		{ActionResolve, models.StatusInService, models.StatusDone},
		{ActionResolve, models.StatusInProgress, models.StatusResolved},
		{ActionRequeue, models.StatusInService, models.StatusWaiting},
	}
	for _, tc := range cases {
		got, ok := TargetStatus(tc.action, tc.from)
		if !ok || got != tc.want {
			t.Fatalf("%s from %s: got %q %v, want %q", tc.action, tc.from, got, ok, tc.want)
		}
	}
	if _, ok := TargetStatus(ActionStart, models.StatusDone); ok {
		t.Fatalf("start from DONE must not resolve")
	}
}

func TestCheckReplay(t *testing.T) {
	input := TransitionInput{TicketID: "t-1", ToStatus: models.StatusCalled}
	if err := CheckReplay(input, "t-1", models.StatusCalled); err != nil {
		t.Fatalf("same ticket and status must replay: %v", err)
	}
	if err := CheckReplay(input, "t-1", ""); err != nil {
		t.Fatalf("unrecorded status matches on ticket alone: %v", err)
	}
	var verr *ValidationError
	if err := CheckReplay(input, "t-2", models.StatusCalled); !errors.As(err, &verr) || verr.Field != "request_id" {
		t.Fatalf("expected request_id validation error, got %v", err)
	}
	if err := CheckReplay(input, "t-1", models.StatusWaiting); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for another status, got %v", err)
	}
}

func TestClaimAssigneeFallsBackToActor(t *testing.T) {
	current := models.Ticket{TicketID: "t-1", Kind: models.KindQueue, Status: models.StatusWaiting}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	change, err := Plan(current, TransitionInput{TicketID: "t-1", ToStatus: models.StatusCalled, Actor: "a@example.com", Assignee: "user-1"}, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if change.Ticket.AssignedTo == nil || *change.Ticket.AssignedTo != "user-1" {
		t.Fatalf("expected assignee user-1, got %v", change.Ticket.AssignedTo)
	}
	if change.Entry.Actor != "a@example.com" {
		t.Fatalf("history actor should stay the email, got %s", change.Entry.Actor)
	}

	change, err = Plan(current, TransitionInput{TicketID: "t-1", ToStatus: models.StatusCalled, Actor: "system"}, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if change.Ticket.AssignedTo == nil || *change.Ticket.AssignedTo != "system" {
		t.Fatalf("expected actor fallback, got %v", change.Ticket.AssignedTo)
	}
}
