package store

import (
	"errors"
	"testing"
	"time"

	"servicedesk/internal/models"
)

func TestFollowUpTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Printer jammed", "Follow-up: Printer jammed"},
		{"Follow-up: Printer jammed", "Follow-up (2): Printer jammed"},
		{"follow-up:   Printer jammed", "Follow-up (2): Printer jammed"},
		{"Follow-up (2): Printer jammed", "Follow-up (3): Printer jammed"},
		{"Follow-up: Follow-up: Printer jammed", "Follow-up (3): Printer jammed"},
		{"Follow up: Printer jammed", "Follow-up (2): Printer jammed"},
		{"", "Follow-up: Untitled"},
		{"Follow-up: ", "Follow-up (2): Untitled"},
		{"Followed-up question", "Follow-up: Followed-up question"},
	}
	for _, tt := range cases {
		if got := FollowUpTitle(tt.in); got != tt.want {
			t.Fatalf("FollowUpTitle(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlanFollowUp(t *testing.T) {
	customer := "c-1"
	parent := models.Ticket{
		TicketID:   "t-1",
		Kind:       models.KindSupport,
		ServiceID:  "s-1",
		CustomerID: &customer,
		Title:      "Login fails",
		Status:     models.StatusResolved,
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	plan, err := PlanFollowUp(parent, FollowUpInput{TicketID: "t-1", Actor: "u-1", Notes: " still broken "}, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Ticket.Status != models.StatusOpen || plan.Ticket.Title != "Follow-up: Login fails" {
		t.Fatalf("unexpected child %+v", plan.Ticket)
	}
	if plan.Ticket.ParentID == nil || *plan.Ticket.ParentID != "t-1" {
		t.Fatalf("expected parent link")
	}
	if plan.Ticket.Notes != "still broken" {
		t.Fatalf("expected trimmed notes, got %q", plan.Ticket.Notes)
	}
	if plan.ParentEntry.Action != models.ActionFollowUp || plan.ChildEntry.Action != models.ActionCreated {
		t.Fatalf("unexpected history actions")
	}

	for _, status := range []string{models.StatusOpen, models.StatusInProgress} {
		parent.Status = status
		if _, err := PlanFollowUp(parent, FollowUpInput{}, now); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("status %s: expected ErrInvalidTransition, got %v", status, err)
		}
	}

	queued := models.Ticket{TicketID: "t-2", Kind: models.KindQueue, Status: models.StatusDone}
	if _, err := PlanFollowUp(queued, FollowUpInput{}, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("queue ticket: expected ErrInvalidTransition, got %v", err)
	}
}
