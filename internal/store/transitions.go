package store

import (
	"fmt"
	"strings"
	"time"

	"servicedesk/internal/models"
)

const (
	ActionClaim   = "claim"
	ActionStart   = "start"
	ActionResolve = "resolve"
	ActionRequeue = "requeue"
	ActionNoShow  = "no-show"
	ActionCancel  = "cancel"
	ActionClose   = "close"
	ActionReopen  = "reopen"
)

type rule struct {
	action string
	from   []string
	to     string
}

var transitionRules = []rule{
	{ActionClaim, []string{models.StatusWaiting}, models.StatusCalled},
	{ActionStart, []string{models.StatusCalled}, models.StatusInService},
	{ActionResolve, []string{models.StatusInService}, models.StatusDone},
	{ActionRequeue, []string{models.StatusCalled, models.StatusInService}, models.StatusWaiting},
	{ActionNoShow, []string{models.StatusCalled, models.StatusInService}, models.StatusNoShow},
	{ActionCancel, []string{models.StatusWaiting, models.StatusCalled, models.StatusInService}, models.StatusCanceled},

	{ActionStart, []string{models.StatusOpen}, models.StatusInProgress},
	{ActionResolve, []string{models.StatusInProgress}, models.StatusResolved},
	{ActionClose, []string{models.StatusResolved, models.StatusOpen, models.StatusInProgress}, models.StatusClosed},
}

// reopen does not move the original ticket, it spawns a follow-up.
var reopenFrom = []string{models.StatusResolved, models.StatusClosed}

// ActionFor names the transition that moves a ticket from one status to
// another, or returns false when the move is not allowed.
func ActionFor(from, to string) (string, bool) {
	for _, r := range transitionRules {
		if r.to != to {
			continue
		}
		if contains(r.from, from) {
			return r.action, true
		}
	}
	return "", false
}

// TargetStatus resolves a named action against the current status. The
// same action can land on different statuses per ticket kind.
func TargetStatus(action, fromStatus string) (string, bool) {
	for _, r := range transitionRules {
		if r.action == action && contains(r.from, fromStatus) {
			return r.to, true
		}
	}
	return "", false
}

func ValidTransition(action, fromStatus string) bool {
	if action == ActionReopen {
		return contains(reopenFrom, fromStatus)
	}
	for _, r := range transitionRules {
		if r.action == action && contains(r.from, fromStatus) {
			return true
		}
	}
	return false
}

// Change is the outcome of planning one transition.
type Change struct {
	Action  string
	Ticket  models.Ticket
	Entry   models.HistoryEntry
	Requeue bool
}

// Plan validates a transition against the current ticket and returns the
// ticket as it must be written together with its history entry. Storage
// backends apply the result with a conditional update on current.Status.
// A requeued ticket needs a fresh queue order from the backend.
func Plan(current models.Ticket, input TransitionInput, now time.Time) (Change, error) {
	if input.ExpectedStatus != "" && input.ExpectedStatus != current.Status {
		return Change{}, ErrLostRace
	}
	if models.IsTerminal(current.Status) {
		return Change{}, ErrInvalidTransition
	}
	action, ok := ActionFor(current.Status, input.ToStatus)
	if !ok {
		return Change{}, ErrInvalidTransition
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	next := current
	next.Status = input.ToStatus
	next.UpdatedAt = now
	requeue := false

	switch action {
	case ActionClaim:
		if assignee := assigneeOf(input); assignee != "" {
			next.AssignedTo = &assignee
		}
	case ActionStart:
		if current.Kind == models.KindQueue {
			next.TimerStart = &now
		}
		if assignee := assigneeOf(input); next.AssignedTo == nil && assignee != "" {
			next.AssignedTo = &assignee
		}
	case ActionResolve:
		notes := strings.TrimSpace(input.Notes)
		if notes == "" {
			return Change{}, Invalid("notes", "are required to resolve a ticket")
		}
		next.Notes = notes
		next.ResolvedAt = &now
		if current.Kind == models.KindQueue {
			next.TimerEnd = &now
		}
	case ActionRequeue:
		next.AssignedTo = nil
		next.TimerStart = nil
		requeue = true
	case ActionNoShow:
		if current.TimerStart != nil {
			next.TimerEnd = &now
		}
	case ActionCancel:
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			return Change{}, Invalid("reason", "is required to cancel a ticket")
		}
		next.CancelReason = reason
	case ActionClose:
		if current.Status != models.StatusResolved && !input.Privileged {
			return Change{}, ErrForbidden
		}
		next.ResolvedAt = nil
		next.ClosedAt = &now
	}

	entry := models.HistoryEntry{
		TicketID:  current.TicketID,
		Action:    models.ActionStatusChanged,
		OldValue:  current.Status,
		NewValue:  next.Status,
		Actor:     ActorOrSystem(input.Actor),
		CreatedAt: now,
	}
	return Change{Action: action, Ticket: next, Entry: entry, Requeue: requeue}, nil
}

func assigneeOf(input TransitionInput) string {
	if input.Assignee != "" {
		return input.Assignee
	}
	return input.Actor
}

// CheckReplay accepts a repeated request id only when it names the same
// ticket and target status as the recorded call. An empty recorded status
// comes from rows written before statuses were recorded and matches on the
// ticket alone.
func CheckReplay(input TransitionInput, recordedTicketID, recordedStatus string) error {
	if recordedTicketID != input.TicketID {
		return Invalid("request_id", "was already used for another ticket")
	}
	if recordedStatus != "" && recordedStatus != input.ToStatus {
		return Invalid("request_id", fmt.Sprintf("was already used to move this ticket to %s", recordedStatus))
	}
	return nil
}

func ActorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return actor
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
