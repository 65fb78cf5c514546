package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"servicedesk/internal/models"
)

var followUpPrefix = regexp.MustCompile(`(?i)^\s*follow[\s-]?up(?:\s*\((\d+)\))?\s*:\s*`)

// FollowUpTitle derives the title of a follow-up ticket. Existing
// "Follow-up:" prefixes are stripped and counted, so a follow-up of a
// follow-up reads "Follow-up (2): <title>" instead of stacking prefixes.
func FollowUpTitle(title string) string {
	base := title
	count := 0
	for {
		match := followUpPrefix.FindStringSubmatchIndex(base)
		if match == nil {
			break
		}
		n := 1
		if match[2] >= 0 {
			if parsed, err := strconv.Atoi(base[match[2]:match[3]]); err == nil && parsed > 0 {
				n = parsed
			}
		}
		count += n
		base = base[match[1]:]
	}
	base = strings.TrimSpace(base)
	if base == "" {
		base = "Untitled"
	}
	count++
	if count == 1 {
		return "Follow-up: " + base
	}
	return fmt.Sprintf("Follow-up (%d): %s", count, base)
}

// FollowUp is a planned follow-up: the new ticket plus one history entry
// for each side of the link. Backends fill in ids, number and sequence.
type FollowUp struct {
	Ticket      models.Ticket
	ChildEntry  models.HistoryEntry
	ParentEntry models.HistoryEntry
}

// PlanFollowUp reopens a resolved or closed support ticket by creating a new
// open ticket that points back at it. The parent itself is left unchanged.
func PlanFollowUp(parent models.Ticket, input FollowUpInput, now time.Time) (FollowUp, error) {
	if parent.Kind != models.KindSupport || !ValidTransition(ActionReopen, parent.Status) {
		return FollowUp{}, ErrInvalidTransition
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	parentID := parent.TicketID
	notes := strings.TrimSpace(input.Notes)

	child := models.Ticket{
		Kind:       models.KindSupport,
		ServiceID:  parent.ServiceID,
		CustomerID: parent.CustomerID,
		Title:      FollowUpTitle(parent.Title),
		Notes:      notes,
		Status:     models.StatusOpen,
		ParentID:   &parentID,
		RequestID:  input.RequestID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	actor := ActorOrSystem(input.Actor)
	return FollowUp{
		Ticket: child,
		ChildEntry: models.HistoryEntry{
			Action:    models.ActionCreated,
			OldValue:  parentID,
			NewValue:  models.StatusOpen,
			Actor:     actor,
			CreatedAt: now,
		},
		ParentEntry: models.HistoryEntry{
			TicketID:  parentID,
			Action:    models.ActionFollowUp,
			OldValue:  parent.Status,
			Actor:     actor,
			CreatedAt: now,
		},
	}, nil
}
