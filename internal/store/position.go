package store

import (
	"sort"

	"servicedesk/internal/models"
)

// Positions annotates waiting tickets with their 1-based place in line.
// Ties on queue order fall back to creation time, then id, so the result
// is deterministic.
func Positions(waiting []models.Ticket) []models.QueuePosition {
	ordered := make([]models.Ticket, 0, len(waiting))
	for _, ticket := range waiting {
		if ticket.Status == models.StatusWaiting {
			ordered = append(ordered, ticket)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.QueueOrder != b.QueueOrder {
			return a.QueueOrder < b.QueueOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})

	out := make([]models.QueuePosition, len(ordered))
	for i, ticket := range ordered {
		out[i] = models.QueuePosition{Ticket: ticket, Position: i + 1, Ahead: i}
	}
	return out
}

// PositionOf finds one ticket in the annotated line.
func PositionOf(positions []models.QueuePosition, ticketID string) (models.QueuePosition, bool) {
	for _, pos := range positions {
		if pos.Ticket.TicketID == ticketID {
			return pos, true
		}
	}
	return models.QueuePosition{}, false
}
