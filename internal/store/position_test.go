package store

import (
	"testing"
	"time"

	"servicedesk/internal/models"
)

func TestPositions(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		{TicketID: "c", Status: models.StatusWaiting, QueueOrder: 3, CreatedAt: base.Add(2 * time.Minute)},
		{TicketID: "a", Status: models.StatusWaiting, QueueOrder: 5, CreatedAt: base},
		{TicketID: "x", Status: models.StatusCalled, QueueOrder: 1, CreatedAt: base},
		{TicketID: "b", Status: models.StatusWaiting, QueueOrder: 2, CreatedAt: base.Add(time.Minute)},
	}

	positions := Positions(tickets)
	if len(positions) != 3 {
		t.Fatalf("expected 3 waiting tickets, got %d", len(positions))
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if positions[i].Ticket.TicketID != id {
			t.Fatalf("position %d: expected %s, got %s", i+1, id, positions[i].Ticket.TicketID)
		}
		if positions[i].Position != i+1 || positions[i].Ahead != i {
			t.Fatalf("ticket %s: position=%d ahead=%d", id, positions[i].Position, positions[i].Ahead)
		}
	}

	pos, ok := PositionOf(positions, "a")
	if !ok || pos.Position != 3 {
		t.Fatalf("expected a at position 3, got %+v", pos)
	}
	if _, ok := PositionOf(positions, "x"); ok {
		t.Fatalf("called ticket must not have a position")
	}
}
