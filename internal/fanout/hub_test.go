package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"servicedesk/internal/logging"
	"servicedesk/internal/models"
)

func testEvent() Event {
	ticket := models.Ticket{
		TicketID:     "t-1",
		TicketNumber: "GEN-001",
		ServiceID:    "s-1",
		Kind:         models.KindQueue,
		Status:       models.StatusCalled,
	}
	return NewEvent("claim", models.StatusWaiting, ticket, "agent-1", time.Now())
}

func TestHubRoutesByChannel(t *testing.T) {
	hub := NewHub(logging.Nop())
	board := NewClient("board", 4)
	kiosk := NewClient("kiosk", 4)
	other := NewClient("other", 4)
	for _, c := range []*Client{board, kiosk, other} {
		hub.Register(c)
	}
	hub.Subscribe(board, ServiceChannel("s-1"))
	hub.Subscribe(kiosk, TicketChannel("t-1"))
	hub.Subscribe(kiosk, ServiceChannel("s-1"))
	hub.Subscribe(other, ServiceChannel("s-2"))

	if err := hub.Deliver(testEvent()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(board.Send) != 1 {
		t.Fatalf("board should get one message, got %d", len(board.Send))
	}
	if len(kiosk.Send) != 1 {
		t.Fatalf("kiosk subscribed twice must still get one message, got %d", len(kiosk.Send))
	}
	if len(other.Send) != 0 {
		t.Fatalf("other service must not receive the event")
	}

	var got Event
	if err := json.Unmarshal(<-board.Send, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != TypeTicketUpdated || got.NewStatus != models.StatusCalled || got.OldStatus != models.StatusWaiting {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestTicketChannelGetsPublicEvent(t *testing.T) {
	hub := NewHub(logging.Nop())
	board := NewClient("board", 4)
	kiosk := NewClient("kiosk", 4)
	hub.Register(board)
	hub.Register(kiosk)
	hub.Subscribe(board, ServiceChannel("s-1"))
	hub.Subscribe(kiosk, TicketChannel("t-1"))

	event := testEvent()
	event.CustomerID = "c-1"
	if err := hub.Deliver(event); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var staff, public Event
	if err := json.Unmarshal(<-board.Send, &staff); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(<-kiosk.Send, &public); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if staff.Actor != "agent-1" || staff.CustomerID != "c-1" {
		t.Fatalf("service subscribers get the full event, got %+v", staff)
	}
	if public.Actor != "" || public.CustomerID != "" {
		t.Fatalf("ticket subscribers must not see identities, got %+v", public)
	}
	if public.NewStatus != models.StatusCalled || public.TicketNumber != "GEN-001" {
		t.Fatalf("unexpected public event %+v", public)
	}
}

func TestHubBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logging.Nop())
	slow := NewClient("slow", 1)
	hub.Register(slow)
	hub.Subscribe(slow, ServiceChannel("s-1"))

	done := make(chan struct{})
	go func() {
		hub.Broadcast([]byte("1"), ServiceChannel("s-1"))
		hub.Broadcast([]byte("2"), ServiceChannel("s-1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client")
	}
	if got := string(<-slow.Send); got != "1" {
		t.Fatalf("expected first payload, got %q", got)
	}
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(logging.Nop())
	c := NewClient("c", 1)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)
	if hub.Count() != 0 {
		t.Fatalf("expected no clients")
	}
	if _, ok := <-c.Send; ok {
		t.Fatalf("send channel must be closed")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, channel, ok := ParseSubscribe([]byte(`{"action":"subscribe","channel":"ticket:t-9"}`))
	if !ok || msg.Action != "subscribe" || channel != TicketChannel("t-9") {
		t.Fatalf("unexpected parse result %v %v %v", msg, channel, ok)
	}
	if _, _, ok := ParseSubscribe([]byte(`{"action":"publish","channel":"ticket:t-9"}`)); ok {
		t.Fatalf("unknown action must be rejected")
	}
	if _, _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatalf("garbage must be rejected")
	}
}

func TestMultiKeepsGoingAfterFailure(t *testing.T) {
	var calls []string
	multi := NewMulti(logging.Nop()).
		Add("broken", PublisherFunc(func(context.Context, Event) error {
			calls = append(calls, "broken")
			return errors.New("broker down")
		})).
		Add("hub", PublisherFunc(func(context.Context, Event) error {
			calls = append(calls, "hub")
			return nil
		})).
		Add("nil", nil)

	if err := multi.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("multi must swallow sink errors: %v", err)
	}
	if len(calls) != 2 || calls[1] != "hub" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if names := multi.Names(); len(names) != 2 {
		t.Fatalf("nil publisher must be skipped, got %v", names)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(testEvent()); got != "ticket.claim" {
		t.Fatalf("unexpected routing key %q", got)
	}
	if got := RoutingKey(Event{}); got != "ticket.updated" {
		t.Fatalf("unexpected default key %q", got)
	}
}
