package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"servicedesk/internal/fanout"
	"servicedesk/internal/logging"
	"servicedesk/internal/models"
	"servicedesk/internal/store"
)

func TestRenderTemplate(t *testing.T) {
	event := fanout.Event{TicketNumber: "GEN-001", NewStatus: "DONE", ServiceID: "s-1"}
	got := renderTemplate("Ticket {ticket_number} at {service_id} is {status}", event)
	if got != "Ticket GEN-001 at s-1 is DONE" {
		t.Fatalf("unexpected template render: %s", got)
	}
}

type customers map[string]models.Customer

func (c customers) GetCustomer(_ context.Context, id string) (models.Customer, error) {
	customer, ok := c[id]
	if !ok {
		return models.Customer{}, store.ErrCustomerNotFound
	}
	return customer, nil
}

type recordingProvider struct {
	sent  []Message
	fails int
}

func (p *recordingProvider) Send(_ context.Context, msg Message) error {
	if p.fails > 0 {
		p.fails--
		return errors.New("provider failure")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func TestHandleSendsForMilestones(t *testing.T) {
	provider := &recordingProvider{}
	w := New(nil, customers{
		"c-1": {CustomerID: "c-1", Email: "ana@example.com"},
		"c-2": {CustomerID: "c-2"},
	}, provider, logging.Nop(), Config{})

	events := []fanout.Event{
		{Action: "claim", CustomerID: "c-1", TicketNumber: "GEN-001", NewStatus: "CALLED"},
		{Action: "start", CustomerID: "c-1", TicketNumber: "GEN-001"},
		{Action: "resolve", CustomerID: "c-2", TicketNumber: "GEN-002"},
		{Action: "cancel", CustomerID: "missing", TicketNumber: "GEN-003"},
		{Action: "no-show", TicketNumber: "GEN-004"},
	}
	for _, event := range events {
		if err := w.Handle(context.Background(), event); err != nil {
			t.Fatalf("%s: %v", event.Action, err)
		}
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(provider.sent))
	}
	msg := provider.sent[0]
	if msg.Recipient != "ana@example.com" || !strings.Contains(msg.Body, "GEN-001") || !strings.Contains(msg.Subject, "your turn") {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHandleRetriesThenGivesUp(t *testing.T) {
	provider := &recordingProvider{fails: 2}
	w := New(nil, customers{"c-1": {Email: "ana@example.com"}}, provider, logging.Nop(), Config{MaxAttempts: 3})
	event := fanout.Event{Action: "resolve", CustomerID: "c-1", TicketNumber: "GEN-001"}

	if err := w.Handle(context.Background(), event); err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}

	provider.fails = 5
	if err := w.Handle(context.Background(), event); err == nil {
		t.Fatalf("expected error after max attempts")
	}
}

type scriptedSource struct {
	events []fanout.Event
	errs   []error
	cancel context.CancelFunc
}

func (s *scriptedSource) Next(ctx context.Context) (fanout.Event, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return fanout.Event{}, err
	}
	if len(s.events) == 0 {
		s.cancel()
		<-ctx.Done()
		return fanout.Event{}, ctx.Err()
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func TestRunSkipsMalformedAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		errs:   []error{&fanout.MalformedError{Offset: 7, Err: errors.New("bad json")}},
		events: []fanout.Event{{Action: "claim", CustomerID: "c-1", TicketNumber: "GEN-009"}},
		cancel: cancel,
	}
	provider := &recordingProvider{}
	w := New(source, customers{"c-1": {Email: "ana@example.com"}}, provider, logging.Nop(), Config{})

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(provider.sent) != 1 || provider.sent[0].TicketNumber != "GEN-009" {
		t.Fatalf("unexpected sends %+v", provider.sent)
	}
}

func TestWebhookProvider(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if strings.Contains(r.URL.Path, "reject") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ok := NewProvider(ProviderConfig{Kind: "webhook", WebhookURL: server.URL + "/send", WebhookToken: "tok"}, logging.Nop())
	if err := ok.Send(context.Background(), Message{Recipient: "a@example.com", Body: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("token not forwarded: %q", auth)
	}

	rejecting := NewProvider(ProviderConfig{Kind: "webhook", WebhookURL: server.URL + "/reject"}, logging.Nop())
	if err := rejecting.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestNewProviderFallsBackToLog(t *testing.T) {
	if _, ok := NewProvider(ProviderConfig{Kind: "webhook"}, logging.Nop()).(logProvider); !ok {
		t.Fatalf("webhook without url must fall back to log")
	}
	if _, ok := NewProvider(ProviderConfig{Kind: "mailersend"}, logging.Nop()).(logProvider); !ok {
		t.Fatalf("mailersend without key must fall back to log")
	}
	if _, ok := NewProvider(ProviderConfig{Kind: "mailersend", MailerSend: MailerSendConfig{APIKey: "k", FromEmail: "desk@example.com"}}, logging.Nop()).(*MailerSendProvider); !ok {
		t.Fatalf("configured mailersend provider expected")
	}
	if _, ok := NewProvider(ProviderConfig{Kind: "fail"}, logging.Nop()).(failProvider); !ok {
		t.Fatalf("fail provider expected")
	}
}
