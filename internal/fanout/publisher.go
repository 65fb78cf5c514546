package fanout

import (
	"context"

	"servicedesk/internal/logging"
)

// Publisher hands an event to one delivery medium.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// HubPublisher delivers to subscribers connected to this process.
type HubPublisher struct {
	Hub *Hub
}

func (p HubPublisher) Publish(_ context.Context, event Event) error {
	return p.Hub.Deliver(event)
}

type sink struct {
	name      string
	publisher Publisher
}

// Multi fans an event out to every sink. A failing sink is logged and does
// not stop the others, and Publish itself never fails.
type Multi struct {
	sinks  []sink
	logger *logging.Logger
}

func NewMulti(logger *logging.Logger) *Multi {
	return &Multi{logger: logger}
}

func (m *Multi) Add(name string, publisher Publisher) *Multi {
	if publisher != nil {
		m.sinks = append(m.sinks, sink{name: name, publisher: publisher})
	}
	return m
}

func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.name)
	}
	return names
}

func (m *Multi) Publish(ctx context.Context, event Event) error {
	for _, s := range m.sinks {
		if err := s.publisher.Publish(ctx, event); err != nil {
			m.logger.Warnf("fanout", "publish %s to %s failed: %v", event.TicketID, s.name, err)
		}
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
