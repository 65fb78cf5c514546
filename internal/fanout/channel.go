// Package fanout delivers best-effort ticket notifications. Events are keyed
// by channel: one per service line and one per ticket.
package fanout

import (
	"fmt"
	"strings"
)

type ChannelKind string

const (
	KindService ChannelKind = "service"
	KindTicket  ChannelKind = "ticket"
)

// Channel is a subscription key. The zero value matches nothing.
type Channel struct {
	kind ChannelKind
	id   string
}

func ServiceChannel(serviceID string) Channel {
	return Channel{kind: KindService, id: serviceID}
}

func TicketChannel(ticketID string) Channel {
	return Channel{kind: KindTicket, id: ticketID}
}

func (c Channel) Kind() ChannelKind { return c.kind }
func (c Channel) ID() string        { return c.id }
func (c Channel) IsZero() bool      { return c.kind == "" || c.id == "" }

func (c Channel) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.kind) + ":" + c.id
}

// ParseChannel reads "service:<id>" or "ticket:<id>".
func ParseChannel(raw string) (Channel, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Channel{}, fmt.Errorf("channel %q: expected <kind>:<id>", raw)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Channel{}, fmt.Errorf("channel %q: empty id", raw)
	}
	switch ChannelKind(strings.ToLower(kind)) {
	case KindService:
		return ServiceChannel(id), nil
	case KindTicket:
		return TicketChannel(id), nil
	default:
		return Channel{}, fmt.Errorf("channel %q: unknown kind %q", raw, kind)
	}
}
