package fanout

import (
	"encoding/json"
	"sync"

	"servicedesk/internal/logging"
)

// Client is one live subscriber. Send is closed by Unregister.
type Client struct {
	ID       string
	Send     chan []byte
	channels map[Channel]struct{}
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer), channels: make(map[Channel]struct{})}
}

// Hub routes payloads to the clients subscribed on this process. Delivery
// is at-most-once: a client whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channel Channel) {
	if channel.IsZero() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client.channels[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(client *Client, channel Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.channels, channel)
}

// Subscriptions is a snapshot of the client's channels.
func (h *Hub) Subscriptions(client *Client) []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Channel, 0, len(client.channels))
	for channel := range client.channels {
		out = append(out, channel)
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload once to every client subscribed to any of the
// channels, without blocking.
func (h *Hub) Broadcast(payload []byte, channels ...Channel) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if subscribed(client, channels) {
			h.send(client, payload)
		}
	}
}

// Deliver encodes the event and sends it once to every subscriber of its
// channels. Service subscribers are staff and get the full event; clients
// on the ticket channel alone get Event.Public.
func (h *Hub) Deliver(event Event) error {
	full, err := json.Marshal(event)
	if err != nil {
		return err
	}
	public, err := json.Marshal(event.Public())
	if err != nil {
		return err
	}
	staff := []Channel{ServiceChannel(event.ServiceID)}
	anonymous := []Channel{TicketChannel(event.TicketID)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		switch {
		case event.ServiceID != "" && subscribed(client, staff):
			h.send(client, full)
		case event.TicketID != "" && subscribed(client, anonymous):
			h.send(client, public)
		}
	}
	return nil
}

func (h *Hub) send(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		h.logger.Warnf("fanout", "drop message for client %s", client.ID)
	}
}

func subscribed(client *Client, channels []Channel) bool {
	for _, channel := range channels {
		if _, ok := client.channels[channel]; ok {
			return true
		}
	}
	return false
}

// SubscribeMessage is the client-to-server control frame.
type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, Channel, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, Channel{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, Channel{}, false
	}
	channel, err := ParseChannel(msg.Channel)
	if err != nil {
		return SubscribeMessage{}, Channel{}, false
	}
	return msg, channel, true
}
