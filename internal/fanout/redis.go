package fanout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"

	"servicedesk/internal/logging"
)

const RedisChannel = "servicedesk:events"

// RedisBroker relays events between API replicas. Publish writes to a Redis
// pub/sub channel and Run feeds every received event into the local hub, so
// a replica configured with a broker must not also publish to its hub
// directly.
type RedisBroker struct {
	Client  *redis.Client
	Channel string
	hub     *Hub
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, hub *Hub, logger *logging.Logger) *RedisBroker {
	return &RedisBroker{Client: client, Channel: RedisChannel, hub: hub, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.Client.Publish(ctx, b.Channel, payload).Err()
}

// Run blocks until ctx is done or the subscription fails.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.Client.Subscribe(ctx, b.Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.logger.Infof("fanout", "redis relay subscribed on %s", b.Channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnf("fanout", "discard malformed relay payload: %v", err)
				continue
			}
			if err := b.hub.Deliver(event); err != nil {
				b.logger.Warnf("fanout", "relay deliver %s: %v", event.TicketID, err)
			}
		}
	}
}
