package fanout

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes events to a durable topic exchange with routing key
// ticket.<action>, so a consumer can bind to ticket.# or ticket.no-show.
type AMQPSink struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	s := &AMQPSink{url: url, exchange: exchange}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	err = ch.ExchangeDeclare(
		s.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	s.conn, s.channel = conn, ch
	return nil
}

func (s *AMQPSink) ensureConnection() error {
	if s.conn == nil || s.conn.IsClosed() || s.channel == nil || s.channel.IsClosed() {
		if s.conn != nil && !s.conn.IsClosed() {
			s.conn.Close()
		}
		return s.connect()
	}
	return nil
}

func RoutingKey(event Event) string {
	if event.Action == "" {
		return "ticket.updated"
	}
	return "ticket." + event.Action
}

func (s *AMQPSink) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnection(); err != nil {
		return err
	}
	return s.channel.PublishWithContext(ctx,
		s.exchange,
		RoutingKey(event),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.TicketID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
