package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams every event to a topic keyed by ticket, which keeps
// the events of one ticket in order within a partition.
type KafkaSink struct {
	Writer MessageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{Writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TicketID),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}

// KafkaConsumer reads events from the topic under a consumer group.
type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &KafkaConsumer{reader: reader}
}

// Next blocks for the next message. A payload that does not decode comes
// back as a *MalformedError; the offset is already committed.
func (c *KafkaConsumer) Next(ctx context.Context) (Event, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, &MalformedError{Offset: msg.Offset, Err: err}
	}
	return event, nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// MalformedError marks a message that could not be decoded.
type MalformedError struct {
	Offset int64
	Err    error
}

func (e *MalformedError) Error() string { return "malformed event: " + e.Err.Error() }

func (e *MalformedError) Unwrap() error { return e.Err }
