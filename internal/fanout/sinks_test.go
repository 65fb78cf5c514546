package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByTicket(t *testing.T) {
	writer := &recordingWriter{}
	sink := &KafkaSink{Writer: writer}

	if err := sink.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "t-1" {
		t.Fatalf("expected key t-1, got %q", msg.Key)
	}
	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.Action != "claim" || got.NewStatus != "CALLED" || got.Actor != "agent-1" || got.ServiceID != "s-1" {
		t.Fatalf("unexpected value: %+v", got)
	}

	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("close did not reach the writer: %v", err)
	}
}

func TestKafkaSinkReturnsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	sink := &KafkaSink{Writer: &recordingWriter{err: boom}}
	if err := sink.Publish(context.Background(), testEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

type doneToken struct {
	err     error
	timeout bool
}

func (t doneToken) Wait() bool { return !t.timeout }

func (t doneToken) WaitTimeout(time.Duration) bool { return !t.timeout }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// recordingClient stubs the paho client; only Publish and Disconnect are
// reached by the sink.
type recordingClient struct {
	mqtt.Client
	sent         []published
	token        doneToken
	disconnected bool
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return c.token
}

func (c *recordingClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTSinkPublishesPerChannel(t *testing.T) {
	client := &recordingClient{}
	sink := NewMQTTSink(client)

	if err := sink.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected two publishes, got %d", len(client.sent))
	}
	if client.sent[0].topic != "servicedesk/service/s-1" || client.sent[1].topic != "servicedesk/ticket/t-1" {
		t.Fatalf("unexpected topics: %s, %s", client.sent[0].topic, client.sent[1].topic)
	}
	for _, p := range client.sent {
		if p.qos != 1 || p.retained {
			t.Fatalf("expected qos 1 without retain on %s", p.topic)
		}
	}

	var staff, public Event
	if err := json.Unmarshal(client.sent[0].payload, &staff); err != nil {
		t.Fatalf("decode service payload: %v", err)
	}
	if err := json.Unmarshal(client.sent[1].payload, &public); err != nil {
		t.Fatalf("decode ticket payload: %v", err)
	}
	if staff.Actor != "agent-1" || staff.TicketNumber != "GEN-001" {
		t.Fatalf("unexpected service payload: %+v", staff)
	}
	if public.Actor != "" || public.TicketNumber != "GEN-001" || public.NewStatus != "CALLED" {
		t.Fatalf("unexpected ticket payload: %+v", public)
	}

	sink.Close()
	if !client.disconnected {
		t.Fatalf("close did not disconnect the client")
	}
}

func TestMQTTSinkReportsTimeoutAndError(t *testing.T) {
	sink := NewMQTTSink(&recordingClient{token: doneToken{timeout: true}})
	if err := sink.Publish(context.Background(), testEvent()); err == nil {
		t.Fatalf("expected timeout error")
	}

	boom := errors.New("not connected")
	client := &recordingClient{token: doneToken{err: boom}}
	sink = NewMQTTSink(client)
	if err := sink.Publish(context.Background(), testEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected publishing to stop at the first failure, got %d", len(client.sent))
	}
}
