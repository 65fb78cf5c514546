package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"servicedesk/internal/logging"
)

const mqttTopicPrefix = "servicedesk"

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Logger    *logging.Logger
}

// ConnectMQTT dials the broker and keeps reconnecting in the background.
func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "servicedesk-api"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if cfg.Logger != nil {
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			cfg.Logger.Warnf("mqtt", "connection lost: %v", err)
		}
		opts.OnConnect = func(_ mqtt.Client) {
			cfg.Logger.Infof("mqtt", "connected broker=%s client_id=%s", cfg.BrokerURL, cfg.ClientID)
		}
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// MQTTTopic maps a channel onto the broker's topic tree, for example
// servicedesk/service/<id>.
func MQTTTopic(channel Channel) string {
	return fmt.Sprintf("%s/%s/%s", mqttTopicPrefix, channel.Kind(), channel.ID())
}

// MQTTSink publishes each event on the topic of every channel it belongs
// to, so display boards can subscribe without going through the API. Ticket
// topics carry the public form of the event.
type MQTTSink struct {
	Client  mqtt.Client
	Timeout time.Duration
}

func NewMQTTSink(client mqtt.Client) *MQTTSink {
	return &MQTTSink{Client: client, Timeout: 3 * time.Second}
}

func (s *MQTTSink) Publish(_ context.Context, event Event) error {
	full, err := json.Marshal(event)
	if err != nil {
		return err
	}
	public, err := json.Marshal(event.Public())
	if err != nil {
		return err
	}
	for _, channel := range event.Channels() {
		payload := full
		if channel.Kind() == KindTicket {
			payload = public
		}
		tok := s.Client.Publish(MQTTTopic(channel), 1, false, payload)
		if !tok.WaitTimeout(s.Timeout) {
			return fmt.Errorf("mqtt publish %s: timeout", MQTTTopic(channel))
		}
		if err := tok.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (s *MQTTSink) Close() {
	s.Client.Disconnect(250)
}
