package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mailersend/mailersend-go"

	"servicedesk/internal/logging"
)

// Message is one rendered notification for one recipient.
type Message struct {
	Recipient    string
	Subject      string
	Body         string
	TicketNumber string
	Status       string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	MailerSend   MailerSendConfig
}

type MailerSendConfig struct {
	APIKey     string
	FromEmail  string
	FromName   string
	TemplateID string
}

// NewProvider picks a provider by name. Unknown names, and a webhook or
// mailersend provider missing its settings, fall back to logging.
func NewProvider(cfg ProviderConfig, logger *logging.Logger) Provider {
	switch cfg.Kind {
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn("notify", "NOTIF_WEBHOOK_URL is empty, falling back to log provider")
			return logProvider{logger: logger}
		}
		return webhookProvider{url: cfg.WebhookURL, token: cfg.WebhookToken, client: &http.Client{Timeout: 5 * time.Second}}
	case "mailersend":
		if cfg.MailerSend.APIKey == "" || cfg.MailerSend.FromEmail == "" {
			logger.Warn("notify", "mailersend is not configured, falling back to log provider")
			return logProvider{logger: logger}
		}
		return NewMailerSendProvider(cfg.MailerSend)
	default:
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger *logging.Logger
}

func (p logProvider) Send(_ context.Context, msg Message) error {
	p.logger.Infof("notify", "send email to %s: %s", msg.Recipient, msg.Body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(context.Context, Message) error { return nil }

type failProvider struct{}

func (failProvider) Send(context.Context, Message) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func (p webhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{
		"channel":   "email",
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"message":   msg.Body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}

type MailerSendProvider struct {
	client *mailersend.Mailersend
	cfg    MailerSendConfig
}

func NewMailerSendProvider(cfg MailerSendConfig) *MailerSendProvider {
	return &MailerSendProvider{client: mailersend.NewMailersend(cfg.APIKey), cfg: cfg}
}

// Send uses the configured template when there is one, with the ticket
// fields as personalization data, and the rendered text otherwise.
func (p *MailerSendProvider) Send(ctx context.Context, msg Message) error {
	message := p.client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: p.cfg.FromName, Email: p.cfg.FromEmail})
	message.SetRecipients([]mailersend.Recipient{{Email: msg.Recipient}})
	message.SetSubject(msg.Subject)
	if p.cfg.TemplateID != "" {
		message.SetTemplateID(p.cfg.TemplateID)
		message.SetPersonalization([]mailersend.Personalization{{
			Email: msg.Recipient,
			Data: map[string]interface{}{
				"ticket_number": msg.TicketNumber,
				"status":        msg.Status,
				"message":       msg.Body,
			},
		}})
	} else {
		message.SetText(msg.Body)
	}

	if _, err := p.client.Email.Send(ctx, message); err != nil {
		return fmt.Errorf("mailersend: %w", err)
	}
	return nil
}
