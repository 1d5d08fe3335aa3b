package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"taskforge/internal/config"
)

// EmailClient delivers email through SendGrid
type EmailClient struct {
	cfg    config.EmailConfig
	client *sendgrid.Client
	logger *slog.Logger
}

// NewEmailClient creates a SendGrid-backed email client
func NewEmailClient(cfg config.EmailConfig, logger *slog.Logger) *EmailClient {
	return &EmailClient{
		cfg:    cfg,
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		logger: logger,
	}
}

// Send delivers one email
func (c *EmailClient) Send(ctx context.Context, recipient, subject, body string) error {
	from := mail.NewEmail(c.cfg.FromName, c.cfg.FromAddress)
	to := mail.NewEmail("", recipient)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid rejected email: status %d", response.StatusCode)
	}

	c.logger.Debug("Email sent", "recipient", recipient, "status", response.StatusCode)
	return nil
}

// SMSClient delivers SMS through Twilio
type SMSClient struct {
	cfg    config.SMSConfig
	client *twilio.RestClient
	logger *slog.Logger
}

// NewSMSClient creates a Twilio-backed SMS client
func NewSMSClient(cfg config.SMSConfig, logger *slog.Logger) *SMSClient {
	return &SMSClient{
		cfg: cfg,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioSID,
			Password: cfg.TwilioToken,
		}),
		logger: logger,
	}
}

// Send delivers one SMS message
func (c *SMSClient) Send(ctx context.Context, recipient, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(c.cfg.FromNumber)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS via Twilio: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("SMS sent", "recipient", recipient, "sid", sid)
	return nil
}

// WebhookClient POSTs notification payloads to an HTTP endpoint
type WebhookClient struct {
	cfg        config.WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookClient creates a webhook delivery client
func NewWebhookClient(cfg config.WebhookConfig, logger *slog.Logger) *WebhookClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// webhookPayload is the wire shape POSTed to the endpoint
type webhookPayload struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Recipient string    `json:"recipient,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Send POSTs the notification. The recipient may name an override URL;
// otherwise the configured default endpoint receives it.
func (c *WebhookClient) Send(ctx context.Context, recipient, subject, body string) error {
	url := c.cfg.DefaultURL
	if isURL(recipient) {
		url = recipient
	}
	if url == "" {
		return fmt.Errorf("no webhook URL configured")
	}

	payload, err := json.Marshal(webhookPayload{
		Subject:   subject,
		Body:      body,
		Recipient: recipient,
		SentAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	c.logger.Debug("Webhook delivered", "url", url, "status", resp.StatusCode)
	return nil
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
