package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGridSender sends email automation events via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the API host; tests point it at httptest servers.
	Host string
}

// NewSendGridSender creates a SendGrid sender, or nil when no API key is set.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Bright Smile Dental"
	}
	host := cfg.Host
	if host == "" {
		host = sendGridHost
	}
	request := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", host)
	request.Method = http.MethodPost
	return &SendGridSender{
		client:    &sendgrid.Client{Request: request},
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ messaging.Sender = (*SendGridSender)(nil)

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg messaging.OutboundMessage) (messaging.SendResult, error) {
	if s == nil || s.client == nil {
		return messaging.SendResult{}, messaging.Permanent(errors.New("notify: sendgrid client not configured"))
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "prospect_id", msg.ProspectID)
		return messaging.SendResult{}, fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "prospect_id", msg.ProspectID)
		if response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
			return messaging.SendResult{}, messaging.Permanent(err)
		}
		return messaging.SendResult{}, err
	}

	var messageID string
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	s.logger.Info("email sent via sendgrid", "prospect_id", msg.ProspectID, "subject", msg.Subject, "status", response.StatusCode)
	return messaging.SendResult{Provider: "sendgrid", ProviderMessageID: messageID}, nil
}
