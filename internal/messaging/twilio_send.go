package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-outreach/pkg/logging"
)

var twilioSendTracer = otel.Tracer("dental.internal.messaging.twilio_send")

const twilioAPIBase = "https://api.twilio.com"

// TwilioConfig holds the credentials for the Twilio REST API.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSender posts SMS messages using Twilio's REST API. It performs a
// single attempt per call; retry policy belongs to the caller.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(cfg TwilioConfig, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL points the sender at a different API host.
func (s *TwilioSender) WithBaseURL(base string) *TwilioSender {
	s.baseURL = strings.TrimRight(base, "/")
	return s
}

var _ Sender = (*TwilioSender)(nil)

// Send dispatches a single SMS.
func (s *TwilioSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if s.accountSID == "" || s.authToken == "" {
		return SendResult{}, Permanent(errors.New("messaging: twilio credentials missing"))
	}
	if s.from == "" {
		return SendResult{}, Permanent(errors.New("messaging: twilio from number missing"))
	}
	if msg.To == "" {
		return SendResult{}, Permanent(errors.New("messaging: to required"))
	}
	if strings.TrimSpace(msg.Body) == "" {
		return SendResult{}, Permanent(errors.New("messaging: body required"))
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.prospect_id", msg.ProspectID),
		attribute.String("dental.to", msg.To),
	)

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", s.from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return SendResult{}, Permanent(fmt.Errorf("messaging: build twilio request: %w", err))
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("messaging: twilio request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("messaging: twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
		span.RecordError(err)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return SendResult{}, Permanent(err)
		}
		return SendResult{}, err
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(body, &parsed)
	s.logger.Info("twilio sms sent", "prospect_id", msg.ProspectID, "to", msg.To, "sid", parsed.SID)
	return SendResult{Provider: "twilio", ProviderMessageID: parsed.SID}, nil
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
