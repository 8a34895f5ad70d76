package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dental-outreach/internal/inbound"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/outreach"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// WebhookHandler accepts inbound prospect replies.
type WebhookHandler struct {
	svc             Outreach
	deduper         inbound.Deduper
	publisher       *inbound.Publisher
	twilioAuthToken string
	publicBaseURL   string
	metrics         *metrics.CampaignMetrics
	now             func() time.Time
	logger          *logging.Logger
}

func NewWebhookHandler(svc Outreach, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{svc: svc, now: time.Now, logger: logger}
}

// WithDeduper drops webhooks whose provider message id was already handled.
func (h *WebhookHandler) WithDeduper(d inbound.Deduper) *WebhookHandler {
	h.deduper = d
	return h
}

// WithPublisher makes the Twilio webhook enqueue messages instead of
// routing them inline.
func (h *WebhookHandler) WithPublisher(p *inbound.Publisher) *WebhookHandler {
	h.publisher = p
	return h
}

// WithTwilio enables X-Twilio-Signature verification.
func (h *WebhookHandler) WithTwilio(authToken, publicBaseURL string) *WebhookHandler {
	h.twilioAuthToken = authToken
	h.publicBaseURL = strings.TrimRight(publicBaseURL, "/")
	return h
}

func (h *WebhookHandler) WithMetrics(m *metrics.CampaignMetrics) *WebhookHandler {
	h.metrics = m
	return h
}

type inboundRequest struct {
	ProviderMessageID string    `json:"providerMessageId"`
	ProspectID        string    `json:"prospectId"`
	From              string    `json:"from"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type inboundResponse struct {
	ProspectID  string                 `json:"prospectId,omitempty"`
	Action      string                 `json:"action,omitempty"`
	Matched     bool                   `json:"matched"`
	Reply       string                 `json:"reply,omitempty"`
	Subject     string                 `json:"subject,omitempty"`
	Appointment *prospects.Appointment `json:"appointment,omitempty"`
	Duplicate   bool                   `json:"duplicate,omitempty"`
}

// Inbound handles POST /webhooks/inbound and returns the reply to deliver.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.ObserveInbound("http", "invalid")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ProspectID) == "" && strings.TrimSpace(req.From) == "" {
		h.metrics.ObserveInbound("http", "invalid")
		writeError(w, http.StatusBadRequest, "prospectId or from required")
		return
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = h.now()
	}
	if !h.claim(r.Context(), req.ProviderMessageID) {
		h.metrics.ObserveInbound("http", "duplicate")
		writeJSON(w, http.StatusOK, inboundResponse{Duplicate: true})
		return
	}

	var (
		res outreach.IngestResult
		err error
	)
	if req.ProspectID != "" {
		res, err = h.svc.Ingest(r.Context(), req.ProspectID, req.Body, req.ReceivedAt)
	} else {
		res, err = h.svc.IngestFromPhone(r.Context(), req.From, req.Body, req.ReceivedAt)
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.release(req.ProviderMessageID)
			h.logger.Error("ingest inbound message", "error", err, "prospect_id", req.ProspectID)
			h.metrics.ObserveInbound("http", "error")
			writeError(w, status, "failed to process message")
			return
		}
		h.metrics.ObserveInbound("http", "unknown_prospect")
		writeError(w, status, err.Error())
		return
	}

	h.metrics.ObserveInbound("http", "processed")
	resp := inboundResponse{
		ProspectID:  res.ProspectID,
		Action:      string(res.Action),
		Matched:     res.Matched,
		Appointment: res.Appointment,
	}
	if !res.Suppressed {
		resp.Reply = res.Reply
		resp.Subject = res.ReplySubject
	}
	writeJSON(w, http.StatusOK, resp)
}

// TwilioSMS handles POST /webhooks/twilio/sms and answers with TwiML.
func (h *WebhookHandler) TwilioSMS(w http.ResponseWriter, r *http.Request) {
	if h.twilioAuthToken != "" {
		if !messaging.ValidateTwilioSignature(r, h.twilioAuthToken, h.publicBaseURL+r.URL.Path) {
			h.metrics.ObserveInbound("twilio", "forbidden")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}
	msg, err := messaging.ParseTwilioWebhook(r)
	if err != nil || strings.TrimSpace(msg.From) == "" {
		h.metrics.ObserveInbound("twilio", "invalid")
		http.Error(w, "invalid webhook", http.StatusBadRequest)
		return
	}
	receivedAt := h.now()

	if h.publisher != nil {
		err := h.publisher.Publish(r.Context(), inbound.Payload{
			ProviderMessageID: msg.MessageSID,
			From:              msg.From,
			Channel:           "sms",
			Body:              msg.Body,
			ReceivedAt:        receivedAt,
		})
		if err != nil {
			h.logger.Error("enqueue twilio message", "error", err, "message_sid", msg.MessageSID)
			h.metrics.ObserveInbound("twilio", "error")
			http.Error(w, "failed to enqueue", http.StatusInternalServerError)
			return
		}
		h.metrics.ObserveInbound("twilio", "queued")
		writeTwiML(w, "")
		return
	}

	if !h.claim(r.Context(), msg.MessageSID) {
		h.metrics.ObserveInbound("twilio", "duplicate")
		writeTwiML(w, "")
		return
	}
	res, err := h.svc.IngestFromPhone(r.Context(), msg.From, msg.Body, receivedAt)
	if err != nil {
		if errors.Is(err, prospects.ErrProspectNotFound) {
			h.logger.Info("twilio message from unknown number", "message_sid", msg.MessageSID)
			h.metrics.ObserveInbound("twilio", "unknown_prospect")
			writeTwiML(w, "")
			return
		}
		h.release(msg.MessageSID)
		h.logger.Error("ingest twilio message", "error", err, "message_sid", msg.MessageSID)
		h.metrics.ObserveInbound("twilio", "error")
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveInbound("twilio", "processed")
	if res.Suppressed {
		writeTwiML(w, "")
		return
	}
	writeTwiML(w, res.Reply)
}

func (h *WebhookHandler) claim(ctx context.Context, key string) bool {
	if h.deduper == nil || key == "" {
		return true
	}
	ok, err := h.deduper.Claim(ctx, key)
	if err != nil {
		h.logger.Warn("inbound dedupe unavailable", "error", err)
		return true
	}
	return ok
}

func (h *WebhookHandler) release(key string) {
	if h.deduper == nil || key == "" {
		return
	}
	if err := h.deduper.Release(context.Background(), key); err != nil {
		h.logger.Warn("release inbound dedupe key", "error", err)
	}
}

func writeTwiML(w http.ResponseWriter, body string) {
	doc, err := messaging.TwiMLMessage(body)
	if err != nil {
		http.Error(w, "failed to render reply", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
