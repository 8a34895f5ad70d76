package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/outreach"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Outreach is the runtime surface the HTTP layer depends on.
type Outreach interface {
	Enroll(ctx context.Context, in outreach.ProspectInput, campaignID string) (bool, error)
	Ingest(ctx context.Context, prospectID, raw string, receivedAt time.Time) (outreach.IngestResult, error)
	IngestFromPhone(ctx context.Context, phone, raw string, receivedAt time.Time) (outreach.IngestResult, error)
	GetAppointment(prospectID string) (prospects.Appointment, error)
	GetProspect(prospectID string) (prospects.Prospect, error)
	Campaigns() []campaign.Definition
}

// AppointmentLister reads the calendar view of booked appointments.
type AppointmentLister interface {
	ListByDate(ctx context.Context, day time.Time) ([]prospects.Appointment, error)
}

// CampaignHandler serves the operator API: enrollment and read-only views.
type CampaignHandler struct {
	svc          Outreach
	appointments AppointmentLister
	loc          *time.Location
	validate     *validator.Validate
	logger       *logging.Logger
}

func NewCampaignHandler(svc Outreach, logger *logging.Logger) *CampaignHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CampaignHandler{svc: svc, loc: time.UTC, validate: validator.New(), logger: logger}
}

// WithAppointments enables GET /appointments.
func (h *CampaignHandler) WithAppointments(lister AppointmentLister) *CampaignHandler {
	h.appointments = lister
	return h
}

// WithLocation sets the practice time zone used to interpret ?date=.
func (h *CampaignHandler) WithLocation(loc *time.Location) *CampaignHandler {
	if loc != nil {
		h.loc = loc
	}
	return h
}

type enrollmentRequest struct {
	ID        string            `json:"id" validate:"omitempty,max=64"`
	FirstName string            `json:"firstName" validate:"omitempty,max=100"`
	LastName  string            `json:"lastName" validate:"max=100"`
	Phone     string            `json:"phone" validate:"required_without=Email,max=32"`
	Email     string            `json:"email" validate:"required_without=Phone,omitempty,email"`
	Extra     map[string]string `json:"extra"`
}

type enrollmentResponse struct {
	ProspectID string `json:"prospectId"`
	CampaignID string `json:"campaignId"`
	Created    bool   `json:"created"`
}

// Enroll handles POST /api/v1/campaigns/{campaignID}/enrollments.
func (h *CampaignHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	var req enrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}

	created, err := h.svc.Enroll(r.Context(), outreach.ProspectInput{
		ID:        req.ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		Extra:     req.Extra,
	}, campaignID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("enroll prospect", "error", err, "campaign_id", campaignID)
			writeError(w, status, "enrollment failed")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, enrollmentResponse{ProspectID: req.ID, CampaignID: campaignID, Created: created})
}

type campaignSummary struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Version            int      `json:"version"`
	Events             int      `json:"events"`
	Channels           []string `json:"channels"`
	Handlers           []string `json:"handlers"`
	FallbackCampaignID string   `json:"fallbackCampaignId,omitempty"`
}

// ListCampaigns handles GET /api/v1/campaigns.
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, _ *http.Request) {
	defs := h.svc.Campaigns()
	out := make([]campaignSummary, 0, len(defs))
	for _, def := range defs {
		s := campaignSummary{
			ID:                 def.ID,
			Name:               def.Name,
			Version:            def.Version,
			Events:             def.EventCount(),
			FallbackCampaignID: def.FallbackCampaignID,
		}
		for _, ev := range def.Events {
			s.Channels = append(s.Channels, string(ev.Channel))
		}
		for _, rh := range def.ResponseHandlers {
			s.Handlers = append(s.Handlers, string(rh.Action))
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

// GetProspect handles GET /api/v1/prospects/{prospectID}.
func (h *CampaignHandler) GetProspect(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProspect(chi.URLParam(r, "prospectID"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetAppointment handles GET /api/v1/prospects/{prospectID}/appointment.
func (h *CampaignHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.GetAppointment(chi.URLParam(r, "prospectID"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ListAppointments handles GET /api/v1/appointments?date=YYYY-MM-DD.
func (h *CampaignHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if h.appointments == nil {
		writeError(w, http.StatusServiceUnavailable, "appointment calendar not configured")
		return
	}
	day := time.Now().In(h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	appts, err := h.appointments.ListByDate(r.Context(), day)
	if err != nil {
		h.logger.Error("list appointments", "error", err, "date", day.Format("2006-01-02"))
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	if appts == nil {
		appts = []prospects.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": day.Format("2006-01-02"), "appointments": appts})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()[:1])+fe.Field()[1:]+" "+fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, ", ")
}
