package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/outreach"
	"github.com/wolfman30/dental-outreach/internal/prospects"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrUnknownCampaign),
		errors.Is(err, prospects.ErrProspectNotFound),
		errors.Is(err, outreach.ErrNoAppointment):
		return http.StatusNotFound
	case errors.Is(err, prospects.ErrInvalidProspect),
		errors.Is(err, outreach.ErrNoContact):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
