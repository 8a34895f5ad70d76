package routing

import (
	"strings"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
)

// Decision is the handler chosen for an inbound message.
type Decision struct {
	Handler campaign.ResponseHandler
	// Index is the handler's position in the campaign, or -1 for a built-in handler.
	Index       int
	Matched     bool
	CarrierStop bool
}

// Normalize prepares inbound text for keyword matching.
func Normalize(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// Decide picks the handler for message. Handlers are tried in declared order
// and the first whose keyword appears anywhere in the message wins. A bare
// carrier STOP reply always opts out. With no match the campaign's
// keyword-less default_reply handler is used, else a built-in one.
// Decide is pure: the same definition and message always yield the same result.
func Decide(def campaign.Definition, message string) Decision {
	if compliance.IsCarrierStop(message) {
		for i, h := range def.ResponseHandlers {
			if h.Action == campaign.ActionOptOut {
				return Decision{Handler: h, Index: i, Matched: true, CarrierStop: true}
			}
		}
		return Decision{
			Handler:     campaign.ResponseHandler{Action: campaign.ActionOptOut},
			Index:       -1,
			Matched:     true,
			CarrierStop: true,
		}
	}

	normalized := Normalize(message)
	if normalized != "" {
		for i, h := range def.ResponseHandlers {
			if h.Matches(normalized) {
				return Decision{Handler: h, Index: i, Matched: true}
			}
		}
	}

	for i, h := range def.ResponseHandlers {
		if h.Action == campaign.ActionDefaultReply && len(h.Keywords) == 0 {
			return Decision{Handler: h, Index: i}
		}
	}
	return Decision{Handler: campaign.ResponseHandler{Action: campaign.ActionDefaultReply}, Index: -1}
}
