package campaign

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the outbound medium for an automation event.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Action is what a response handler does when it matches.
type Action string

const (
	ActionOfferTimes      Action = "offer_times"
	ActionBookAppointment Action = "book_appointment"
	ActionDefaultReply    Action = "default_reply"
	ActionOptOut          Action = "opt_out"
	ActionCustom          Action = "custom"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionOfferTimes, ActionBookAppointment, ActionDefaultReply, ActionOptOut, ActionCustom:
		return true
	}
	return false
}

// MessageTemplate is the unrendered content of a message.
type MessageTemplate struct {
	Subject string
	Body    string
}

// AutomationEvent is one scheduled outbound message. Delay is measured from
// the prospect's enrollment in the campaign.
type AutomationEvent struct {
	Channel  Channel
	Delay    time.Duration
	Template MessageTemplate
}

// ResponseHandler maps inbound keywords to an action and reply.
type ResponseHandler struct {
	Keywords      []string
	Action        Action
	Tag           string
	Slots         []string
	ReplyTemplate MessageTemplate
}

// Matches reports whether any keyword is a substring of the normalized message.
func (h ResponseHandler) Matches(normalized string) bool {
	for _, kw := range h.Keywords {
		if kw != "" && strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// Definition is an immutable, versioned campaign.
type Definition struct {
	ID                 string
	Name               string
	Version            int
	Events             []AutomationEvent
	ResponseHandlers   []ResponseHandler
	FallbackCampaignID string
	Settings           map[string]string
	Defaults           map[string]string
}

// Key identifies a specific version of a campaign.
func (d Definition) Key() string {
	return fmt.Sprintf("%s@v%d", d.ID, d.Version)
}

// EventCount is the number of automation events; a stage equal to it is exhausted.
func (d Definition) EventCount() int {
	return len(d.Events)
}

// Event returns the event at stage, if any.
func (d Definition) Event(stage int) (AutomationEvent, bool) {
	if stage < 0 || stage >= len(d.Events) {
		return AutomationEvent{}, false
	}
	return d.Events[stage], true
}

func (d Definition) clone() Definition {
	out := d
	out.Events = append([]AutomationEvent(nil), d.Events...)
	out.ResponseHandlers = make([]ResponseHandler, len(d.ResponseHandlers))
	for i, h := range d.ResponseHandlers {
		h.Keywords = append([]string(nil), h.Keywords...)
		h.Slots = append([]string(nil), h.Slots...)
		out.ResponseHandlers[i] = h
	}
	out.Settings = cloneMap(d.Settings)
	out.Defaults = cloneMap(d.Defaults)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
