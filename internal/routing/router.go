package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-outreach/internal/bookings"
	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
	"github.com/wolfman30/dental-outreach/internal/messaging/templates"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

var routingTracer = otel.Tracer("dental.internal.routing")

// Built-in replies used when a campaign declares none.
const (
	DefaultFallbackReply = "Thanks for your message, {{FirstName}}! A member of our team will get back to you shortly."
	DefaultOptOutReply   = "You have been unsubscribed and will not receive further messages."
)

// Booker schedules appointments for book_appointment replies.
type Booker interface {
	Book(ctx context.Context, req bookings.BookRequest) (prospects.Appointment, bool, error)
}

// Result is the outcome of routing one inbound message.
type Result struct {
	Action       campaign.Action
	Tag          string
	HandlerIndex int
	Matched      bool
	CarrierStop  bool
	// Suppressed is set when the prospect had already opted out; no reply is produced.
	Suppressed     bool
	Reply          string
	ReplySubject   string
	Missing        []string
	Appointment    *prospects.Appointment
	BookingCreated bool
	Prospect       prospects.Prospect
}

// Router applies a campaign's response handlers to inbound messages.
type Router struct {
	store         *prospects.Store
	booker        Booker
	renderer      templates.Renderer
	practice      map[string]string
	fallbackReply string
	metrics       *metrics.CampaignMetrics
	logger        *logging.Logger
}

// NewRouter constructs a router. booker may be nil when no campaign books.
func NewRouter(store *prospects.Store, booker Booker, logger *logging.Logger) *Router {
	if store == nil {
		panic("routing: prospect store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		store:         store,
		booker:        booker,
		fallbackReply: DefaultFallbackReply,
		logger:        logger,
	}
}

// WithPracticeSettings sets practice-wide template values such as OfficeName.
func (r *Router) WithPracticeSettings(settings map[string]string) *Router {
	r.practice = settings
	return r
}

// WithFallbackReply overrides the built-in reply for unmatched messages.
func (r *Router) WithFallbackReply(tmpl string) *Router {
	if strings.TrimSpace(tmpl) != "" {
		r.fallbackReply = tmpl
	}
	return r
}

func (r *Router) WithMetrics(m *metrics.CampaignMetrics) *Router {
	r.metrics = m
	return r
}

// Route records the inbound message, performs the matched handler's action
// and renders the reply against the prospect as it stands afterwards.
func (r *Router) Route(ctx context.Context, prospectID string, def campaign.Definition, message string, receivedAt time.Time) (Result, error) {
	ctx, span := routingTracer.Start(ctx, "routing.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.prospect_id", prospectID),
		attribute.String("dental.campaign_id", def.ID),
	)

	decision := Decide(def, message)
	result := Result{
		Action:       decision.Handler.Action,
		Tag:          decision.Handler.Tag,
		HandlerIndex: decision.Index,
		Matched:      decision.Matched,
		CarrierStop:  decision.CarrierStop,
	}
	stored, _ := compliance.RedactCardNumbers(message)
	at := receivedAt.UTC()

	snapshot, err := r.store.Mutate(ctx, prospectID, func(p *prospects.Prospect) error {
		if p.DoNotContact && decision.Handler.Action != campaign.ActionOptOut {
			result.Suppressed = true
		}
		p.Record(prospects.HistoryEntry{
			Kind:   prospects.HistoryInbound,
			Stage:  p.StageIndex,
			Body:   stored,
			Action: string(decision.Handler.Action),
		}, at)
		if result.Suppressed {
			return nil
		}
		switch decision.Handler.Action {
		case campaign.ActionOptOut:
			if !p.DoNotContact {
				p.DoNotContact = true
				p.Record(prospects.HistoryEntry{Kind: prospects.HistoryOptedOut, Stage: p.StageIndex}, at)
			}
			p.AddTag(prospects.TagOptedOut)
			p.AddTag(prospects.TagInactive)
		case campaign.ActionCustom:
			p.AddTag(decision.Handler.Tag)
		case campaign.ActionOfferTimes:
			p.AddTag(prospects.TagTimesOffered)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("routing: record inbound: %w", err)
	}
	if result.Suppressed {
		result.Prospect = snapshot
		r.metrics.ObserveRouting("suppressed")
		r.logger.Info("routing: inbound from opted-out prospect", "prospect_id", prospectID)
		return result, nil
	}

	slots := candidateSlots(def, decision.Handler)
	if decision.Handler.Action == campaign.ActionBookAppointment {
		if r.booker == nil {
			return Result{}, fmt.Errorf("routing: campaign %s books appointments but no booker is configured", def.ID)
		}
		appt, created, err := r.booker.Book(ctx, bookings.BookRequest{
			ProspectID: prospectID,
			Hint:       message,
			Candidates: slots,
			ReceivedAt: receivedAt,
			Service:    def.Settings["Service"],
		})
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("routing: book: %w", err)
		}
		result.Appointment = &appt
		result.BookingCreated = created
		if snapshot, err = r.store.Get(prospectID); err != nil {
			return Result{}, fmt.Errorf("routing: reload after booking: %w", err)
		}
	}

	reply := decision.Handler.ReplyTemplate
	if strings.TrimSpace(reply.Body) == "" {
		switch {
		case decision.Handler.Action == campaign.ActionDefaultReply:
			reply.Body = r.fallbackReply
		case decision.CarrierStop:
			reply.Body = DefaultOptOutReply
		}
	}
	if strings.TrimSpace(reply.Body) != "" {
		body := r.render(prospectID, def, reply.Body, snapshot, slots)
		result.Reply = body.Text
		result.Missing = body.Missing
		if reply.Subject != "" {
			result.ReplySubject = r.render(prospectID, def, reply.Subject, snapshot, slots).Text
		}
		snapshot, err = r.store.Mutate(ctx, prospectID, func(p *prospects.Prospect) error {
			p.Record(prospects.HistoryEntry{
				Kind:   prospects.HistoryReply,
				Stage:  p.StageIndex,
				Body:   result.Reply,
				Action: string(decision.Handler.Action),
			}, at)
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("routing: record reply: %w", err)
		}
	}

	result.Prospect = snapshot
	span.SetAttributes(attribute.String("dental.action", string(result.Action)))
	r.metrics.ObserveRouting(string(result.Action))
	r.logger.Info("routing: inbound routed",
		"prospect_id", prospectID, "campaign_id", def.ID, "action", result.Action,
		"matched", result.Matched, "handler_index", result.HandlerIndex)
	return result, nil
}

func (r *Router) render(prospectID string, def campaign.Definition, tmpl string, p prospects.Prospect, slots []string) templates.Result {
	fields := p.TemplateFields()
	if len(slots) > 0 {
		fields["OfferedTimes"] = JoinSlots(slots)
	}
	out := r.renderer.Render(tmpl, templates.Context{
		Fields:   fields,
		Settings: []map[string]string{def.Settings, r.practice},
		Defaults: def.Defaults,
	})
	for _, field := range out.Missing {
		r.metrics.ObserveTemplateWarning(field)
		r.logger.Warn("routing: template placeholder unresolved", "prospect_id", prospectID, "campaign_id", def.ID, "field", field)
	}
	return out
}

// candidateSlots returns the handler's slots, or the campaign's first
// offer_times slots when the handler declares none.
func candidateSlots(def campaign.Definition, h campaign.ResponseHandler) []string {
	if len(h.Slots) > 0 {
		return h.Slots
	}
	if h.Action != campaign.ActionBookAppointment {
		return nil
	}
	for _, other := range def.ResponseHandlers {
		if other.Action == campaign.ActionOfferTimes && len(other.Slots) > 0 {
			return other.Slots
		}
	}
	return nil
}

// JoinSlots renders slot labels as "2:00 PM, 3:00 PM, or 4:00 PM".
func JoinSlots(slots []string) string {
	switch len(slots) {
	case 0:
		return ""
	case 1:
		return slots[0]
	case 2:
		return slots[0] + " or " + slots[1]
	}
	return strings.Join(slots[:len(slots)-1], ", ") + ", or " + slots[len(slots)-1]
}
