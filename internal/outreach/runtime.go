// Package outreach composes the campaign engine behind a single runtime:
// enrollment, inbound replies, appointment lookups and the drip scheduler.
package outreach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-outreach/internal/bookings"
	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
	"github.com/wolfman30/dental-outreach/internal/notify"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/internal/routing"
	"github.com/wolfman30/dental-outreach/internal/sequencer"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Deps are the collaborators a Runtime is built from.
type Deps struct {
	Campaigns *campaign.Registry
	Store     *prospects.Store
	Sender    messaging.Sender

	// Optional. A Booker over Store is created when nil.
	Booker   *bookings.Booker
	Notifier *notify.StaffNotifier
	Metrics  *metrics.CampaignMetrics

	Practice      map[string]string
	Sequencer     sequencer.Config
	QuietHours    compliance.QuietHours
	FallbackReply string
	Clock         func() time.Time
	Logger        *logging.Logger
}

// ProspectInput is the contact data supplied at enrollment.
type ProspectInput struct {
	ID        string
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Extra     map[string]string
}

// IngestResult is what the caller needs to answer an inbound message.
type IngestResult struct {
	ProspectID string
	Action     campaign.Action
	Tag        string
	Matched    bool
	Reply      string
	// ReplySubject is set when the handler's reply template declares one.
	ReplySubject string
	Suppressed   bool
	Appointment  *prospects.Appointment
}

// Runtime is the engine's only entry point for transports.
type Runtime struct {
	campaigns *campaign.Registry
	store     *prospects.Store
	router    *routing.Router
	sequencer *sequencer.Sequencer
	notifier  *notify.StaffNotifier
	now       func() time.Time
	logger    *logging.Logger
}

// New wires a runtime from deps.
func New(deps Deps) (*Runtime, error) {
	if deps.Campaigns == nil {
		return nil, fmt.Errorf("outreach: campaign registry required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("outreach: prospect store required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("outreach: sender required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	booker := deps.Booker
	if booker == nil {
		booker = bookings.NewBooker(deps.Store, logger).WithMetrics(deps.Metrics)
	}
	router := routing.NewRouter(deps.Store, booker, logger).
		WithPracticeSettings(deps.Practice).
		WithFallbackReply(deps.FallbackReply).
		WithMetrics(deps.Metrics)
	seq := sequencer.New(deps.Campaigns, deps.Store, deps.Sender, deps.Sequencer, logger).
		WithClock(now).
		WithPracticeSettings(deps.Practice).
		WithQuietHours(deps.QuietHours).
		WithMetrics(deps.Metrics)

	return &Runtime{
		campaigns: deps.Campaigns,
		store:     deps.Store,
		router:    router,
		sequencer: seq,
		notifier:  deps.Notifier,
		now:       now,
		logger:    logger,
	}, nil
}

// Enroll starts a prospect on the latest version of campaignID. It reports
// false when the prospect id is already enrolled.
func (r *Runtime) Enroll(ctx context.Context, in ProspectInput, campaignID string) (bool, error) {
	def, err := r.campaigns.Get(campaignID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return false, fmt.Errorf("%w: id required", prospects.ErrInvalidProspect)
	}
	phone := strings.TrimSpace(in.Phone)
	if phone != "" {
		if phone, err = messaging.NormalizeE164(phone); err != nil {
			return false, fmt.Errorf("%w: %v", prospects.ErrInvalidProspect, err)
		}
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if phone == "" && email == "" {
		return false, ErrNoContact
	}

	now := r.now().UTC()
	created, err := r.store.Enroll(ctx, prospects.Prospect{
		ID: strings.TrimSpace(in.ID),
		Contact: prospects.Contact{
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Phone:     phone,
			Email:     email,
			Extra:     in.Extra,
		},
		CampaignID:      def.ID,
		CampaignVersion: def.Version,
		EventCount:      def.EventCount(),
		EnrolledAt:      now,
		CreatedAt:       now,
	})
	if err != nil {
		return false, fmt.Errorf("outreach: enroll: %w", err)
	}
	if created {
		r.logger.Info("outreach: prospect enrolled", "prospect_id", in.ID, "campaign_id", def.ID, "version", def.Version)
	}
	return created, nil
}

// Ingest routes an inbound message from a known prospect.
func (r *Runtime) Ingest(ctx context.Context, prospectID, raw string, receivedAt time.Time) (IngestResult, error) {
	p, err := r.store.Get(prospectID)
	if err != nil {
		return IngestResult{}, err
	}
	if receivedAt.IsZero() {
		receivedAt = r.now()
	}
	def, err := r.campaigns.GetVersion(p.CampaignID, p.CampaignVersion)
	if err != nil {
		return IngestResult{}, fmt.Errorf("outreach: ingest %s: %w", prospectID, err)
	}

	res, err := r.router.Route(ctx, prospectID, def, raw, receivedAt)
	if err != nil {
		return IngestResult{}, err
	}
	if res.BookingCreated && res.Appointment != nil {
		if err := r.notifier.AppointmentBooked(ctx, res.Prospect, *res.Appointment); err != nil {
			r.logger.Warn("outreach: staff notification failed", "prospect_id", prospectID, "error", err)
		}
	}
	return IngestResult{
		ProspectID:  prospectID,
		Action:      res.Action,
		Tag:         res.Tag,
		Matched:     res.Matched,
		Reply:        res.Reply,
		ReplySubject: res.ReplySubject,
		Suppressed:   res.Suppressed,
		Appointment:  res.Appointment,
	}, nil
}

// IngestFromPhone resolves the prospect by phone number and ingests raw.
func (r *Runtime) IngestFromPhone(ctx context.Context, phone, raw string, receivedAt time.Time) (IngestResult, error) {
	normalized, err := messaging.NormalizeE164(phone)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %s", prospects.ErrProspectNotFound, phone)
	}
	p, err := r.store.FindByPhone(normalized)
	if err != nil {
		return IngestResult{}, err
	}
	return r.Ingest(ctx, p.ID, raw, receivedAt)
}

// GetAppointment returns the prospect's scheduled appointment.
func (r *Runtime) GetAppointment(prospectID string) (prospects.Appointment, error) {
	p, err := r.store.Get(prospectID)
	if err != nil {
		return prospects.Appointment{}, err
	}
	appt, ok := p.ScheduledAppointment()
	if !ok {
		return prospects.Appointment{}, ErrNoAppointment
	}
	return *appt, nil
}

func (r *Runtime) GetProspect(prospectID string) (prospects.Prospect, error) {
	return r.store.Get(prospectID)
}

// Campaigns lists the latest version of every registered campaign.
func (r *Runtime) Campaigns() []campaign.Definition {
	return r.campaigns.List()
}

// Tick runs one sequencer pass.
func (r *Runtime) Tick(ctx context.Context) (sequencer.TickReport, error) {
	return r.sequencer.Tick(ctx)
}

// Run drives the sequencer until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	return r.sequencer.Run(ctx)
}
