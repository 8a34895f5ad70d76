package bookings

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

var bookingsTracer = otel.Tracer("dental.internal.bookings")

// AppointmentSink receives newly scheduled appointments for the calendar UI.
type AppointmentSink interface {
	Save(ctx context.Context, appt prospects.Appointment) error
}

// BookRequest describes a booking intent extracted from an inbound reply.
type BookRequest struct {
	ProspectID string
	Hint       string
	Candidates []string
	ReceivedAt time.Time
	Service    string
}

// Booker turns booking intents into scheduled appointments. It is idempotent
// per prospect: at most one appointment is ever scheduled.
type Booker struct {
	store          *prospects.Store
	sink           AppointmentSink
	metrics        *metrics.CampaignMetrics
	loc            *time.Location
	defaultSlot    string
	defaultService string
	sinkTimeout    time.Duration
	logger         *logging.Logger
}

// NewBooker constructs a booker over the prospect store.
func NewBooker(store *prospects.Store, logger *logging.Logger) *Booker {
	if store == nil {
		panic("bookings: prospect store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Booker{
		store:       store,
		loc:         time.UTC,
		defaultSlot: "3:00 PM",
		sinkTimeout: 5 * time.Second,
		logger:      logger,
	}
}

// WithSink mirrors scheduled appointments into sink.
func (b *Booker) WithSink(sink AppointmentSink) *Booker {
	b.sink = sink
	return b
}

// WithLocation sets the practice time zone used to pick appointment days.
func (b *Booker) WithLocation(loc *time.Location) *Booker {
	if loc != nil {
		b.loc = loc
	}
	return b
}

// WithDefaults sets the slot used when neither hint nor candidates name one,
// and the service recorded when the request carries none.
func (b *Booker) WithDefaults(slot, service string) *Booker {
	if strings.TrimSpace(slot) != "" {
		b.defaultSlot = slot
	}
	b.defaultService = service
	return b
}

func (b *Booker) WithMetrics(m *metrics.CampaignMetrics) *Booker {
	b.metrics = m
	return b
}

// Book schedules an appointment for the prospect. When one is already
// scheduled it is returned unchanged with created=false.
func (b *Booker) Book(ctx context.Context, req BookRequest) (prospects.Appointment, bool, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.book")
	defer span.End()
	span.SetAttributes(attribute.String("dental.prospect_id", req.ProspectID))

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	service := req.Service
	if service == "" {
		service = b.defaultService
	}
	slot := ResolveSlot(req.Hint, req.Candidates, receivedAt, b.loc, b.defaultSlot)

	var (
		result  prospects.Appointment
		created bool
	)
	_, err := b.store.Mutate(ctx, req.ProspectID, func(p *prospects.Prospect) error {
		if existing, ok := p.ScheduledAppointment(); ok {
			result = *existing
			return prospects.ErrNoChange
		}
		appt := prospects.Appointment{
			ID:         uuid.NewString(),
			ProspectID: p.ID,
			Date:       slot.Date,
			Time:       slot.Label,
			Status:     prospects.AppointmentScheduled,
			Service:    service,
			CreatedAt:  receivedAt.UTC(),
		}
		p.Appointment = &appt
		p.AddTag(prospects.TagAppointmentScheduled)
		p.Record(prospects.HistoryEntry{
			Kind:   prospects.HistoryAppointmentBooked,
			Stage:  p.StageIndex,
			Action: "book_appointment",
			Body:   appt.DateLabel() + " " + appt.Time,
		}, receivedAt.UTC())
		result = appt
		created = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return prospects.Appointment{}, false, err
	}

	if !created {
		b.metrics.ObserveBooking("existing")
		b.logger.Info("bookings: appointment already scheduled", "prospect_id", req.ProspectID, "appointment_id", result.ID)
		return result, false, nil
	}

	b.metrics.ObserveBooking("created")
	span.SetAttributes(attribute.String("dental.appointment_id", result.ID))
	b.logger.Info("bookings: appointment scheduled",
		"prospect_id", req.ProspectID, "appointment_id", result.ID,
		"date", result.Date.Format("2006-01-02"), "time", result.Time)

	if b.sink != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
		defer cancel()
		if err := b.sink.Save(sinkCtx, result); err != nil {
			span.RecordError(err)
			b.logger.Error("bookings: appointment sink failed", "prospect_id", req.ProspectID, "appointment_id", result.ID, "error", err)
		}
	}
	return result, true, nil
}
