package outreach

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/notify"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/internal/sequencer"
)

var monday = time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	msgs []messaging.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, msg messaging.OutboundMessage) (messaging.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return messaging.SendResult{Provider: "test", ProviderMessageID: "msg-1"}, nil
}

func (s *recordingSender) Messages() []messaging.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messaging.OutboundMessage(nil), s.msgs...)
}

type testEnv struct {
	rt     *Runtime
	store  *prospects.Store
	sender *recordingSender
	staff  *recordingSender
	now    time.Time
}

func newEnv(t *testing.T, reg *campaign.Registry) *testEnv {
	t.Helper()
	if reg == nil {
		var err error
		reg, err = campaign.LoadBuiltin()
		require.NoError(t, err)
	}
	env := &testEnv{
		store:  prospects.NewStore(nil, nil),
		sender: &recordingSender{},
		staff:  &recordingSender{},
		now:    monday,
	}
	rt, err := New(Deps{
		Campaigns: reg,
		Store:     env.store,
		Sender:    env.sender,
		Notifier:  notify.NewStaffNotifier(env.staff, "frontdesk@example.com", "Bright Smile Dental", nil),
		Practice:  map[string]string{"OfficeName": "Bright Smile Dental"},
		Sequencer: sequencer.Config{MaxAttempts: 1},
		Clock:     func() time.Time { return env.now },
	})
	require.NoError(t, err)
	env.rt = rt
	return env
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestNewPatientScenario(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	created, err := env.rt.Enroll(ctx, ProspectInput{ID: "p1", FirstName: "Sarah", Phone: "(415) 555-0100"}, "new-patient")
	require.NoError(t, err)
	require.True(t, created)

	_, err = env.rt.Tick(ctx)
	require.NoError(t, err)
	sent := env.sender.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "+14155550100", sent[0].To)
	assert.True(t, strings.HasPrefix(sent[0].Body, "Hi Sarah! Thanks for filling out our form at Bright Smile Dental."))
	p, err := env.rt.GetProspect("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.StageIndex)

	res, err := env.rt.Ingest(ctx, "p1", "Yes, I'm interested", monday.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, campaign.ActionOfferTimes, res.Action)
	assert.Contains(t, res.Reply, "2:00 PM, 3:00 PM, or 4:00 PM")

	_, err = env.rt.GetAppointment("p1")
	require.ErrorIs(t, err, ErrNoAppointment)

	res, err = env.rt.Ingest(ctx, "p1", "Tomorrow at 3pm works", monday.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, campaign.ActionBookAppointment, res.Action)
	require.NotNil(t, res.Appointment)
	assert.Equal(t, "3:00 PM", res.Appointment.Time)
	assert.Contains(t, res.Reply, "Tuesday, March 3 at 3:00 PM")

	appt, err := env.rt.GetAppointment("p1")
	require.NoError(t, err)
	assert.Equal(t, "3:00 PM", appt.Time)
	p, err = env.rt.GetProspect("p1")
	require.NoError(t, err)
	assert.True(t, p.HasTag(prospects.TagAppointmentScheduled))
	assert.True(t, p.HasTag(prospects.TagTimesOffered))

	again, err := env.rt.Ingest(ctx, "p1", "Tomorrow at 3pm works", monday.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, appt.ID, again.Appointment.ID)

	p, err = env.rt.GetProspect("p1")
	require.NoError(t, err)
	booked := 0
	for _, h := range p.History {
		if h.Kind == prospects.HistoryAppointmentBooked {
			booked++
		}
	}
	assert.Equal(t, 1, booked)

	staff := env.staff.Messages()
	require.Len(t, staff, 1)
	assert.Contains(t, staff[0].Subject, "New appointment: Sarah")
}

func TestEnrollValidation(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	_, err := env.rt.Enroll(ctx, ProspectInput{ID: "p1", Phone: "+14155550100"}, "missing")
	require.ErrorIs(t, err, campaign.ErrUnknownCampaign)

	_, err = env.rt.Enroll(ctx, ProspectInput{ID: "p1"}, "new-patient")
	require.ErrorIs(t, err, ErrNoContact)

	_, err = env.rt.Enroll(ctx, ProspectInput{ID: "p1", Phone: "12"}, "new-patient")
	require.ErrorIs(t, err, prospects.ErrInvalidProspect)

	_, err = env.rt.Enroll(ctx, ProspectInput{Phone: "+14155550100"}, "new-patient")
	require.ErrorIs(t, err, prospects.ErrInvalidProspect)

	created, err := env.rt.Enroll(ctx, ProspectInput{ID: "p1", Email: " Sarah@Example.com "}, "new-patient")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = env.rt.Enroll(ctx, ProspectInput{ID: "p1", Email: "other@example.com"}, "new-patient")
	require.NoError(t, err)
	assert.False(t, created)

	p, err := env.rt.GetProspect("p1")
	require.NoError(t, err)
	assert.Equal(t, "sarah@example.com", p.Contact.Email)
	assert.Equal(t, 3, p.EventCount)
	assert.Equal(t, 1, p.CampaignVersion)
	assert.True(t, p.EnrolledAt.Equal(monday))
}

func TestIngestFromPhone(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, err := env.rt.Enroll(ctx, ProspectInput{ID: "p1", FirstName: "Sarah", Phone: "+14155550100"}, "new-patient")
	require.NoError(t, err)

	res, err := env.rt.IngestFromPhone(ctx, "415-555-0100", "how much does a cleaning cost?", monday)
	require.NoError(t, err)
	assert.Equal(t, "p1", res.ProspectID)
	assert.Equal(t, "pricing_question", res.Tag)

	_, err = env.rt.IngestFromPhone(ctx, "+14155550199", "yes", monday)
	require.ErrorIs(t, err, prospects.ErrProspectNotFound)

	_, err = env.rt.Ingest(ctx, "nobody", "yes", monday)
	require.ErrorIs(t, err, prospects.ErrProspectNotFound)
}

func TestIngestUsesPinnedCampaignVersion(t *testing.T) {
	promo := func(version int, tag string) campaign.Definition {
		return campaign.Definition{
			ID:      "promo",
			Version: version,
			Events: []campaign.AutomationEvent{
				{Channel: campaign.ChannelSMS, Template: campaign.MessageTemplate{Body: "Whitening special!"}},
			},
			ResponseHandlers: []campaign.ResponseHandler{
				{Keywords: []string{"yes"}, Action: campaign.ActionCustom, Tag: tag},
			},
		}
	}
	reg, err := campaign.NewRegistry(promo(1, "promo_v1"), promo(2, "promo_v2"))
	require.NoError(t, err)
	env := newEnv(t, reg)
	ctx := context.Background()

	_, err = env.rt.Enroll(ctx, ProspectInput{ID: "new", Phone: "+14155550100"}, "promo")
	require.NoError(t, err)
	_, err = env.store.Enroll(ctx, prospects.Prospect{
		ID:              "old",
		Contact:         prospects.Contact{Phone: "+14155550101"},
		CampaignID:      "promo",
		CampaignVersion: 1,
		EventCount:      1,
		EnrolledAt:      monday,
	})
	require.NoError(t, err)

	res, err := env.rt.Ingest(ctx, "new", "yes", monday)
	require.NoError(t, err)
	assert.Equal(t, "promo_v2", res.Tag)

	res, err = env.rt.Ingest(ctx, "old", "yes", monday)
	require.NoError(t, err)
	assert.Equal(t, "promo_v1", res.Tag)
}

func TestCampaignsListed(t *testing.T) {
	env := newEnv(t, nil)
	defs := env.rt.Campaigns()
	require.Len(t, defs, 2)
	assert.Equal(t, "new-patient", defs[0].ID)
	assert.Equal(t, "new-patient-nurture", defs[1].ID)
}
