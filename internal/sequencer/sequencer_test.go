package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
	"github.com/wolfman30/dental-outreach/internal/prospects"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []messaging.OutboundMessage
	calls  int
	failFn func(call int) error
	hook   func(msg messaging.OutboundMessage)
}

func (f *fakeSender) Send(_ context.Context, msg messaging.OutboundMessage) (messaging.SendResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	failFn := f.failFn
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if failFn != nil {
		if err := failFn(call); err != nil {
			return messaging.SendResult{}, err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return messaging.SendResult{Provider: "fake", ProviderMessageID: "SM" + msg.ProspectID}, nil
}

func (f *fakeSender) Sent() []messaging.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messaging.OutboundMessage(nil), f.sent...)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRegistry(t *testing.T) *campaign.Registry {
	t.Helper()
	reg, err := campaign.NewRegistry(
		campaign.Definition{
			ID:                 "drip",
			Version:            1,
			FallbackCampaignID: "nurture",
			Settings:           map[string]string{"Service": "cleaning"},
			Events: []campaign.AutomationEvent{
				{Channel: campaign.ChannelSMS, Template: campaign.MessageTemplate{Body: "Hi {{FirstName}} from {{OfficeName}}"}},
				{Channel: campaign.ChannelSMS, Delay: time.Hour, Template: campaign.MessageTemplate{Body: "Still want a {{Service}}?"}},
				{Channel: campaign.ChannelEmail, Delay: 2 * time.Hour, Template: campaign.MessageTemplate{Subject: "Your {{Service}}", Body: "Email body"}},
			},
			ResponseHandlers: []campaign.ResponseHandler{
				{Keywords: []string{"stop"}, Action: campaign.ActionOptOut},
			},
		},
		campaign.Definition{
			ID:      "nurture",
			Version: 1,
			Events: []campaign.AutomationEvent{
				{Channel: campaign.ChannelSMS, Delay: 24 * time.Hour, Template: campaign.MessageTemplate{Body: "Checking back in"}},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

type harness struct {
	seq    *Sequencer
	store  *prospects.Store
	sender *fakeSender
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	store := prospects.NewStore(nil, nil).WithClock(clock.Now)
	sender := &fakeSender{}
	cfg.RatePerSecond = 0
	seq := New(testRegistry(t), store, sender, cfg, nil).
		WithClock(clock.Now).
		WithPracticeSettings(map[string]string{"OfficeName": "Bright Smile Dental"})
	seq.sleep = func(context.Context, time.Duration) error { return nil }
	return &harness{seq: seq, store: store, sender: sender, clock: clock}
}

func (h *harness) enroll(t *testing.T, id string, mutate func(p *prospects.Prospect)) {
	t.Helper()
	p := prospects.Prospect{
		ID:              id,
		Contact:         prospects.Contact{FirstName: "Sarah", Phone: "+14155550100", Email: "sarah@example.com"},
		CampaignID:      "drip",
		CampaignVersion: 1,
		EventCount:      3,
		EnrolledAt:      t0,
	}
	if mutate != nil {
		mutate(&p)
	}
	ok, err := h.store.Enroll(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
}

func (h *harness) get(t *testing.T, id string) prospects.Prospect {
	t.Helper()
	p, err := h.store.Get(id)
	require.NoError(t, err)
	return p
}

func TestTickSendsDueEventsInOrder(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3})
	h.enroll(t, "p1", nil)
	ctx := context.Background()

	report, err := h.seq.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi Sarah from Bright Smile Dental", sent[0].Body)
	assert.Equal(t, "sms", sent[0].Channel)
	assert.Equal(t, "+14155550100", sent[0].To)

	p := h.get(t, "p1")
	assert.Equal(t, 1, p.StageIndex)
	require.Len(t, p.History, 1)
	assert.Equal(t, prospects.HistoryEventSent, p.History[0].Kind)
	assert.Equal(t, "SMp1", p.History[0].ProviderMessageID)
	assert.Equal(t, 1, p.History[0].Attempts)

	report, err = h.seq.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Len(t, h.sender.Sent(), 1)

	h.clock.Advance(time.Hour)
	_, err = h.seq.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, h.sender.Sent(), 2)
	assert.Equal(t, "Still want a cleaning?", h.sender.Sent()[1].Body)

	h.clock.Advance(time.Hour)
	_, err = h.seq.Tick(ctx)
	require.NoError(t, err)
	sent = h.sender.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "email", sent[2].Channel)
	assert.Equal(t, "sarah@example.com", sent[2].To)
	assert.Equal(t, "Your cleaning", sent[2].Subject)
	assert.Equal(t, 3, h.get(t, "p1").StageIndex)
}

func TestTickCatchesUpOneEventPerTick(t *testing.T) {
	h := newHarness(t, Config{})
	h.enroll(t, "p1", nil)
	h.clock.Advance(5 * time.Hour)

	_, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.get(t, "p1").StageIndex)
}

func TestTickSkipsDoNotContact(t *testing.T) {
	h := newHarness(t, Config{})
	h.enroll(t, "p1", func(p *prospects.Prospect) { p.DoNotContact = true })

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Zero(t, h.sender.Calls())
}

func TestTickRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3})
	h.sender.failFn = func(call int) error {
		if call < 3 {
			return errors.New("503 upstream")
		}
		return nil
	}
	h.enroll(t, "p1", nil)

	_, err := h.seq.Tick(context.Background())
	require.NoError(t, err)

	p := h.get(t, "p1")
	assert.Equal(t, 1, p.StageIndex)
	assert.Equal(t, 3, p.History[0].Attempts)
}

func TestTickHoldsStageWhenRetriesExhausted(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3})
	h.sender.failFn = func(int) error { return errors.New("timeout") }
	h.enroll(t, "p1", nil)

	report, err := h.seq.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, h.sender.Calls())

	p := h.get(t, "p1")
	assert.Equal(t, 0, p.StageIndex)
	require.Len(t, p.History, 1)
	assert.Equal(t, prospects.HistoryEventFailed, p.History[0].Kind)
	assert.Equal(t, 3, p.History[0].Attempts)
	assert.Equal(t, "timeout", p.History[0].Error)

	h.sender.failFn = nil
	_, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.get(t, "p1").StageIndex)
}

func TestTickDoesNotRetryPermanentFailures(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 5})
	h.sender.failFn = func(int) error { return messaging.Permanent(errors.New("invalid number")) }
	h.enroll(t, "p1", nil)

	_, err := h.seq.Tick(context.Background())
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestTickDoesNotAdvanceWhenProspectMovedDuringSend(t *testing.T) {
	h := newHarness(t, Config{})
	h.enroll(t, "p1", nil)
	h.sender.hook = func(msg messaging.OutboundMessage) {
		_, err := h.store.Mutate(context.Background(), msg.ProspectID, func(p *prospects.Prospect) error {
			p.StageIndex = 2
			return nil
		})
		assert.NoError(t, err)
	}

	_, err := h.seq.Tick(context.Background())
	require.NoError(t, err)

	p := h.get(t, "p1")
	assert.Equal(t, 2, p.StageIndex)
	assert.Empty(t, p.History)
}

func TestTickMovesSilentProspectToFallback(t *testing.T) {
	h := newHarness(t, Config{})
	h.enroll(t, "p1", func(p *prospects.Prospect) { p.StageIndex = 3 })
	h.clock.Advance(3 * time.Hour)

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitioned)

	p := h.get(t, "p1")
	assert.Equal(t, "nurture", p.CampaignID)
	assert.Equal(t, 1, p.CampaignVersion)
	assert.Equal(t, 1, p.EventCount)
	assert.Equal(t, 0, p.StageIndex)
	assert.True(t, p.EnrolledAt.Equal(t0.Add(3*time.Hour)))
	require.Len(t, p.History, 1)
	assert.Equal(t, prospects.HistoryCampaignChanged, p.History[0].Kind)
	assert.Equal(t, "nurture", p.History[0].CampaignID)

	h.clock.Advance(23 * time.Hour)
	report, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	h.clock.Advance(time.Hour)
	_, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Checking back in", sent[0].Body)

	report, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	completed := h.get(t, "p1")
	assert.True(t, completed.HasTag(prospects.TagSequenceCompleted))
}

func TestTickCompletesRespondersInsteadOfFallback(t *testing.T) {
	h := newHarness(t, Config{})
	h.enroll(t, "p1", func(p *prospects.Prospect) {
		p.StageIndex = 3
		p.Record(prospects.HistoryEntry{Kind: prospects.HistoryInbound, Body: "maybe"}, t0)
	})

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Zero(t, report.Transitioned)

	p := h.get(t, "p1")
	assert.Equal(t, "drip", p.CampaignID)
	assert.True(t, p.HasTag(prospects.TagSequenceCompleted))
	historyLen := len(p.History)

	report, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Completed)
	assert.Len(t, h.get(t, "p1").History, historyLen)
}

func TestTickDefersDuringQuietHours(t *testing.T) {
	h := newHarness(t, Config{})
	quiet, err := compliance.ParseQuietHours("14:00", "16:00", time.UTC)
	require.NoError(t, err)
	h.seq.WithQuietHours(quiet)
	h.enroll(t, "p1", nil)

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, h.sender.Calls())

	h.clock.Advance(time.Hour)
	_, err = h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestTickAllowsOneDispatchPerProspect(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrent: 4})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.sender.hook = func(messaging.OutboundMessage) {
		close(entered)
		<-release
	}
	h.enroll(t, "p1", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.seq.Tick(context.Background())
	}()
	<-entered

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Zero(t, report.Sent)

	close(release)
	<-done
	assert.Equal(t, 1, h.sender.Calls())
	assert.Equal(t, 1, h.get(t, "p1").StageIndex)
}

func TestTickParallelAcrossProspects(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrent: 4})
	for i := 0; i < 6; i++ {
		phone := fmt.Sprintf("+141555501%02d", i)
		h.enroll(t, fmt.Sprintf("p%d", i), func(p *prospects.Prospect) { p.Contact.Phone = phone })
	}

	report, err := h.seq.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Sent)
	for _, p := range h.store.Snapshot() {
		assert.Equal(t, 1, p.StageIndex, p.ID)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	s := &Sequencer{cfg: Config{RetryBaseDelay: time.Second, RetryMaxDelay: 5 * time.Second}}
	assert.Equal(t, time.Second, s.backoff(1))
	assert.Equal(t, 2*time.Second, s.backoff(2))
	assert.Equal(t, 4*time.Second, s.backoff(3))
	assert.Equal(t, 5*time.Second, s.backoff(4))
	assert.Equal(t, 5*time.Second, s.backoff(10))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	h := newHarness(t, Config{TickInterval: time.Hour})
	h.enroll(t, "p1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.seq.Run(ctx) }()

	require.Eventually(t, func() bool { return h.sender.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
