package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
	"github.com/wolfman30/dental-outreach/internal/messaging/templates"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

var sequencerTracer = otel.Tracer("dental.internal.sequencer")

// Campaigns resolves pinned and latest campaign definitions.
type Campaigns interface {
	Get(id string) (campaign.Definition, error)
	GetVersion(id string, version int) (campaign.Definition, error)
}

// Config tunes dispatch.
type Config struct {
	TickInterval   time.Duration
	SendTimeout    time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RatePerSecond caps provider sends across all prospects; zero disables the cap.
	RatePerSecond float64
	MaxConcurrent int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:   time.Minute,
		SendTimeout:    10 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  30 * time.Second,
		RatePerSecond:  5,
		MaxConcurrent:  8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}

// TickReport summarises one pass over the prospect store.
type TickReport struct {
	Due          int
	Sent         int
	Failed       int
	Deferred     int
	Transitioned int
	Completed    int
}

// Sequencer dispatches due automation events and moves prospects through
// their campaigns.
type Sequencer struct {
	campaigns Campaigns
	store     *prospects.Store
	sender    messaging.Sender
	renderer  templates.Renderer
	cfg       Config
	limiter   *rate.Limiter
	quiet     compliance.QuietHours
	practice  map[string]string
	metrics   *metrics.CampaignMetrics
	logger    *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New constructs a sequencer.
func New(campaigns Campaigns, store *prospects.Store, sender messaging.Sender, cfg Config, logger *logging.Logger) *Sequencer {
	if campaigns == nil || store == nil || sender == nil {
		panic("sequencer: campaigns, store and sender are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Sequencer{
		campaigns: campaigns,
		store:     store,
		sender:    sender,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.MaxConcurrent),
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		inflight:  make(map[string]struct{}),
	}
}

// WithClock replaces the wall clock used to decide due events.
func (s *Sequencer) WithClock(now func() time.Time) *Sequencer {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sequencer) WithMetrics(m *metrics.CampaignMetrics) *Sequencer {
	s.metrics = m
	return s
}

// WithPracticeSettings sets practice-wide template values.
func (s *Sequencer) WithPracticeSettings(settings map[string]string) *Sequencer {
	s.practice = settings
	return s
}

// WithQuietHours holds due sends while q is active.
func (s *Sequencer) WithQuietHours(q compliance.QuietHours) *Sequencer {
	s.quiet = q
	return s
}

// Tick makes one pass over every prospect. Send failures are collected into
// the returned error; each wraps ErrSendFailed.
func (s *Sequencer) Tick(ctx context.Context) (TickReport, error) {
	started := time.Now()
	now := s.now()
	quiet := s.quiet.Active(now)

	var (
		report  TickReport
		failMu  sync.Mutex
		failErr []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, p := range s.store.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if p.DoNotContact {
			continue
		}
		if p.Exhausted() {
			switch s.finish(ctx, p, now) {
			case outcomeTransitioned:
				report.Transitioned++
			case outcomeCompleted:
				report.Completed++
			}
			continue
		}

		def, err := s.campaigns.GetVersion(p.CampaignID, p.CampaignVersion)
		if err != nil {
			s.logger.Error("sequencer: campaign for prospect not registered", "prospect_id", p.ID, "campaign_id", p.CampaignID, "version", p.CampaignVersion, "error", err)
			continue
		}
		event, ok := def.Event(p.StageIndex)
		if !ok || now.Before(p.EnrolledAt.Add(event.Delay)) {
			continue
		}
		report.Due++
		if quiet {
			report.Deferred++
			continue
		}
		if !s.acquire(p.ID) {
			continue
		}

		p := p
		g.Go(func() error {
			defer s.release(p.ID)
			err := s.dispatch(gctx, p, def, event, now)
			failMu.Lock()
			defer failMu.Unlock()
			if err != nil {
				report.Failed++
				failErr = append(failErr, err)
			} else {
				report.Sent++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.ObserveTick(time.Since(started).Seconds(), report.Due)
	if report.Due > 0 || report.Transitioned > 0 || report.Completed > 0 {
		s.logger.Info("sequencer: tick complete",
			"due", report.Due, "sent", report.Sent, "failed", report.Failed,
			"deferred", report.Deferred, "transitioned", report.Transitioned, "completed", report.Completed)
	}
	return report, errors.Join(failErr...)
}

func (s *Sequencer) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Sequencer) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// dispatch sends one event and advances the prospect on success.
func (s *Sequencer) dispatch(ctx context.Context, p prospects.Prospect, def campaign.Definition, event campaign.AutomationEvent, now time.Time) error {
	ctx, span := sequencerTracer.Start(ctx, "sequencer.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.prospect_id", p.ID),
		attribute.String("dental.campaign_id", def.ID),
		attribute.Int("dental.stage", p.StageIndex),
		attribute.String("dental.channel", string(event.Channel)),
	)

	stage := p.StageIndex
	msg := messaging.OutboundMessage{
		ProspectID: p.ID,
		Channel:    string(event.Channel),
		To:         recipient(p, event.Channel),
		Body:       s.render(p, def, event.Template.Body),
	}
	if event.Template.Subject != "" {
		msg.Subject = s.render(p, def, event.Template.Subject)
	}

	result, attempts, sendErr := s.sendWithRetry(ctx, msg)
	if sendErr != nil {
		span.RecordError(sendErr)
		s.metrics.ObserveSend(msg.Channel, "failed")
		_, err := s.store.Mutate(ctx, p.ID, func(cur *prospects.Prospect) error {
			if !samePosition(*cur, p) {
				return prospects.ErrNoChange
			}
			cur.Record(prospects.HistoryEntry{
				Kind:     prospects.HistoryEventFailed,
				Stage:    stage,
				Channel:  msg.Channel,
				Attempts: attempts,
				Error:    sendErr.Error(),
			}, now.UTC())
			return nil
		})
		if err != nil {
			s.logger.Error("sequencer: record failed send", "prospect_id", p.ID, "error", err)
		}
		s.logger.Warn("sequencer: event send failed", "prospect_id", p.ID, "campaign_id", def.ID, "stage", stage, "attempts", attempts, "error", sendErr)
		return fmt.Errorf("sequencer: dispatch %s stage %d: %w: %w", p.ID, stage, ErrSendFailed, sendErr)
	}

	s.metrics.ObserveSend(msg.Channel, "sent")
	advanced := false
	_, err := s.store.Mutate(ctx, p.ID, func(cur *prospects.Prospect) error {
		if !samePosition(*cur, p) {
			return prospects.ErrNoChange
		}
		cur.StageIndex++
		cur.Record(prospects.HistoryEntry{
			Kind:              prospects.HistoryEventSent,
			Stage:             stage,
			Channel:           msg.Channel,
			Body:              msg.Body,
			ProviderMessageID: result.ProviderMessageID,
			Attempts:          attempts,
		}, now.UTC())
		advanced = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sequencer: advance %s: %w", p.ID, err)
	}
	if !advanced {
		s.logger.Info("sequencer: prospect moved during send; stage not advanced", "prospect_id", p.ID, "stage", stage)
		return nil
	}
	s.logger.Info("sequencer: event sent", "prospect_id", p.ID, "campaign_id", def.ID, "stage", stage,
		"channel", msg.Channel, "provider_message_id", result.ProviderMessageID)
	return nil
}

func (s *Sequencer) sendWithRetry(ctx context.Context, msg messaging.OutboundMessage) (messaging.SendResult, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return messaging.SendResult{}, attempt - 1, lastErr
		}
		s.metrics.ObserveSendAttempt(msg.Channel)

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		result, err := s.sender.Send(attemptCtx, msg)
		cancel()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if messaging.IsPermanent(err) || attempt == s.cfg.MaxAttempts {
			return messaging.SendResult{}, attempt, lastErr
		}
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			return messaging.SendResult{}, attempt, lastErr
		}
	}
	return messaging.SendResult{}, s.cfg.MaxAttempts, lastErr
}

// backoff doubles from RetryBaseDelay, capped at RetryMaxDelay.
func (s *Sequencer) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	return d
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeTransitioned
	outcomeCompleted
)

// finish handles a prospect whose campaign has no events left: it moves to
// the fallback campaign if it never engaged, otherwise it is marked complete.
func (s *Sequencer) finish(ctx context.Context, p prospects.Prospect, now time.Time) outcome {
	if p.HasTag(prospects.TagSequenceCompleted) {
		return outcomeNone
	}
	def, err := s.campaigns.GetVersion(p.CampaignID, p.CampaignVersion)
	if err != nil {
		s.logger.Error("sequencer: campaign for prospect not registered", "prospect_id", p.ID, "campaign_id", p.CampaignID, "error", err)
		return outcomeNone
	}

	if def.FallbackCampaignID != "" && eligibleForFallback(p) {
		fallback, err := s.campaigns.Get(def.FallbackCampaignID)
		if err != nil {
			s.logger.Error("sequencer: fallback campaign missing", "prospect_id", p.ID, "fallback_id", def.FallbackCampaignID, "error", err)
			return outcomeNone
		}
		moved := false
		_, err = s.store.Mutate(ctx, p.ID, func(cur *prospects.Prospect) error {
			if !samePosition(*cur, p) || !cur.Exhausted() || !eligibleForFallback(*cur) {
				return prospects.ErrNoChange
			}
			from := cur.CampaignID
			cur.CampaignID = fallback.ID
			cur.CampaignVersion = fallback.Version
			cur.EventCount = fallback.EventCount()
			cur.StageIndex = 0
			cur.EnrolledAt = now.UTC()
			cur.Record(prospects.HistoryEntry{
				Kind:       prospects.HistoryCampaignChanged,
				CampaignID: fallback.ID,
				Body:       from + " -> " + fallback.ID,
			}, now.UTC())
			moved = true
			return nil
		})
		if err != nil {
			s.logger.Error("sequencer: fallback transition", "prospect_id", p.ID, "error", err)
			return outcomeNone
		}
		if moved {
			s.logger.Info("sequencer: prospect moved to fallback campaign", "prospect_id", p.ID, "from", def.ID, "to", fallback.ID)
			return outcomeTransitioned
		}
		return outcomeNone
	}

	completed := false
	_, err = s.store.Mutate(ctx, p.ID, func(cur *prospects.Prospect) error {
		if !cur.Exhausted() || !cur.AddTag(prospects.TagSequenceCompleted) {
			return prospects.ErrNoChange
		}
		cur.Record(prospects.HistoryEntry{Kind: prospects.HistorySequenceCompleted, Stage: cur.StageIndex}, now.UTC())
		completed = true
		return nil
	})
	if err != nil {
		s.logger.Error("sequencer: mark sequence completed", "prospect_id", p.ID, "error", err)
		return outcomeNone
	}
	if completed {
		return outcomeCompleted
	}
	return outcomeNone
}

func eligibleForFallback(p prospects.Prospect) bool {
	return !p.DoNotContact && !p.HasResponded() && p.Appointment == nil
}

// samePosition reports whether cur is still at the campaign stage observed in snap.
func samePosition(cur, snap prospects.Prospect) bool {
	return cur.CampaignID == snap.CampaignID &&
		cur.CampaignVersion == snap.CampaignVersion &&
		cur.StageIndex == snap.StageIndex &&
		cur.EnrolledAt.Equal(snap.EnrolledAt)
}

func recipient(p prospects.Prospect, channel campaign.Channel) string {
	if channel == campaign.ChannelEmail {
		return p.Contact.Email
	}
	return p.Contact.Phone
}

func (s *Sequencer) render(p prospects.Prospect, def campaign.Definition, tmpl string) string {
	out := s.renderer.Render(tmpl, templates.Context{
		Fields:   p.TemplateFields(),
		Settings: []map[string]string{def.Settings, s.practice},
		Defaults: def.Defaults,
	})
	for _, field := range out.Missing {
		s.metrics.ObserveTemplateWarning(field)
		s.logger.Warn("sequencer: template placeholder unresolved", "prospect_id", p.ID, "campaign_id", def.ID, "field", field)
	}
	return out.Text
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
