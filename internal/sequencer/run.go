package sequencer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Run ticks immediately and then every TickInterval until ctx is cancelled.
// A tick that overruns the interval causes the next one to be skipped.
func (s *Sequencer) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := c.AddFunc(spec, func() { s.runTick(ctx) }); err != nil {
		return fmt.Errorf("sequencer: schedule %q: %w", spec, err)
	}

	s.logger.Info("sequencer: started", "interval", s.cfg.TickInterval.String())
	s.runTick(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sequencer: stopped")
	return nil
}

func (s *Sequencer) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sequencer: tick panicked", "panic", r)
		}
	}()
	if _, err := s.Tick(ctx); err != nil {
		s.logger.Warn("sequencer: tick finished with failed sends", "error", err)
	}
}

// cronLogger adapts the structured logger to cron's logging interface.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
