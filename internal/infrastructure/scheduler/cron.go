package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"DealScanner/internal/config"
	"DealScanner/internal/ports"
)

// CronScheduler drives pipeline runs on a cron expression.
type CronScheduler struct {
	cfg  config.SchedulerConfig
	log  *slog.Logger
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler bound to the configured timezone.
func NewCronScheduler(cfg config.SchedulerConfig, log *slog.Logger) *CronScheduler {
	return &CronScheduler{cfg: cfg, log: log.With("component", "scheduler")}
}

// Start registers the job under the configured cron expression and starts
// the ticker. Overlapping runs are skipped rather than queued; a run that
// outlives its interval should not stack a second one behind it.
func (s *CronScheduler) Start(_ context.Context, job func(time.Time)) error {
	s.cron = cron.New(
		cron.WithLocation(s.cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(s.cfg.CronExpression, func() {
		job(time.Now().In(s.cfg.Location()))
	}); err != nil {
		return fmt.Errorf("scheduler: bad cron expression %q: %w", s.cfg.CronExpression, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", "cron", s.cfg.CronExpression, "tz", s.cfg.Timezone)
	return nil
}

// Stop halts the ticker and waits for a running job to finish or the
// context to expire, whichever comes first.
func (s *CronScheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
