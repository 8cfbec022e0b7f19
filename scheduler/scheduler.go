package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"dealtracker/services"
)

// Scheduler fires scrape cycles on a cron expression or a fixed interval.
// Overlap protection lives in the runner; a tick that lands mid-cycle is
// dropped.
type Scheduler struct {
	runner   *services.Runner
	cronExpr string
	interval time.Duration
	logger   *log.Logger

	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
}

func New(runner *services.Runner, cronExpr string, interval time.Duration, logger *log.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		cronExpr: cronExpr,
		interval: interval,
		logger:   logger,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cronExpr != "" {
		s.logf("scheduler: cron %q", s.cronExpr)
		_, err := s.cron.AddFunc(s.cronExpr, func() {
			s.runOnce(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if s.interval > 0 {
		s.logf("scheduler: interval %s", s.interval)
		s.ticker = time.NewTicker(s.interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}

	s.logf("scheduler: no schedule configured, cycles run on demand only")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow starts a cycle immediately, outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	_, err := s.runner.RunCycle(ctx, 0)
	return err
}

func (s *Scheduler) Running() bool {
	return s.runner.Running()
}

// Schedule describes the configured cadence for status reporting.
func (s *Scheduler) Schedule() string {
	if s.cronExpr != "" {
		return "cron " + s.cronExpr
	}
	if s.interval > 0 {
		return "every " + s.interval.String()
	}
	return "manual"
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.RunCycle(ctx, 0); err != nil {
		if errors.Is(err, services.ErrCycleInProgress) {
			s.logf("scheduler: previous cycle still running, tick skipped")
			return
		}
		s.logf("scheduler: cycle error: %v", err)
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
