// Package schedule triggers the weekly digest on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// Job processes one window. Errors are logged and do not stop the scheduler.
type Job func(ctx context.Context, w window.Window) error

// Scheduler runs a Job for the last completed Friday through Thursday week
// each time the cron expression fires. Jobs never overlap.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
	job      Job
	logger   *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses a standard 5-field cron expression (or a descriptor such as
// "@weekly") evaluated in loc.
func New(expr string, loc *time.Location, job Job, logger *zap.Logger) (*Scheduler, error) {
	expr = strings.TrimSpace(expr)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if job == nil {
		return nil, fmt.Errorf("schedule: nil job")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		expr:     expr,
		schedule: sched,
		loc:      loc,
		job:      job,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Next returns the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Trigger runs the job once for the canonical last week relative to now.
func (s *Scheduler) Trigger(ctx context.Context) error {
	w := window.CanonicalLastWeek(s.now().In(s.loc))
	s.logger.Info("scheduled run", zap.String("window", w.ID()))
	if err := s.job(ctx, w); err != nil {
		s.logger.Error("scheduled run failed", zap.String("window", w.ID()), zap.Error(err))
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled, triggering the job at each activation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.String("cron", s.expr), zap.String("timezone", s.loc.String()))
	for {
		now := s.now().In(s.loc)
		next := s.Next(now)
		wait := next.Sub(now)
		s.logger.Info("next run",
			zap.String("at", next.Format("Mon Jan 2 15:04")),
			zap.Duration("in", wait.Round(time.Minute)),
		)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.after(wait):
		}

		// Failures are already logged; keep the loop alive for next week.
		_ = s.Trigger(ctx)
	}
}
