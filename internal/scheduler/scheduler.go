// Package scheduler triggers dispatch passes on a cron schedule in UTC.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors like "@daily".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// PassFunc runs one pass.
type PassFunc func(ctx context.Context) error

// Scheduler runs a PassFunc on a schedule. A tick that fires while the
// previous pass is still running is skipped.
type Scheduler struct {
	cron    *cronlib.Cron
	fn      PassFunc
	timeout time.Duration
	logger  *slog.Logger
	ctx     context.Context
}

// New creates a Scheduler. Each pass gets its own context bounded by timeout.
func New(expr string, timeout time.Duration, fn PassFunc, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{fn: fn, timeout: timeout, logger: logger, ctx: context.Background()}
	cronLogger := slogAdapter{logger}
	s.cron = cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLocation(time.UTC),
		cronlib.WithLogger(cronLogger),
		cronlib.WithChain(cronlib.Recover(cronLogger), cronlib.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("invalid dispatch schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled. Passes in flight get
// their context cancelled with it.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("Dispatch scheduler started", "next_run", s.Next())

	go func() {
		<-ctx.Done()
		stopped := s.cron.Stop()
		<-stopped.Done()
		s.logger.Info("Dispatch scheduler stopped", "reason", ctx.Err())
	}()
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.fn(ctx); err != nil {
		s.logger.Error("Scheduled dispatch pass failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("Scheduled dispatch pass completed", "duration", time.Since(start))
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
