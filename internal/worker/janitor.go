package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"storepulse.app/analysis/common/logger"
)

// TicketCleaner deletes closed tickets. store.TicketStore satisfies it.
type TicketCleaner interface {
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type JanitorConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@daily".
	Schedule      string
	RetentionDays int
}

// Janitor removes closed tickets older than the retention window on a cron schedule.
type Janitor struct {
	tickets  TicketCleaner
	schedule cron.Schedule
	cfg      JanitorConfig
	now      func() time.Time
}

func NewJanitor(tickets TicketCleaner, cfg JanitorConfig) (*Janitor, error) {
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("retention days must be at least 1, got %d", cfg.RetentionDays)
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		tickets:  tickets,
		schedule: schedule,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// WithClock replaces the clock used to compute the cutoff.
func (j *Janitor) WithClock(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Cutoff is the close time before which tickets are deleted.
func (j *Janitor) Cutoff() time.Time {
	return j.now().AddDate(0, 0, -j.cfg.RetentionDays)
}

// RunOnce deletes closed tickets older than the retention window.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.Cutoff()
	deleted, err := j.tickets.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting closed tickets: %w", err)
	}
	slog.InfoContext(ctx, "closed tickets cleaned up",
		"deleted", deleted,
		"cutoff", cutoff,
		"retention_days", j.cfg.RetentionDays)
	return deleted, nil
}

// Run schedules RunOnce and blocks until ctx is done, then waits for a
// running cleanup to finish.
func (j *Janitor) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "worker.janitor"})

	cl := cronLogger{ctx: ctx}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.RunOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "ticket cleanup failed", "error", err)
		}
	}))

	slog.InfoContext(ctx, "janitor started",
		"schedule", j.cfg.Schedule,
		"retention_days", j.cfg.RetentionDays,
		"next_run", j.schedule.Next(j.now()))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	slog.InfoContext(ctx, "janitor stopped")
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.DebugContext(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.ErrorContext(l.ctx, "cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
