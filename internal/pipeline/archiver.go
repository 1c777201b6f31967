// Package pipeline runs the scheduled background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Archiver moves resolved pools older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	clock        domain.Clock
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver. A nil clock means the system clock.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, clock domain.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		clock:        clock,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run and returns the number of pools moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.clock.Now().UTC().Add(-a.retention)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchivePools(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archive pools before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete", slog.Int64("pools_archived", n))
	return n, nil
}

// RunCron runs the archiver on a standard 5-field cron schedule, for
// example "0 3 * * *", until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}))

	a.logger.Info("archiver cron started",
		slog.String("cron", spec),
		slog.Time("next_run", sched.Next(a.clock.Now())),
	)
	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
