// Package pipeline runs the persistence jobs around trade history: the
// periodic database backfill and the scheduled cold-storage archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the configured jobs. Either may be nil.
type Orchestrator struct {
	backfill      *Backfill
	archiver      *Archiver
	backfillEvery time.Duration
	archiveCron   string
	logger        *slog.Logger
}

func NewOrchestrator(backfill *Backfill, archiver *Archiver, backfillEvery time.Duration, archiveCron string, logger *slog.Logger) *Orchestrator {
	if backfillEvery <= 0 {
		backfillEvery = time.Minute
	}
	return &Orchestrator{
		backfill:      backfill,
		archiver:      archiver,
		backfillEvery: backfillEvery,
		archiveCron:   archiveCron,
		logger:        logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx ends or a job fails for a reason other than
// cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if o.backfill != nil {
		g.Go(func() error {
			return quiet(ctx, "backfill", o.backfill.RunLoop(ctx, o.backfillEvery))
		})
	}
	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			return quiet(ctx, "archiver", o.archiver.RunCron(ctx, o.archiveCron))
		})
	}
	o.logger.InfoContext(ctx, "pipeline started",
		slog.Bool("backfill", o.backfill != nil),
		slog.String("archive_cron", o.archiveCron),
	)
	return g.Wait()
}

func quiet(ctx context.Context, job string, err error) error {
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return fmt.Errorf("pipeline: %s: %w", job, err)
}
