package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Archiver moves trades past the retention window into cold storage.
type Archiver struct {
	target    domain.Archiver
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewArchiver(target domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		target:    target,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives once.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	n, err := a.target.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Time("cutoff", cutoff), slog.Int64("trades", n))
	return nil
}

// RunCron runs the archive on every minute matching expr until ctx ends.
// A failed run is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return err
	}
	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "next archive run", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
