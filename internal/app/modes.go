package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/pipeline"
	"github.com/alanyoungcy/otcdesk/internal/server"
	"github.com/alanyoungcy/otcdesk/internal/server/handler"
	"github.com/alanyoungcy/otcdesk/internal/server/ws"
)

// ClientMode runs the full desk: the mirror loops, the API and, when
// enabled, the backfill and archive jobs.
func (a *App) ClientMode(ctx context.Context, desk *Desk, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting client mode")
	return a.serve(ctx, desk, deps, a.cfg.Archive.Enabled)
}

// ServerMode is ClientMode without the scheduled pipeline jobs.
func (a *App) ServerMode(ctx context.Context, desk *Desk, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.serve(ctx, desk, deps, false)
}

func (a *App) serve(ctx context.Context, desk *Desk, deps *Dependencies, jobs bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return desk.Monitor.Run(ctx) })
	g.Go(func() error {
		return desk.WatchHeads(ctx, func() {
			if deps.Metrics != nil {
				deps.Metrics.SetPending(desk.Tracker.Len())
			}
		})
	})
	g.Go(func() error { return desk.WatchOrders(ctx) })
	g.Go(func() error { return desk.WatchTrades(ctx) })
	g.Go(func() error { return desk.Feed.Run(ctx) })
	if deps.Notifier != nil {
		g.Go(func() error { return deps.Notifier.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, desk, deps)
	}

	if jobs && deps.TradeStore != nil {
		var archiver *pipeline.Archiver
		if deps.Archiver != nil {
			archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		}
		orch := pipeline.NewOrchestrator(
			pipeline.NewBackfill(desk.Trades, deps.TradeStore, a.logger),
			archiver,
			a.cfg.Archive.BackfillInterval.Duration,
			a.cfg.Archive.Cron,
			a.logger,
		)
		g.Go(func() error { return orch.Run(ctx) })
	}

	return g.Wait()
}

// startHTTPServer registers the API and the WebSocket hub on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, desk *Desk, deps *Dependencies) {
	hub := ws.NewHub(desk.Bus, desk.Snapshot, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	var audit handler.Auditor
	if deps.AuditStore != nil {
		audit = deps.AuditStore
	}
	var archives handler.ArchiveLister
	if deps.Archiver != nil {
		archives = deps.Archiver
	}

	h := server.Handlers{
		Health: handler.NewHealthHandler(handler.StatusSources{
			State:   desk.State,
			Offers:  desk.Offers,
			Trades:  desk.Trades,
			Pending: desk.Tracker,
			Mode:    a.cfg.Mode,
			Started: time.Now(),
		}, a.logger),
		Offers:       handler.NewOfferHandler(desk.Offers, desk.State, audit, a.logger),
		Tokens:       handler.NewTokenHandler(desk.Tokens, desk, audit, a.logger),
		Trades:       handler.NewTradeHandler(desk.Trades, deps.TradeStore, archives, a.logger),
		Transactions: handler.NewTransactionHandler(desk.Tracker, desk.Bus, a.logger),
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	opts := server.Options{Hub: hub}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
		opts.Observer = deps.Metrics.ObserveHTTP
	}
	if deps.RateLimiter != nil {
		opts.Limiter = deps.RateLimiter
	}

	srv := server.New(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, opts, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

// SyncMode runs one connectivity check, which triggers the full mirror
// rebuild, logs what it found and exits.
func (a *App) SyncMode(ctx context.Context, desk *Desk) error {
	a.logger.InfoContext(ctx, "starting one-shot sync")
	if err := desk.Monitor.Check(ctx); err != nil {
		return fmt.Errorf("app: sync: %w", err)
	}
	return desk.Summary(ctx)
}

// ArchiveMode runs the archive job once.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode needs supabase and s3")
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).Run(ctx)
}

// RestoreMode loads one archived object back into the trade database.
func (a *App) RestoreMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: restore mode needs supabase and s3")
	}
	n, err := deps.Archiver.Restore(ctx, a.cfg.Archive.RestorePath)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive restored",
		slog.String("path", a.cfg.Archive.RestorePath),
		slog.Int("trades", n),
	)
	if deps.AuditStore != nil {
		if err := deps.AuditStore.Log(ctx, "archive.restore", map[string]any{
			"path": a.cfg.Archive.RestorePath, "trades": n,
		}); err != nil {
			a.logger.WarnContext(ctx, "audit restore", slog.String("error", err.Error()))
		}
	}
	return nil
}

// chainOf returns the wired chain or an error for modes that need one.
func chainOf(deps *Dependencies) (domain.Chain, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("app: %w", domain.ErrDisconnected)
	}
	return deps.Chain, nil
}
