// Package app provides the top-level application lifecycle management for the
// OTC desk. It wires together all dependencies (node, stores, caches, blob
// storage, notifications) and starts the goroutines of the configured
// operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/otcdesk/internal/config"
)

// App runs one desk process in the configured mode.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the infrastructure and blocks in the configured mode until ctx
// is cancelled or a one-shot mode completes. Close releases what Wire opened.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "wiring desk",
		slog.String("mode", a.cfg.Mode),
		slog.String("node", a.cfg.Node.URL),
		slog.String("pair", a.cfg.Market.Base+"/"+a.cfg.Market.Quote),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.run(ctx, deps)
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case config.ModeArchive:
		return a.ArchiveMode(ctx, deps)
	case config.ModeRestore:
		return a.RestoreMode(ctx, deps)
	}

	chain, err := chainOf(deps)
	if err != nil {
		return err
	}
	desk := NewDesk(a.cfg, chain, deps, a.logger)

	switch mode {
	case config.ModeClient:
		return a.ClientMode(ctx, desk, deps)
	case config.ModeServer:
		return a.ServerMode(ctx, desk, deps)
	case config.ModeSync:
		return a.SyncMode(ctx, desk)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close runs the cleanups once, newest first.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("closers", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
