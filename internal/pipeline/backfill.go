package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// TradeSource is the in-memory trade history.
type TradeSource interface {
	List(limit int) []domain.Trade
}

// Backfill copies trades the write-through path missed (the database was
// down, or history was replayed before it connected) into the persistent
// store.
type Backfill struct {
	source  TradeSource
	persist domain.TradeStore
	logger  *slog.Logger
}

func NewBackfill(source TradeSource, persist domain.TradeStore, logger *slog.Logger) *Backfill {
	return &Backfill{
		source:  source,
		persist: persist,
		logger:  logger.With(slog.String("component", "backfill")),
	}
}

// Run writes every in-memory trade above the highest stored block. It
// returns the number of trades written.
func (b *Backfill) Run(ctx context.Context) (int, error) {
	last, err := b.persist.GetLastBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: backfill: %w", err)
	}
	var missing []domain.Trade
	for _, t := range b.source.List(0) {
		if t.BlockNumber > last {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := b.persist.InsertBatch(ctx, missing); err != nil {
		return 0, fmt.Errorf("pipeline: backfill: %w", err)
	}
	b.logger.InfoContext(ctx, "trades backfilled", slog.Int("count", len(missing)), slog.Uint64("after_block", last))
	return len(missing), nil
}

// RunLoop runs the backfill on every tick until ctx ends.
func (b *Backfill) RunLoop(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := b.Run(ctx); err != nil {
				b.logger.WarnContext(ctx, "backfill failed", slog.String("error", err.Error()))
			}
		}
	}
}
