package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Sync rebuilds the mirror from chain: it clears every record, then walks
// order ids from the highest down to 1 so the newest offers land first.
// Loading progress rises monotonically to 100. Orders that fail to load are
// logged and skipped; they are picked up again by the next update event.
func (s *Store) Sync(ctx context.Context) error {
	s.clear()
	s.app.SetLoadingProgress(0)

	count, err := s.chain.OrderCount(ctx)
	if err != nil {
		return fmt.Errorf("offers: sync: order count: %w", err)
	}
	s.logger.InfoContext(ctx, "offer sync started", slog.Uint64("orders", count))

	var skipped int
	for id := count; id >= 1; id-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.syncOffer(ctx, id, false); err != nil {
			skipped++
			s.logger.WarnContext(ctx, "offer sync failed",
				slog.Uint64("id", id),
				slog.String("error", err.Error()),
			)
		}
		done := count - id + 1
		s.app.SetLoadingProgress(int(done * 100 / count))
	}
	s.app.SetLoadingProgress(100)

	s.logger.InfoContext(ctx, "offer sync finished",
		slog.Int("offers", s.Len()),
		slog.Int("skipped", skipped),
	)

	if s.history != nil {
		if err := s.history.Sync(ctx); err != nil {
			s.logger.WarnContext(ctx, "trade history replay failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// SyncOffer reloads one order. An inactive order is removed; an active one is
// classified and upserted. Running it twice on unchanged chain data changes
// nothing. While a local buy or cancel is in flight the local status is kept.
func (s *Store) SyncOffer(ctx context.Context, id uint64) error {
	return s.syncOffer(ctx, id, false)
}

// syncOffer with force set discards in-flight local state, used once the
// transaction that created it has resolved.
func (s *Store) syncOffer(ctx context.Context, id uint64, force bool) error {
	data, err := s.chain.Order(ctx, id)
	if err != nil {
		return fmt.Errorf("offers: sync offer %d: %w", id, err)
	}
	key := orderKey(id)

	if !data.Active {
		s.remove(key)
		return nil
	}

	c, err := domain.Classify(data.SellAmount, data.SellToken, data.BuyAmount, data.BuyToken, s.app.BaseCurrency())
	if err != nil {
		if errors.Is(err, domain.ErrUnclassifiable) {
			s.logger.WarnContext(ctx, "order has no base currency leg",
				slog.Uint64("id", id),
				slog.String("sell_token", data.SellToken),
				slog.String("buy_token", data.BuyToken),
			)
			return nil
		}
		return fmt.Errorf("offers: sync offer %d: %w", id, err)
	}

	s.upsert(key, func(prev domain.Offer, existed bool) domain.Offer {
		next := domain.Offer{
			ID:       key,
			Type:     c.Type,
			Currency: c.Currency,
			Volume:   c.Volume,
			Price:    c.Price,
			Owner:    data.Owner,
			Status:   domain.OfferStatusConfirmed,
		}
		if existed {
			next.Helper = prev.Helper
			next.Tx = prev.Tx
			if !force && inFlight(prev) {
				next.Status = prev.Status
			}
		}
		if force {
			next.Tx = ""
		}
		return next
	})
	return nil
}

func inFlight(o domain.Offer) bool {
	return o.Tx != "" && (o.Status == domain.OfferStatusBought || o.Status == domain.OfferStatusCancelled)
}
