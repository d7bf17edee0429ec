package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/config"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/feed"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
	"github.com/alanyoungcy/otcdesk/internal/network"
	"github.com/alanyoungcy/otcdesk/internal/offers"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
	"github.com/alanyoungcy/otcdesk/internal/trades"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

const (
	snapshotTrades = 50
	maxBackoff     = 30 * time.Second
)

// Desk is the order-book mirror: the session state, the stores over the
// chain, and the monitor that re-initialises them.
type Desk struct {
	Chain   domain.Chain
	State   *state.App
	Tracker *txtracker.Tracker
	Tokens  *tokens.Store
	Offers  *offers.Store
	Trades  *trades.Store
	Monitor *network.Monitor
	Bus     domain.SignalBus
	Feed    *feed.Publisher

	logger *slog.Logger
}

// NewDesk builds the stores over chain and connects their observers to the
// optional infrastructure in deps. Without a signal bus it publishes to an
// in-process one.
func NewDesk(cfg *config.Config, chain domain.Chain, deps *Dependencies, logger *slog.Logger) *Desk {
	app := state.New(cfg.Market.Quote, cfg.Market.Base)
	tracker := txtracker.New(chain, cfg.Node.ReceiptConcurrency, logger)
	tok := tokens.New(chain, tracker, app, tokens.Config{
		EtherSymbol:   cfg.Node.EtherSymbol,
		ApproveGas:    cfg.Sync.ApproveGas,
		DepositGas:    cfg.Sync.DepositGas,
		WithdrawGas:   cfg.Sync.WithdrawGas,
		ResyncTimeout: cfg.Sync.ResyncTimeout.Duration,
	}, logger)
	off := offers.New(chain, tracker, tok, app, offers.Config{
		OfferGas:       cfg.Sync.OfferGas,
		BuyGas:         cfg.Sync.BuyGas,
		CancelGas:      cfg.Sync.CancelGas,
		PendingTimeout: cfg.Sync.PendingTimeout.Duration,
		ResyncTimeout:  cfg.Sync.ResyncTimeout.Duration,
	}, logger)
	hist := trades.New(chain, deps.TradeStore, app, logger)
	off.SetHistory(hist)

	mon := network.New(chain, app, deps.LockManager, network.Config{
		PollInterval: cfg.Node.PollInterval.Duration,
		LockTTL:      cfg.Sync.LockTTL.Duration,
	}, logger)
	mon.OnChange("tokens", tok.Sync)
	mon.OnChange("offers", off.Sync)

	bus := deps.SignalBus
	if bus == nil {
		bus = feed.NewLocalBus()
	}
	pub := feed.NewPublisher(bus, 0, logger)
	pub.Attach(feed.Sources{Offers: off, Tokens: tok, Trades: hist, Tracker: tracker, State: app})

	if deps.Notifier != nil {
		deps.Notifier.WatchTracker(tracker)
		deps.Notifier.WatchState(app)
	}
	if deps.Metrics != nil {
		deps.Metrics.Attach(metrics.Sources{Offers: off, Pending: tracker, Trades: hist, State: app})
	}

	return &Desk{
		Chain:   chain,
		State:   app,
		Tracker: tracker,
		Tokens:  tok,
		Offers:  off,
		Trades:  hist,
		Monitor: mon,
		Bus:     bus,
		Feed:    pub,
		logger:  logger.With(slog.String("component", "desk")),
	}
}

// SetCurrencies switches the traded pair, then rebuilds the offer mirror
// since classification depends on the base currency.
func (d *Desk) SetCurrencies(ctx context.Context, quote, base string) error {
	if err := d.Tokens.SetCurrencies(ctx, quote, base); err != nil {
		return err
	}
	return d.Offers.Sync(ctx)
}

// Snapshot is the first message pushed to a WebSocket client.
func (d *Desk) Snapshot() any {
	return map[string]any{
		"state":        d.State.Snapshot(),
		"bids":         d.Offers.Bids(),
		"asks":         d.Offers.Asks(),
		"tokens":       d.Tokens.List(),
		"trades":       d.Trades.List(snapshotTrades),
		"transactions": d.Tracker.FindByType(""),
	}
}

// WatchHeads resolves pending transactions and refreshes balances on every
// new block. onHead, if set, runs after both.
func (d *Desk) WatchHeads(ctx context.Context, onHead func()) error {
	return d.resubscribe(ctx, "heads", func(ctx context.Context) error {
		ch := make(chan domain.Block, 16)
		sub, err := d.Chain.SubscribeNewHeads(ctx, ch)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-sub.Err():
				return err
			case b := <-ch:
				d.logger.DebugContext(ctx, "new head", slog.Uint64("number", b.Number))
				if err := d.Tracker.Sync(ctx); err != nil && ctx.Err() == nil {
					d.logger.WarnContext(ctx, "tracker sync failed", slog.String("error", err.Error()))
				}
				if d.State.Snapshot().Connected() {
					if err := d.Tokens.Sync(ctx); err != nil && ctx.Err() == nil {
						d.logger.WarnContext(ctx, "token sync failed", slog.String("error", err.Error()))
					}
				}
				if onHead != nil {
					onHead()
				}
			}
		}
	})
}

// WatchOrders reloads each order the exchange reports as updated.
func (d *Desk) WatchOrders(ctx context.Context) error {
	return d.resubscribe(ctx, "orders", func(ctx context.Context) error {
		ch := make(chan uint64, 64)
		sub, err := d.Chain.SubscribeOrderUpdates(ctx, ch)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-sub.Err():
				return err
			case id := <-ch:
				if err := d.Offers.SyncOffer(ctx, id); err != nil && ctx.Err() == nil {
					d.logger.WarnContext(ctx, "order update failed",
						slog.Uint64("id", id),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// WatchTrades records live trades.
func (d *Desk) WatchTrades(ctx context.Context) error {
	return d.resubscribe(ctx, "trades", d.Trades.Watch)
}

// resubscribe runs watch until ctx ends, restarting it with exponential
// backoff whenever the subscription drops.
func (d *Desk) resubscribe(ctx context.Context, name string, watch func(context.Context) error) error {
	backoff := time.Second
	for {
		start := time.Now()
		err := watch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("subscription closed")
		}
		if time.Since(start) > maxBackoff {
			backoff = time.Second
		}
		d.logger.WarnContext(ctx, "subscription lost, retrying",
			slog.String("stream", name),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Summary logs the mirror's contents. Used by the one-shot sync mode.
func (d *Desk) Summary(ctx context.Context) error {
	snap := d.State.Snapshot()
	if !snap.Connected() {
		return fmt.Errorf("app: sync: %w", domain.ErrDisconnected)
	}
	d.logger.InfoContext(ctx, "mirror synced",
		slog.String("network", snap.Network),
		slog.String("account", snap.Account),
		slog.String("pair", snap.BaseCurrency+"/"+snap.QuoteCurrency),
		slog.Int("bids", len(d.Offers.Bids())),
		slog.Int("asks", len(d.Offers.Asks())),
		slog.Int("tokens", len(d.Tokens.List())),
		slog.Int("trades", d.Trades.Len()),
	)
	for _, o := range d.Offers.List("") {
		d.logger.InfoContext(ctx, "offer",
			slog.String("id", o.ID),
			slog.String("type", string(o.Type)),
			slog.String("currency", o.Currency),
			slog.String("volume", o.Volume),
			slog.String("price", o.Price),
			slog.String("owner", o.Owner),
		)
	}
	return nil
}
