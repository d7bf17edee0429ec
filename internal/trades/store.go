// Package trades keeps the append-only history of executed trades.
package trades

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
)

// Chain is the slice of domain.Chain the trade store uses.
type Chain interface {
	TradeEvents(ctx context.Context, fromBlock uint64) ([]domain.TradeEvent, error)
	SubscribeTrades(ctx context.Context, ch chan<- domain.TradeEvent) (event.Subscription, error)
	Block(ctx context.Context, number uint64) (domain.Block, error)
}

// Store is the in-memory trade history, optionally written through to a
// persistent domain.TradeStore.
type Store struct {
	chain   Chain
	persist domain.TradeStore
	app     *state.App
	logger  *slog.Logger

	mu        sync.Mutex
	trades    map[string]domain.Trade
	times     map[uint64]time.Time
	observers []func(domain.Trade)
}

// New creates a Store. persist may be nil.
func New(chain Chain, persist domain.TradeStore, app *state.App, logger *slog.Logger) *Store {
	return &Store{
		chain:   chain,
		persist: persist,
		app:     app,
		logger:  logger.With(slog.String("component", "trades")),
		trades:  make(map[string]domain.Trade),
		times:   make(map[uint64]time.Time),
	}
}

// Subscribe registers fn to receive every newly recorded trade.
func (s *Store) Subscribe(fn func(domain.Trade)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Sync replays every trade event since the genesis block.
func (s *Store) Sync(ctx context.Context) error {
	events, err := s.chain.TradeEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("trades: sync: %w", err)
	}
	var added int
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.record(ctx, ev)
		if err != nil {
			s.logger.WarnContext(ctx, "trade skipped",
				slog.String("tx", ev.TxHash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			added++
		}
	}
	s.logger.InfoContext(ctx, "trade history replayed",
		slog.Int("events", len(events)),
		slog.Int("added", added),
	)
	return nil
}

// Watch records live trade events until ctx is done or the subscription
// fails.
func (s *Store) Watch(ctx context.Context) error {
	ch := make(chan domain.TradeEvent, 16)
	sub, err := s.chain.SubscribeTrades(ctx, ch)
	if err != nil {
		return fmt.Errorf("trades: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("trades: subscription: %w", err)
		case ev := <-ch:
			if _, err := s.record(ctx, ev); err != nil {
				s.logger.WarnContext(ctx, "trade skipped",
					slog.String("tx", ev.TxHash),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// record classifies ev and upserts it. It reports whether the trade is new.
func (s *Store) record(ctx context.Context, ev domain.TradeEvent) (bool, error) {
	c, err := domain.Classify(ev.SellAmount, ev.SellToken, ev.BuyAmount, ev.BuyToken, s.app.BaseCurrency())
	if err != nil {
		if errors.Is(err, domain.ErrUnclassifiable) {
			return false, nil
		}
		return false, err
	}
	ts, err := s.blockTime(ctx, ev.BlockNumber)
	if err != nil {
		return false, err
	}

	t := domain.Trade{
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		Type:        c.Type,
		Currency:    c.Currency,
		Volume:      c.Volume,
		Price:       c.Price,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ts,
	}

	s.mu.Lock()
	prev, existed := s.trades[t.Key()]
	s.trades[t.Key()] = t
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	if existed && prev == t {
		return false, nil
	}
	if s.persist != nil {
		if err := s.persist.Upsert(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "trade persist failed",
				slog.String("tx", t.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, fn := range observers {
		fn(t)
	}
	return !existed, nil
}

func (s *Store) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	s.mu.Lock()
	ts, ok := s.times[number]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}
	b, err := s.chain.Block(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("trades: block %d: %w", number, err)
	}
	s.mu.Lock()
	s.times[number] = b.Timestamp
	s.mu.Unlock()
	return b.Timestamp, nil
}

// Get returns the trade recorded for the Trade log at logIndex in txHash.
func (s *Store) Get(txHash string, logIndex uint) (domain.Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[domain.TradeKey(txHash, logIndex)]
	return t, ok
}

// Len returns the number of recorded trades.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

// List returns up to limit trades, newest first. limit <= 0 means all.
func (s *Store) List(limit int) []domain.Trade {
	s.mu.Lock()
	out := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].TxHash < out[j].TxHash
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
