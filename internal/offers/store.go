// Package offers mirrors the exchange's active orders as bid/ask offers and
// drives the make, buy and cancel actions against them.
package offers

import (
	"context"
	"log/slog"
	"math/big"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

// Chain is the slice of domain.Chain the offer store uses.
type Chain interface {
	OrderCount(ctx context.Context) (uint64, error)
	Order(ctx context.Context, id uint64) (domain.OrderData, error)
	SubmitOrder(ctx context.Context, req domain.OrderRequest, gas uint64) (string, error)
	SubmitBuy(ctx context.Context, id uint64, quantity *big.Int, gas uint64) (string, error)
	SubmitCancel(ctx context.Context, id uint64, gas uint64) (string, error)
}

// Pending is the slice of the transaction tracker the store uses.
type Pending interface {
	Add(typ, txHash string, payload any)
	ObserveRemoval(typ string, fn txtracker.Observer)
}

// Balances looks up the active account's token snapshot.
type Balances interface {
	Get(symbol string) (domain.Token, bool)
}

// History is replayed at the end of a bulk sync.
type History interface {
	Sync(ctx context.Context) error
}

// Config holds gas limits and the failed-creation display delay.
type Config struct {
	OfferGas       uint64
	BuyGas         uint64
	CancelGas      uint64
	PendingTimeout time.Duration
	ResyncTimeout  time.Duration
}

// ChangeKind says what happened to an offer.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeRemove ChangeKind = "remove"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind  ChangeKind   `json:"kind"`
	Offer domain.Offer `json:"offer"`
}

// Store is the local mirror of active orders keyed by order id (or by
// transaction hash for an unmined local order).
type Store struct {
	chain    Chain
	pending  Pending
	balances Balances
	app      *state.App
	cfg      Config
	logger   *slog.Logger
	history  History

	mu        sync.Mutex
	offers    map[string]domain.Offer
	selected  string
	timers    map[string]*time.Timer
	observers []func(Change)
}

// New creates a Store and registers for resolution of "offer" transactions.
func New(chain Chain, pending Pending, balances Balances, app *state.App, cfg Config, logger *slog.Logger) *Store {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 5 * time.Second
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 30 * time.Second
	}
	s := &Store{
		chain:    chain,
		pending:  pending,
		balances: balances,
		app:      app,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "offers")),
		offers:   make(map[string]domain.Offer),
		timers:   make(map[string]*time.Timer),
	}
	pending.ObserveRemoval(domain.TxTypeOffer, s.onResolved)
	return s
}

// SetHistory wires the trade history replayed by Sync.
func (s *Store) SetHistory(h History) { s.history = h }

// Subscribe registers fn to receive every change. fn runs outside the lock.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Get returns the offer with id.
func (s *Store) Get(id string) (domain.Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	return o, ok
}

// Len returns the number of offers in the mirror.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

// List returns offers of typ (all if empty). Bids are ordered best price
// first (highest), asks best price first (lowest); ties by id.
func (s *Store) List(typ domain.OfferType) []domain.Offer {
	s.mu.Lock()
	out := make([]domain.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		if typ == "" || o.Type == typ {
			out = append(out, o)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if c := cmpWei(a.Price, b.Price); c != 0 {
			if a.Type == domain.OfferTypeBid {
				return c > 0
			}
			return c < 0
		}
		return a.ID < b.ID
	})
	return out
}

func (s *Store) Bids() []domain.Offer { return s.List(domain.OfferTypeBid) }
func (s *Store) Asks() []domain.Offer { return s.List(domain.OfferTypeAsk) }

// Select marks id as the offer shown in a detail view.
func (s *Store) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// Selected returns the offer id in the detail view, or "" if dismissed.
func (s *Store) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// upsert replaces the record id with merge(previous) and notifies if it
// changed. merge runs under the lock.
func (s *Store) upsert(id string, merge func(prev domain.Offer, existed bool) domain.Offer) {
	s.mu.Lock()
	before, existed := s.offers[id]
	o := merge(before, existed)
	s.offers[id] = o
	observers := s.snapshotObservers()
	s.mu.Unlock()

	if existed && before == o {
		return
	}
	notify(observers, Change{Kind: ChangeUpsert, Offer: o})
}

// modify applies fn to the stored offer id, if present.
func (s *Store) modify(id string, fn func(*domain.Offer)) (domain.Offer, bool) {
	s.mu.Lock()
	o, ok := s.offers[id]
	if !ok {
		s.mu.Unlock()
		return domain.Offer{}, false
	}
	before := o
	fn(&o)
	s.offers[id] = o
	observers := s.snapshotObservers()
	s.mu.Unlock()

	if before != o {
		notify(observers, Change{Kind: ChangeUpsert, Offer: o})
	}
	return o, true
}

// remove deletes id and dismisses the detail view if it was showing it.
func (s *Store) remove(id string) {
	s.mu.Lock()
	o, ok := s.offers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.offers, id)
	if s.selected == id {
		s.selected = ""
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeRemove, Offer: o})
}

// clear empties the mirror, notifying a removal for each record.
func (s *Store) clear() {
	s.mu.Lock()
	removed := make([]domain.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		removed = append(removed, o)
	}
	s.offers = make(map[string]domain.Offer)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.selected = ""
	observers := s.snapshotObservers()
	s.mu.Unlock()

	for _, o := range removed {
		notify(observers, Change{Kind: ChangeRemove, Offer: o})
	}
}

// Caller holds s.mu.
func (s *Store) snapshotObservers() []func(Change) {
	return slices.Clone(s.observers)
}

func notify(observers []func(Change), c Change) {
	for _, fn := range observers {
		fn(c)
	}
}

func orderKey(id uint64) string { return strconv.FormatUint(id, 10) }
