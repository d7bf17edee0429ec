// Package txtracker keeps the ledger of locally submitted transactions and
// resolves them once the node returns a receipt.
package txtracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// ReceiptFetcher is the slice of domain.Chain the tracker needs.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error)
}

// Observer is called once for each removed entry of the observed type. The
// entry carries the receipt that resolved it.
type Observer func(tx domain.PendingTx)

type observer struct {
	typ string
	fn  Observer
}

// Tracker is the pending transaction ledger. Entries are unique by hash.
type Tracker struct {
	chain  ReceiptFetcher
	logger *slog.Logger
	now    func() time.Time
	limit  int

	mu        sync.Mutex
	pending   map[string]domain.PendingTx
	observers []observer
}

// New creates a Tracker. concurrency bounds parallel receipt lookups; zero
// means unbounded.
func New(chain ReceiptFetcher, concurrency int, logger *slog.Logger) *Tracker {
	return &Tracker{
		chain:   chain,
		logger:  logger.With(slog.String("component", "txtracker")),
		now:     time.Now,
		limit:   concurrency,
		pending: make(map[string]domain.PendingTx),
	}
}

// Add records a submitted transaction. A second Add for the same hash
// replaces the first.
func (t *Tracker) Add(typ, txHash string, payload any) {
	t.mu.Lock()
	t.pending[txHash] = domain.PendingTx{
		Type:      typ,
		TxHash:    txHash,
		Payload:   payload,
		CreatedAt: t.now(),
	}
	n := len(t.pending)
	t.mu.Unlock()

	t.logger.Debug("pending transaction added",
		slog.String("type", typ),
		slog.String("tx", txHash),
		slog.Int("pending", n),
	)
}

// FindByType returns the pending entries of typ, oldest first.
func (t *Tracker) FindByType(typ string) []domain.PendingTx {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.PendingTx
	for _, tx := range t.pending {
		if typ == "" || tx.Type == typ {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TxHash < out[j].TxHash
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of unresolved entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ObserveRemoval registers fn for removals of entries of typ. An empty typ
// observes every removal.
func (t *Tracker) ObserveRemoval(typ string, fn Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, observer{typ: typ, fn: fn})
	t.mu.Unlock()
}

// Sync asks the node for a receipt of every pending entry and removes those
// that have one. Entries whose lookup fails or returns no receipt stay.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	hashes := make([]string, 0, len(t.pending))
	for h := range t.pending {
		hashes = append(hashes, h)
	}
	t.mu.Unlock()

	if len(hashes) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if t.limit > 0 {
		g.SetLimit(t.limit)
	}
	for _, h := range hashes {
		g.Go(func() error {
			receipt, err := t.chain.TransactionReceipt(gctx, h)
			if err != nil {
				t.logger.WarnContext(gctx, "receipt lookup failed",
					slog.String("tx", h),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if receipt != nil {
				t.resolve(h, *receipt)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// resolve removes the entry and fires matching observers. The delete happens
// under the lock, so a concurrent resolve for the same hash sees nothing.
func (t *Tracker) resolve(txHash string, receipt domain.Receipt) {
	t.mu.Lock()
	tx, ok := t.pending[txHash]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, txHash)
	tx.Receipt = &receipt
	var fns []Observer
	for _, o := range t.observers {
		if o.typ == "" || o.typ == tx.Type {
			fns = append(fns, o.fn)
		}
	}
	t.mu.Unlock()

	t.logger.Info("pending transaction resolved",
		slog.String("type", tx.Type),
		slog.String("tx", txHash),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Bool("effective", receipt.Effective()),
	)
	for _, fn := range fns {
		fn(tx)
	}
}
