// Package tokens mirrors the active account's token balances and exchange
// allowances, and submits approve, deposit and withdraw transactions.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

// Chain is the slice of domain.Chain the token store uses.
type Chain interface {
	TokenBalance(ctx context.Context, symbol, owner string) (*big.Int, error)
	TokenAllowance(ctx context.Context, symbol, owner, spender string) (*big.Int, error)
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	SubmitApprove(ctx context.Context, symbol, spender string, value *big.Int, gas uint64) (string, error)
	SubmitDeposit(ctx context.Context, value *big.Int, gas uint64) (string, error)
	SubmitWithdraw(ctx context.Context, value *big.Int, gas uint64) (string, error)
	Exchange() string
}

// Pending is the slice of the transaction tracker the store uses.
type Pending interface {
	Add(typ, txHash string, payload any)
	FindByType(typ string) []domain.PendingTx
	ObserveRemoval(typ string, fn txtracker.Observer)
}

// Config holds gas limits and the wrapped-ether symbol.
type Config struct {
	EtherSymbol   string
	ApproveGas    uint64
	DepositGas    uint64
	WithdrawGas   uint64
	ResyncTimeout time.Duration
}

// Store is the per-symbol token snapshot for the active account.
type Store struct {
	chain   Chain
	pending Pending
	app     *state.App
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	tokens    map[string]domain.Token
	native    *big.Int
	observers []func(domain.Token)
}

// New creates a Store and registers for resolution of its own transactions.
func New(chain Chain, pending Pending, app *state.App, cfg Config, logger *slog.Logger) *Store {
	if cfg.EtherSymbol == "" {
		cfg.EtherSymbol = "ETH"
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 30 * time.Second
	}
	s := &Store{
		chain:   chain,
		pending: pending,
		app:     app,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "tokens")),
		tokens:  make(map[string]domain.Token),
		native:  new(big.Int),
	}
	pending.ObserveRemoval("", s.onResolved)
	return s
}

// Subscribe registers fn to receive every token upsert.
func (s *Store) Subscribe(fn func(domain.Token)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Symbols returns the de-duplicated {quote, base} pair.
func (s *Store) Symbols() []string {
	snap := s.app.Snapshot()
	if snap.QuoteCurrency == snap.BaseCurrency {
		return []string{snap.QuoteCurrency}
	}
	return []string{snap.QuoteCurrency, snap.BaseCurrency}
}

// Sync refreshes the native balance and every token's balance and allowance.
// On a private or disconnected network everything is set to zero without
// touching the node. Per-token failures are logged and leave that token as is.
func (s *Store) Sync(ctx context.Context) error {
	snap := s.app.Snapshot()
	symbols := s.Symbols()

	if snap.Private() || snap.Account == "" {
		s.setNative(new(big.Int))
		for _, sym := range symbols {
			s.upsert(sym, new(big.Int), new(big.Int))
		}
		return nil
	}

	account := snap.Account
	if bal, err := s.chain.NativeBalance(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "native balance failed", slog.String("error", err.Error()))
	} else {
		s.setNative(bal)
	}

	type reading struct{ balance, allowance *big.Int }
	results := make([]*reading, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range symbols {
		g.Go(func() error {
			bal, err := s.chain.TokenBalance(gctx, sym, account)
			if err != nil {
				s.logger.WarnContext(gctx, "token balance failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
				return nil
			}
			allowance, err := s.chain.TokenAllowance(gctx, sym, account, s.chain.Exchange())
			if err != nil {
				s.logger.WarnContext(gctx, "token allowance failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = &reading{balance: bal, allowance: allowance}
			return nil
		})
	}
	_ = g.Wait()

	// Observers see the updates one at a time, on this goroutine.
	for i, sym := range symbols {
		if r := results[i]; r != nil {
			s.upsert(sym, r.balance, r.allowance)
		}
	}
	return ctx.Err()
}

// upsert replaces balance and allowance of sym in one step. The staged
// allowance follows the on-chain one unless the user has edited it.
func (s *Store) upsert(sym string, balance, allowance *big.Int) {
	s.mu.Lock()
	tok := s.tokens[sym]
	before := tok
	tok.Symbol = sym
	tok.Balance = balance.String()
	tok.Allowance = allowance.String()
	if tok.NewAllowance == "" || tok.NewAllowance == before.Allowance {
		tok.NewAllowance = tok.Allowance
	}
	s.tokens[sym] = tok
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	if before == tok {
		return
	}
	for _, fn := range observers {
		fn(tok)
	}
}

func (s *Store) setNative(v *big.Int) {
	s.mu.Lock()
	s.native = new(big.Int).Set(v)
	s.mu.Unlock()
}

// Get returns the snapshot for symbol.
func (s *Store) Get(symbol string) (domain.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[symbol]
	return tok, ok
}

// List returns every token sorted by symbol.
func (s *Store) List() []domain.Token {
	s.mu.Lock()
	out := make([]domain.Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		out = append(out, tok)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// NativeBalance returns the account's ether balance in wei.
func (s *Store) NativeBalance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.native)
}

// SetCurrencies switches the traded pair and refreshes balances for it.
func (s *Store) SetCurrencies(ctx context.Context, quote, base string) error {
	if quote == "" || base == "" {
		return fmt.Errorf("tokens: set currencies: %w", domain.ErrInvalidOrder)
	}
	s.app.SetCurrencies(quote, base)
	return s.Sync(ctx)
}

func (s *Store) onResolved(tx domain.PendingTx) {
	if tx.Type != domain.TxTypeEthTokens && !strings.HasPrefix(tx.Type, "allowance_") {
		return
	}
	if tx.Receipt != nil && !tx.Receipt.Effective() {
		s.logger.Warn("token transaction had no effect",
			slog.String("type", tx.Type),
			slog.String("tx", tx.TxHash),
		)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResyncTimeout)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("token resync failed", slog.String("error", err.Error()))
	}
}
