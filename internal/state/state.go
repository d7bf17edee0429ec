// Package state holds the process-wide session values the stores read: which
// network the node is on, the active account, and the currency pair.
package state

import (
	"slices"
	"sync"
)

// Network names derived from the genesis block hash.
const (
	NetworkMain    = "main"
	NetworkTest    = "test"
	NetworkPrivate = "private"
)

// Snapshot is a copy of the application state at one point in time.
type Snapshot struct {
	Network         string `json:"network"`
	Account         string `json:"account"`
	Syncing         bool   `json:"syncing"`
	ContractExists  bool   `json:"contract_exists"`
	LoadingProgress int    `json:"loading_progress"`
	QuoteCurrency   string `json:"quote_currency"`
	BaseCurrency    string `json:"base_currency"`
}

// Connected reports whether a node answered the last connectivity check.
func (s Snapshot) Connected() bool { return s.Network != "" }

// Private reports whether the node is on an unknown chain or disconnected.
// Token balances are not read in that case.
func (s Snapshot) Private() bool {
	return s.Network == "" || s.Network == NetworkPrivate
}

// App is the shared session state. Writers are the connectivity monitor, the
// offer synchronizer (progress) and the currency selector; readers take
// snapshots.
type App struct {
	mu        sync.RWMutex
	snap      Snapshot
	observers []func(Snapshot)
}

// New creates the state for the given currency pair.
func New(quote, base string) *App {
	return &App{snap: Snapshot{QuoteCurrency: quote, BaseCurrency: base}}
}

// Snapshot returns a copy of the current state.
func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

func (a *App) Network() string       { return a.Snapshot().Network }
func (a *App) Account() string       { return a.Snapshot().Account }
func (a *App) BaseCurrency() string  { return a.Snapshot().BaseCurrency }
func (a *App) QuoteCurrency() string { return a.Snapshot().QuoteCurrency }
func (a *App) LoadingProgress() int  { return a.Snapshot().LoadingProgress }
func (a *App) ContractExists() bool  { return a.Snapshot().ContractExists }
func (a *App) Syncing() bool         { return a.Snapshot().Syncing }

// Subscribe registers fn to be called with the new snapshot after every
// change. fn runs on the writer's goroutine.
func (a *App) Subscribe(fn func(Snapshot)) {
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

// update applies mutate and notifies observers if anything changed.
func (a *App) update(mutate func(*Snapshot)) {
	a.mu.Lock()
	before := a.snap
	mutate(&a.snap)
	after := a.snap
	observers := slices.Clone(a.observers)
	a.mu.Unlock()

	if before == after {
		return
	}
	for _, fn := range observers {
		fn(after)
	}
}

func (a *App) SetNetwork(network string) {
	a.update(func(s *Snapshot) { s.Network = network })
}

func (a *App) SetAccount(account string) {
	a.update(func(s *Snapshot) { s.Account = account })
}

func (a *App) SetSyncing(syncing bool) {
	a.update(func(s *Snapshot) { s.Syncing = syncing })
}

func (a *App) SetContractExists(ok bool) {
	a.update(func(s *Snapshot) { s.ContractExists = ok })
}

// SetLoadingProgress records bulk sync progress, clamped to [0, 100].
func (a *App) SetLoadingProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	a.update(func(s *Snapshot) { s.LoadingProgress = pct })
}

// SetCurrencies switches the traded pair.
func (a *App) SetCurrencies(quote, base string) {
	a.update(func(s *Snapshot) {
		s.QuoteCurrency = quote
		s.BaseCurrency = base
	})
}
