// Package network watches node connectivity and chain identity and
// re-initialises the stores when either the network or the account changes.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
)

// Genesis block hashes of the known public networks.
const (
	GenesisMain = "0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"
	GenesisTest = "0x0cd786a2425d16f152c658316c423e6ce1181e15c3295826d7c9904cba9ce303"
)

// NetworkFor maps a genesis hash to a network name.
func NetworkFor(genesisHash string) string {
	switch strings.ToLower(genesisHash) {
	case GenesisMain:
		return state.NetworkMain
	case GenesisTest:
		return state.NetworkTest
	default:
		return state.NetworkPrivate
	}
}

// Chain is the slice of domain.Chain the monitor uses.
type Chain interface {
	Block(ctx context.Context, number uint64) (domain.Block, error)
	Syncing(ctx context.Context) (*domain.SyncStatus, error)
	CodeAt(ctx context.Context, address string) ([]byte, error)
	Account() string
	Exchange() string
}

// Hook re-initialises one store after a network or account change.
type Hook func(ctx context.Context) error

type hook struct {
	name string
	fn   Hook
}

// Config controls polling and the resync lock.
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
}

// Monitor polls the node and publishes what it finds to state.App.
type Monitor struct {
	chain  Chain
	app    *state.App
	locks  domain.LockManager
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	hooks []hook
	last  string
}

// New creates a Monitor. locks may be nil, in which case resyncs are not
// guarded across processes.
func New(chain Chain, app *state.App, locks domain.LockManager, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Monitor{
		chain:  chain,
		app:    app,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "network")),
	}
}

// OnChange registers fn to run, in registration order, after every change.
func (m *Monitor) OnChange(name string, fn Hook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.mu.Unlock()
}

// Check reads chain identity, sync status, contract presence and account,
// and runs the change hooks when network or account differ from the last
// completed check or the node was unreachable since. Hooks are held back
// while the node is still syncing.
func (m *Monitor) Check(ctx context.Context) error {
	genesis, err := m.chain.Block(ctx, 0)
	if err != nil {
		return m.disconnected("genesis", err)
	}
	network := NetworkFor(genesis.Hash)
	account := m.chain.Account()

	syncing, err := m.chain.Syncing(ctx)
	if err != nil {
		return m.disconnected("syncing", err)
	}
	code, err := m.chain.CodeAt(ctx, m.chain.Exchange())
	if err != nil {
		return m.disconnected("code", err)
	}

	m.app.SetNetwork(network)
	m.app.SetAccount(account)
	m.app.SetSyncing(syncing != nil)
	m.app.SetContractExists(len(code) > 0)

	if syncing != nil {
		m.logger.InfoContext(ctx, "node syncing",
			slog.Uint64("current", syncing.CurrentBlock),
			slog.Uint64("highest", syncing.HighestBlock),
		)
		return nil
	}

	key := network + "/" + account
	m.mu.Lock()
	changed := key != m.last
	m.mu.Unlock()
	if !changed {
		return nil
	}

	m.logger.InfoContext(ctx, "network changed",
		slog.String("network", network),
		slog.String("account", account),
		slog.Bool("contract", len(code) > 0),
	)
	if err := m.reinit(ctx, key); err != nil {
		return err
	}
	m.mu.Lock()
	m.last = key
	m.mu.Unlock()
	return nil
}

// disconnected clears the network and forgets the last synced identity, so
// the next successful check rebuilds the mirror from scratch.
func (m *Monitor) disconnected(stage string, err error) error {
	m.app.SetNetwork("")
	m.mu.Lock()
	m.last = ""
	m.mu.Unlock()
	return fmt.Errorf("network: %s: %w: %w", stage, domain.ErrDisconnected, err)
}

func (m *Monitor) reinit(ctx context.Context, key string) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "otcdesk:resync:"+key, m.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.logger.InfoContext(ctx, "resync already running elsewhere", slog.String("key", key))
			}
			return fmt.Errorf("network: resync lock: %w", err)
		}
		defer unlock()
	}

	m.mu.Lock()
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	for _, h := range hooks {
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.WarnContext(ctx, "resync step failed",
				slog.String("step", h.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.InfoContext(ctx, "resync step done",
			slog.String("step", h.name),
			slog.Duration("took", time.Since(start)),
		)
	}
	return nil
}

// Run checks immediately and then every poll interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.Check(ctx); err != nil && ctx.Err() == nil {
			m.logger.WarnContext(ctx, "connectivity check failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
