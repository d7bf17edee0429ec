package network

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/chain/chaintest"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
)

const exchange = "0x00000000000000000000000000000000000000ee"

type heldLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *heldLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func setup(t *testing.T, genesis string) (*chaintest.Chain, *state.App, *Monitor, *[]string) {
	t.Helper()
	chain := chaintest.New("0xaa", exchange)
	chain.SetBlock(domain.Block{Number: 0, Hash: genesis})
	chain.SetCode(exchange, []byte{0x60, 0x60})
	app := state.New("ETH", "MKR")
	m := New(chain, app, nil, Config{PollInterval: 10 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var ran []string
	m.OnChange("offers", func(context.Context) error { ran = append(ran, "offers"); return nil })
	m.OnChange("tokens", func(context.Context) error { ran = append(ran, "tokens"); return nil })
	return chain, app, m, &ran
}

func TestNetworkFor(t *testing.T) {
	assert.Equal(t, state.NetworkMain, NetworkFor(GenesisMain))
	assert.Equal(t, state.NetworkTest, NetworkFor(GenesisTest))
	assert.Equal(t, state.NetworkPrivate, NetworkFor("0x1234"))
}

func TestCheckRunsHooksOncePerNetwork(t *testing.T) {
	_, app, m, ran := setup(t, GenesisTest)
	ctx := context.Background()

	require.NoError(t, m.Check(ctx))
	require.NoError(t, m.Check(ctx))

	assert.Equal(t, []string{"offers", "tokens"}, *ran)
	snap := app.Snapshot()
	assert.Equal(t, state.NetworkTest, snap.Network)
	assert.Equal(t, "0xaa", snap.Account)
	assert.True(t, snap.ContractExists)
	assert.False(t, snap.Syncing)
}

func TestCheckDisconnected(t *testing.T) {
	chain, app, m, ran := setup(t, GenesisMain)
	ctx := context.Background()
	require.NoError(t, m.Check(ctx))

	chain.SetDown(true)
	err := m.Check(ctx)
	assert.ErrorIs(t, err, domain.ErrDisconnected)
	assert.Empty(t, app.Network())

	chain.SetDown(false)
	require.NoError(t, m.Check(ctx))
	// updates may have been missed while down, so the mirror is rebuilt
	assert.Equal(t, []string{"offers", "tokens", "offers", "tokens"}, *ran)
	assert.Equal(t, state.NetworkMain, app.Network())

	require.NoError(t, m.Check(ctx))
	assert.Len(t, *ran, 4)
}

func TestCheckWaitsForNodeSync(t *testing.T) {
	chain, app, m, ran := setup(t, GenesisTest)
	chain.SetSyncing(&domain.SyncStatus{CurrentBlock: 10, HighestBlock: 20})

	require.NoError(t, m.Check(context.Background()))
	assert.True(t, app.Syncing())
	assert.Empty(t, *ran)

	chain.SetSyncing(nil)
	require.NoError(t, m.Check(context.Background()))
	assert.Len(t, *ran, 2)
}

func TestCheckSkipsWhenLockHeld(t *testing.T) {
	chain := chaintest.New("0xaa", exchange)
	chain.SetBlock(domain.Block{Number: 0, Hash: "0xfeed"})
	app := state.New("ETH", "MKR")
	locks := &heldLocks{held: map[string]bool{"otcdesk:resync:private/0xaa": true}}
	m := New(chain, app, locks, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var runs int
	m.OnChange("offers", func(context.Context) error { runs++; return nil })

	assert.ErrorIs(t, m.Check(context.Background()), domain.ErrLockHeld)
	assert.Zero(t, runs)
	assert.False(t, app.ContractExists())

	locks.held = map[string]bool{}
	require.NoError(t, m.Check(context.Background()))
	assert.Equal(t, 1, runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer leaktest.Check(t)()

	_, app, m, _ := setup(t, GenesisTest)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Network() == state.NetworkTest }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
