package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func receive(t *testing.T, ch <-chan []byte) Envelope {
	t.Helper()
	select {
	case data := <-ch:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	return Envelope{}
}

func TestPublishesStateChanges(t *testing.T) {
	defer leaktest.Check(t)()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus()
	sub, err := bus.Subscribe(ctx, domain.ChannelState)
	require.NoError(t, err)

	app := state.New("DAI", "MKR")
	pub := NewPublisher(bus, 0, discard())
	pub.Attach(Sources{State: app})

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	app.SetNetwork(state.NetworkTest)

	env := receive(t, sub)
	assert.Equal(t, domain.ChannelState, env.Channel)
	assert.Equal(t, EventState, env.Event)
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, state.NetworkTest, snap.Network)
	assert.Equal(t, "MKR", snap.BaseCurrency)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDurableEventsReachStream(t *testing.T) {
	defer leaktest.Check(t)()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus()
	pub := NewPublisher(bus, 0, discard())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	pub.Emit(domain.ChannelTransactions, EventResolved, domain.PendingTx{Type: domain.TxTypeOffer, TxHash: "0x01"}, true)
	pub.Emit(domain.ChannelTokens, EventToken, domain.Token{Symbol: "DAI"}, false)

	require.Eventually(t, func() bool { return pub.Sent() == 2 }, 2*time.Second, 5*time.Millisecond)

	msgs, err := bus.StreamRead(ctx, domain.StreamTxResolved, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &env))
	assert.Equal(t, EventResolved, env.Event)

	cancel()
	<-done
}

func TestFullQueueDrops(t *testing.T) {
	pub := NewPublisher(NewLocalBus(), 1, discard())
	pub.Emit(domain.ChannelTrades, EventTrade, domain.Trade{TxHash: "a"}, false)
	pub.Emit(domain.ChannelTrades, EventTrade, domain.Trade{TxHash: "b"}, false)
	assert.Equal(t, int64(1), pub.Dropped())
}

func TestLocalStreamReadAfterID(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}

	all, err := bus.StreamRead(ctx, "s", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := bus.StreamRead(ctx, "s", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", string(rest[0].Payload))

	_, err = bus.StreamRead(ctx, "s", "bogus", 1)
	assert.Error(t, err)
}
