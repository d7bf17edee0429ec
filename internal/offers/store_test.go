package offers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/chain/chaintest"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

const (
	me       = "0x00000000000000000000000000000000000000aa"
	other    = "0x00000000000000000000000000000000000000bb"
	exchange = "0x00000000000000000000000000000000000000ee"
)

func wei(human string) *big.Int {
	v, err := amount.HumanToBig(human)
	if err != nil {
		panic(err)
	}
	return v
}

type balances struct {
	mu     sync.Mutex
	tokens map[string]domain.Token
}

func (b *balances) Get(symbol string) (domain.Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tokens[symbol]
	return t, ok
}

func (b *balances) set(symbol, balance, allowance string) {
	b.mu.Lock()
	b.tokens[symbol] = domain.Token{Symbol: symbol, Balance: wei(balance).String(), Allowance: wei(allowance).String()}
	b.mu.Unlock()
}

type fixture struct {
	chain    *chaintest.Chain
	tracker  *txtracker.Tracker
	app      *state.App
	balances *balances
	store    *Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := chaintest.New(me, exchange)
	tracker := txtracker.New(chain, 0, logger)
	app := state.New("ETH", "MKR")
	app.SetNetwork(state.NetworkTest)
	app.SetAccount(me)
	bal := &balances{tokens: make(map[string]domain.Token)}
	return &fixture{
		chain:    chain,
		tracker:  tracker,
		app:      app,
		balances: bal,
		store:    New(chain, tracker, bal, app, cfg, logger),
	}
}

func ask(owner string) domain.OrderData {
	return domain.OrderData{SellAmount: wei("2"), SellToken: "MKR", BuyAmount: wei("4"), BuyToken: "DAI", Owner: owner, Active: true}
}

func bid(owner string) domain.OrderData {
	return domain.OrderData{SellAmount: wei("3"), SellToken: "ETH", BuyAmount: wei("6"), BuyToken: "MKR", Owner: owner, Active: true}
}

func TestSyncOfferClassifiesAsk(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))

	require.NoError(t, f.store.SyncOffer(context.Background(), 1))

	o, ok := f.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.OfferTypeAsk, o.Type)
	assert.Equal(t, "DAI", o.Currency)
	assert.Equal(t, wei("2").String(), o.Volume)
	price, err := amount.FromWeiString(o.Price)
	require.NoError(t, err)
	assert.Equal(t, "2", price)
	assert.Equal(t, domain.OfferStatusConfirmed, o.Status)
	assert.Equal(t, other, o.Owner)
}

func TestSyncOfferClassifiesBid(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, bid(other))

	require.NoError(t, f.store.SyncOffer(context.Background(), 1))

	o, ok := f.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.OfferTypeBid, o.Type)
	assert.Equal(t, "ETH", o.Currency)
	assert.Equal(t, wei("6").String(), o.Volume)
	price, err := amount.FromWeiString(o.Price)
	require.NoError(t, err)
	assert.Equal(t, "0.5", price)
}

func TestSyncOfferUnclassifiableLeavesStoreAlone(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, domain.OrderData{SellAmount: wei("1"), SellToken: "DAI", BuyAmount: wei("1"), BuyToken: "DGD", Owner: other, Active: true})

	var changes int
	f.store.Subscribe(func(Change) { changes++ })

	assert.NotPanics(t, func() {
		assert.NoError(t, f.store.SyncOffer(context.Background(), 1))
	})
	assert.Zero(t, f.store.Len())
	assert.Zero(t, changes)
}

func TestSyncOfferIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(7, ask(other))
	ctx := context.Background()

	require.NoError(t, f.store.SyncOffer(ctx, 7))
	once, _ := f.store.Get("7")

	var changes int
	f.store.Subscribe(func(Change) { changes++ })
	require.NoError(t, f.store.SyncOffer(ctx, 7))
	twice, _ := f.store.Get("7")

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second sync changed the offer (-once +twice):\n%s", diff)
	}
	assert.Zero(t, changes)
}

func TestSyncOfferRemovesInactiveAndDismissesSelection(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))
	ctx := context.Background()
	require.NoError(t, f.store.SyncOffer(ctx, 1))
	f.store.Select("1")

	gone := ask(other)
	gone.Active = false
	f.chain.PutOrder(1, gone)
	require.NoError(t, f.store.SyncOffer(ctx, 1))

	_, ok := f.store.Get("1")
	assert.False(t, ok)
	assert.Empty(t, f.store.Selected())
}

func TestSyncOfferRPCErrorLeavesStoreAlone(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))
	ctx := context.Background()
	require.NoError(t, f.store.SyncOffer(ctx, 1))

	f.chain.FailOrder(1, errors.New("timeout"))
	assert.Error(t, f.store.SyncOffer(ctx, 1))
	assert.Equal(t, 1, f.store.Len())
}

func TestBulkSync(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))
	inactive := bid(other)
	inactive.Active = false
	f.chain.PutOrder(2, inactive)
	f.chain.PutOrder(3, bid(me))

	var progress []int
	f.app.Subscribe(func(s state.Snapshot) { progress = append(progress, s.LoadingProgress) })

	var order []string
	f.store.Subscribe(func(c Change) {
		if c.Kind == ChangeUpsert {
			order = append(order, c.Offer.ID)
		}
	})

	require.NoError(t, f.store.Sync(context.Background()))

	assert.Equal(t, 2, f.store.Len())
	_, ok := f.store.Get("1")
	assert.True(t, ok)
	_, ok = f.store.Get("3")
	assert.True(t, ok)
	assert.Equal(t, []string{"3", "1"}, order)

	assert.Equal(t, 100, f.app.LoadingProgress())
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestBulkSyncSkipsFailedOrders(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))
	f.chain.PutOrder(2, ask(other))
	f.chain.FailOrder(2, errors.New("boom"))

	require.NoError(t, f.store.Sync(context.Background()))
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 100, f.app.LoadingProgress())
}

func TestBulkSyncHonorsCancellation(t *testing.T) {
	f := newFixture(t, Config{})
	f.chain.PutOrder(1, ask(other))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.store.Sync(ctx), context.Canceled)
}

func TestListOrdersByBestPrice(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, domain.OrderData{SellAmount: wei("1"), SellToken: "MKR", BuyAmount: wei("3"), BuyToken: "ETH", Owner: other, Active: true})
	f.chain.PutOrder(2, domain.OrderData{SellAmount: wei("1"), SellToken: "MKR", BuyAmount: wei("2"), BuyToken: "ETH", Owner: other, Active: true})
	f.chain.PutOrder(3, domain.OrderData{SellAmount: wei("1"), SellToken: "ETH", BuyAmount: wei("1"), BuyToken: "MKR", Owner: other, Active: true})
	f.chain.PutOrder(4, domain.OrderData{SellAmount: wei("2"), SellToken: "ETH", BuyAmount: wei("1"), BuyToken: "MKR", Owner: other, Active: true})
	require.NoError(t, f.store.Sync(ctx))

	ids := func(os []domain.Offer) []string {
		var out []string
		for _, o := range os {
			out = append(out, o.ID)
		}
		return out
	}
	assert.Equal(t, []string{"2", "1"}, ids(f.store.Asks()))
	assert.Equal(t, []string{"4", "3"}, ids(f.store.Bids()))
	assert.Len(t, f.store.List(""), 4)
}

func TestCanBuyRequiresConfirmed(t *testing.T) {
	f := newFixture(t, Config{})
	f.balances.set("MKR", "100", "100")
	f.balances.set("DAI", "100", "100")
	f.balances.set("ETH", "100", "100")
	ctx := context.Background()
	f.chain.PutOrder(1, ask(other))
	f.chain.PutOrder(2, bid(other))
	require.NoError(t, f.store.Sync(ctx))

	for _, id := range []string{"1", "2"} {
		o, _ := f.store.Get(id)
		assert.True(t, f.store.CanBuy(o, nil), id)
		for _, st := range []domain.OfferStatus{domain.OfferStatusPending, domain.OfferStatusBought, domain.OfferStatusCancelled} {
			o.Status = st
			assert.False(t, f.store.CanBuy(o, nil), "%s %s", id, st)
		}
	}
}

func TestCanBuyChecksBalanceAndAllowance(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(other)) // 2 MKR at 2 DAI: costs 4 DAI
	f.chain.PutOrder(2, bid(other)) // wants 6 MKR
	require.NoError(t, f.store.Sync(ctx))
	askOffer, _ := f.store.Get("1")
	bidOffer, _ := f.store.Get("2")

	f.balances.set("DAI", "4", "3.9")
	assert.False(t, f.store.CanBuy(askOffer, nil))
	f.balances.set("DAI", "3.9", "4")
	assert.False(t, f.store.CanBuy(askOffer, nil))
	f.balances.set("DAI", "4", "4")
	assert.True(t, f.store.CanBuy(askOffer, nil))
	assert.True(t, f.store.CanBuy(askOffer, wei("1")))
	assert.False(t, f.store.CanBuy(askOffer, wei("3")))

	f.balances.set("MKR", "5", "10")
	assert.False(t, f.store.CanBuy(bidOffer, nil))
	assert.True(t, f.store.CanBuy(bidOffer, wei("5")))
	f.balances.set("MKR", "6", "6")
	assert.True(t, f.store.CanBuy(bidOffer, nil))
}

func TestCanCancel(t *testing.T) {
	f := newFixture(t, Config{})
	mine := domain.Offer{ID: "1", Owner: me, Status: domain.OfferStatusConfirmed}
	assert.True(t, f.store.CanCancel(mine))

	wrongStatus := mine
	wrongStatus.Status = domain.OfferStatusPending
	assert.False(t, f.store.CanCancel(wrongStatus))

	wrongOwner := mine
	wrongOwner.Owner = other
	assert.False(t, f.store.CanCancel(wrongOwner))
}

func TestCancelLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(me))
	require.NoError(t, f.store.SyncOffer(ctx, 1))

	require.NoError(t, f.store.CancelOffer(ctx, "1"))

	o, _ := f.store.Get("1")
	assert.Equal(t, domain.OfferStatusCancelled, o.Status)
	pending := f.tracker.FindByType(domain.TxTypeOffer)
	require.Len(t, pending, 1)
	assert.Equal(t, o.Tx, pending[0].TxHash)

	// an update event before the receipt keeps the local status
	require.NoError(t, f.store.SyncOffer(ctx, 1))
	o, _ = f.store.Get("1")
	assert.Equal(t, domain.OfferStatusCancelled, o.Status)

	gone := ask(me)
	gone.Active = false
	f.chain.PutOrder(1, gone)
	f.chain.SetReceipt(pending[0].TxHash, domain.Receipt{Status: 1, LogCount: 1})
	require.NoError(t, f.tracker.Sync(ctx))

	_, ok := f.store.Get("1")
	assert.False(t, ok)
	assert.Zero(t, f.tracker.Len())
}

func TestCancelWithoutEffectShowsHelper(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(me))
	require.NoError(t, f.store.SyncOffer(ctx, 1))
	require.NoError(t, f.store.CancelOffer(ctx, "1"))

	tx := f.tracker.FindByType(domain.TxTypeOffer)[0].TxHash
	f.chain.SetReceipt(tx, domain.Receipt{Status: 1, LogCount: 0})
	require.NoError(t, f.tracker.Sync(ctx))

	o, ok := f.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.OfferStatusConfirmed, o.Status)
	assert.Equal(t, helperNoEffect, o.Helper)
	assert.Empty(t, o.Tx)
}

func TestCancelRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(other))
	require.NoError(t, f.store.SyncOffer(ctx, 1))

	assert.ErrorIs(t, f.store.CancelOffer(ctx, "1"), domain.ErrNotOwner)
	assert.ErrorIs(t, f.store.CancelOffer(ctx, "9"), domain.ErrNotFound)
	assert.Empty(t, f.chain.Submitted())
}

func TestBuyLifecycle(t *testing.T) {
	f := newFixture(t, Config{BuyGas: 100000})
	ctx := context.Background()
	f.chain.PutOrder(2, bid(other))
	require.NoError(t, f.store.SyncOffer(ctx, 2))

	require.NoError(t, f.store.BuyOffer(ctx, "2", wei("3")))

	subs := f.chain.Submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "buy", subs[0].Kind)
	assert.Equal(t, uint64(2), subs[0].ID)
	assert.Equal(t, uint64(100000), subs[0].Gas)
	// half of a 6 MKR bid paying 3 ETH is 1.5 ETH of the sell leg
	assert.Equal(t, wei("1.5").String(), subs[0].Quantity.String())

	o, _ := f.store.Get("2")
	assert.Equal(t, domain.OfferStatusBought, o.Status)

	// a second buy while one is in flight is refused
	assert.ErrorIs(t, f.store.BuyOffer(ctx, "2", nil), domain.ErrNotActionable)

	partial := bid(other)
	partial.SellAmount = wei("1.5")
	partial.BuyAmount = wei("3")
	f.chain.PutOrder(2, partial)
	f.chain.SetReceipt(o.Tx, domain.Receipt{Status: 1, LogCount: 2})
	require.NoError(t, f.tracker.Sync(ctx))

	o, ok := f.store.Get("2")
	require.True(t, ok)
	assert.Equal(t, domain.OfferStatusConfirmed, o.Status)
	assert.Equal(t, wei("3").String(), o.Volume)
	assert.Empty(t, o.Helper)
	assert.Empty(t, o.Tx)
}

func TestBuySubmitFailureKeepsOffer(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(other))
	require.NoError(t, f.store.SyncOffer(ctx, 1))
	f.chain.SetSubmitErr(errors.New("signer rejected"))

	err := f.store.BuyOffer(ctx, "1", nil)
	require.Error(t, err)

	o, ok := f.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.OfferStatusConfirmed, o.Status)
	assert.Contains(t, o.Helper, "signer rejected")
	assert.Zero(t, f.tracker.Len())
}

func TestBuyRejectsBadQuantity(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.chain.PutOrder(1, ask(other))
	require.NoError(t, f.store.SyncOffer(ctx, 1))

	assert.ErrorIs(t, f.store.BuyOffer(ctx, "1", wei("5")), domain.ErrInvalidOrder)
	assert.ErrorIs(t, f.store.BuyOffer(ctx, "1", big.NewInt(0)), domain.ErrInvalidOrder)
}

func TestNewOfferExpires(t *testing.T) {
	f := newFixture(t, Config{OfferGas: 300000, PendingTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	o, err := f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("2"), SellToken: "MKR", BuyAmount: wei("4"), BuyToken: "DAI"})
	require.NoError(t, err)

	assert.Equal(t, domain.OfferStatusPending, o.Status)
	assert.Equal(t, me, o.Owner)
	assert.Equal(t, 1, f.store.Len())
	assert.Len(t, f.tracker.FindByType(domain.TxTypeOffer), 1)
	assert.Equal(t, uint64(300000), f.chain.Submitted()[0].Gas)

	require.Eventually(t, func() bool { return f.store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewOfferResolution(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: time.Minute})
	ctx := context.Background()
	o, err := f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("2"), SellToken: "MKR", BuyAmount: wei("4"), BuyToken: "DAI"})
	require.NoError(t, err)

	// someone else's order lands in the same block after ours
	f.chain.PutOrder(1, ask(me))
	f.chain.PutOrder(2, ask(other))
	f.chain.SetReceipt(o.ID, domain.Receipt{Status: 1, LogCount: 1, OrderIDs: []uint64{1}})
	require.NoError(t, f.tracker.Sync(ctx))

	_, ok := f.store.Get(o.ID)
	assert.False(t, ok)
	real, ok := f.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.OfferStatusConfirmed, real.Status)
	assert.Equal(t, me, real.Owner)
	_, ok = f.store.Get("2")
	assert.False(t, ok, "orders the receipt does not name are left to the update stream")
}

func TestStaleExpiryLeavesRearmedTimer(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: time.Hour})
	o, err := f.store.NewOffer(context.Background(), domain.OrderRequest{SellAmount: wei("2"), SellToken: "MKR", BuyAmount: wei("4"), BuyToken: "DAI"})
	require.NoError(t, err)

	// the old timer fires while the entry is being replaced
	f.store.mu.Lock()
	f.store.timers[o.ID].Reset(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	rearmed := time.AfterFunc(time.Hour, func() {})
	defer rearmed.Stop()
	f.store.timers[o.ID] = rearmed
	f.store.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	f.store.mu.Lock()
	current := f.store.timers[o.ID]
	f.store.mu.Unlock()
	assert.Same(t, rearmed, current)
	_, ok := f.store.Get(o.ID)
	assert.True(t, ok)
}

func TestNewOfferFailedReceipt(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	o, err := f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("2"), SellToken: "MKR", BuyAmount: wei("4"), BuyToken: "DAI"})
	require.NoError(t, err)

	f.chain.SetReceipt(o.ID, domain.Receipt{Status: 0})
	require.NoError(t, f.tracker.Sync(ctx))

	got, ok := f.store.Get(o.ID)
	if ok {
		assert.Equal(t, helperNotCreated, got.Helper)
	}
	require.Eventually(t, func() bool { return f.store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewOfferRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("1"), SellToken: "DAI", BuyAmount: wei("1"), BuyToken: "ETH"})
	assert.ErrorIs(t, err, domain.ErrUnclassifiable)

	_, err = f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("0"), SellToken: "MKR", BuyAmount: wei("1"), BuyToken: "ETH"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	f.chain.SetSubmitErr(errors.New("no funds"))
	_, err = f.store.NewOffer(ctx, domain.OrderRequest{SellAmount: wei("1"), SellToken: "MKR", BuyAmount: wei("1"), BuyToken: "ETH"})
	assert.Error(t, err)
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.tracker.Len())
}

func TestDefaultPendingTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, 5*time.Second, f.store.cfg.PendingTimeout)
}

func TestTotal(t *testing.T) {
	total, err := Total(domain.Offer{Volume: wei("2").String(), Price: wei("2.5").String()})
	require.NoError(t, err)
	assert.Equal(t, "5", total.String())
}
