package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/chain/chaintest"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/feed"
	"github.com/alanyoungcy/otcdesk/internal/offers"
	"github.com/alanyoungcy/otcdesk/internal/server/handler"
	"github.com/alanyoungcy/otcdesk/internal/server/ws"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
	"github.com/alanyoungcy/otcdesk/internal/trades"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

const (
	me       = "0x00000000000000000000000000000000000000aa"
	other    = "0x00000000000000000000000000000000000000bb"
	exchange = "0x00000000000000000000000000000000000000ee"
	apiKey   = "secret"
)

type market struct {
	tokens *tokens.Store
	offers *offers.Store
}

func (m market) SetCurrencies(ctx context.Context, quote, base string) error {
	if err := m.tokens.SetCurrencies(ctx, quote, base); err != nil {
		return err
	}
	return m.offers.Sync(ctx)
}

type stubLimiter struct {
	mu    sync.Mutex
	calls int
	allow bool
}

func (l *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.allow, nil
}

type harness struct {
	chain  *chaintest.Chain
	app    *state.App
	offers *offers.Store
	srv    *Server
}

func newHarness(t *testing.T, cfg Config, opts Options) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := chaintest.New(me, exchange)
	app := state.New("DAI", "MKR")
	app.SetNetwork(state.NetworkTest)
	app.SetAccount(me)
	tracker := txtracker.New(chain, 0, logger)
	tok := tokens.New(chain, tracker, app, tokens.Config{}, logger)
	off := offers.New(chain, tracker, tok, app, offers.Config{}, logger)
	hist := trades.New(chain, nil, app, logger)
	off.SetHistory(hist)

	h := Handlers{
		Health: handler.NewHealthHandler(handler.StatusSources{
			State: app, Offers: off, Trades: hist, Pending: tracker, Mode: "server",
		}, logger),
		Offers:       handler.NewOfferHandler(off, app, nil, logger),
		Tokens:       handler.NewTokenHandler(tok, market{tokens: tok, offers: off}, nil, logger),
		Trades:       handler.NewTradeHandler(hist, nil, nil, logger),
		Transactions: handler.NewTransactionHandler(tracker, nil, logger),
	}
	return &harness{chain: chain, app: app, offers: off, srv: New(cfg, h, opts, logger)}
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthIsOpen(t *testing.T) {
	h := newHarness(t, Config{APIKey: apiKey}, Options{})

	rec := h.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, Config{APIKey: apiKey}, Options{})

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/status", "", "Authorization", "Bearer wrong").Code)

	rec := h.do(http.MethodGet, "/api/status", "", "Authorization", "Bearer "+apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "server", body["mode"])

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/offers", "", "X-API-Key", apiKey).Code)
}

func TestListOffersSplitsSides(t *testing.T) {
	h := newHarness(t, Config{}, Options{})
	h.chain.PutOrder(1, domain.OrderData{
		SellAmount: wei(t, "2"), SellToken: "MKR", BuyAmount: wei(t, "4"), BuyToken: "DAI", Owner: other, Active: true,
	})
	h.chain.PutOrder(2, domain.OrderData{
		SellAmount: wei(t, "3"), SellToken: "DAI", BuyAmount: wei(t, "1"), BuyToken: "MKR", Owner: me, Active: true,
	})
	require.NoError(t, h.offers.SyncOffer(context.Background(), 1))
	require.NoError(t, h.offers.SyncOffer(context.Background(), 2))

	rec := h.do(http.MethodGet, "/api/offers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Len(t, body["asks"], 1)
	require.Len(t, body["bids"], 1)

	ask := body["asks"].([]any)[0].(map[string]any)
	assert.Equal(t, "2", ask["volume_human"])
	assert.Equal(t, "2", ask["price_human"])
	assert.Equal(t, false, ask["can_cancel"])

	bid := body["bids"].([]any)[0].(map[string]any)
	assert.Equal(t, true, bid["can_cancel"])

	rec = h.do(http.MethodGet, "/api/offers?type=ask", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "bids")

	rec = h.do(http.MethodGet, "/api/offers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", h.offers.Selected())
}

func TestNewOfferAccepted(t *testing.T) {
	h := newHarness(t, Config{}, Options{})

	rec := h.do(http.MethodPost, "/api/offers", `{"type":"ask","volume":"2","price":"3"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "DAI", body["currency"])

	subs := h.chain.Submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "order", subs[0].Kind)
	assert.Equal(t, "MKR", subs[0].Order.SellToken)
	assert.Equal(t, wei(t, "6").String(), subs[0].Order.BuyAmount.String())
}

func TestNewOfferRejectsBadInput(t *testing.T) {
	h := newHarness(t, Config{}, Options{})

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/offers", `{"type":"ask","volume":"x","price":"3"}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/offers", `{"type":"ask","volume":"1","price":"3","extra":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/offers", `{"type":"swap","volume":"1","price":"3"}`).Code)
	assert.Zero(t, h.chain.Calls("Submit"))
}

func TestCancelUnknownOffer(t *testing.T) {
	h := newHarness(t, Config{}, Options{})

	rec := h.do(http.MethodDelete, "/api/offers/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, h.chain.Calls("Submit"))
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	lim := &stubLimiter{}
	h := newHarness(t, Config{RateLimit: 1, RateWindow: time.Minute}, Options{Limiter: lim})

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/offers", "").Code)
	assert.Zero(t, lim.calls)

	rec := h.do(http.MethodPost, "/api/offers", `{"type":"ask","volume":"2","price":"3"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, lim.calls)
	assert.Zero(t, h.chain.Calls("Submit"))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, Config{APIKey: apiKey, CORSOrigins: []string{"https://desk.example"}}, Options{})

	rec := h.do(http.MethodOptions, "/api/offers", "", "Origin", "https://desk.example", "Access-Control-Request-Method", "POST")
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "https://desk.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t, Config{}, Options{})

	rec := h.do(http.MethodGet, "/api/health", "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestHubRelaysBusMessages(t *testing.T) {
	defer leaktest.Check(t)()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := feed.NewLocalBus()
	hub := ws.NewHub(bus, func() any { return map[string]int{"offers": 0} }, nil, logger)
	h := newHarness(t, Config{APIKey: apiKey}, Options{Hub: hub})

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + apiKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := make(chan []byte, 16)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}()

	first := <-frames
	assert.Contains(t, string(first), `"channel":"snapshot"`)

	payload := []byte(`{"channel":"offers","event":"upsert"}`)
	var got []byte
	require.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(ctx, domain.ChannelOffers, payload))
		select {
		case got = <-frames:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, string(payload), string(got))
	assert.Equal(t, 1, hub.Clients())

	cancel()
	require.ErrorIs(t, <-hubDone, context.Canceled)
	for range frames {
	}
	assert.Zero(t, hub.Clients())
}

func TestServeShutsDown(t *testing.T) {
	defer leaktest.Check(t)()

	h := newHarness(t, Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func wei(t *testing.T, human string) *big.Int {
	t.Helper()
	v, err := amount.HumanToBig(human)
	require.NoError(t, err)
	return v
}
