package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

type fakeTracker struct{ fns []txtracker.Observer }

func (f *fakeTracker) ObserveRemoval(_ string, fn txtracker.Observer) { f.fns = append(f.fns, fn) }

func (f *fakeTracker) resolve(tx domain.PendingTx) {
	for _, fn := range f.fns {
		fn(tx)
	}
}

func TestSendContinuesPastFailure(t *testing.T) {
	bad := &recorder{err: errors.New("boom")}
	good := &recorder{}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder: boom")
	assert.Equal(t, []string{"t"}, good.got())
}

func TestEventFilter(t *testing.T) {
	r := &recorder{}
	n := NewNotifier([]Sender{r}, []string{EventTxFailed}, discard())
	assert.False(t, n.Enabled(EventTxConfirmed))
	assert.True(t, n.Enabled(EventTxFailed))

	assert.False(t, NewNotifier(nil, nil, discard()).Enabled(EventNetwork))
}

func TestTrackerAlerts(t *testing.T) {
	defer leaktest.Check(t)()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &recorder{}
	n := NewNotifier([]Sender{r}, nil, discard())
	tr := &fakeTracker{}
	n.WatchTracker(tr)

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	tr.resolve(domain.PendingTx{Type: domain.TxTypeOffer, TxHash: "0x1", Receipt: &domain.Receipt{Status: 1, LogCount: 1}})
	tr.resolve(domain.PendingTx{Type: domain.TxTypeOffer, TxHash: "0x2", Receipt: &domain.Receipt{Status: 1}})

	require.Eventually(t, func() bool { return len(r.got()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Transaction confirmed", "Transaction had no effect"}, r.got())

	cancel()
	<-done
}

func TestStateAlertsOnlyOnChange(t *testing.T) {
	r := &recorder{}
	n := NewNotifier([]Sender{r}, nil, discard())
	app := state.New("DAI", "MKR")
	n.WatchState(app)

	app.SetNetwork(state.NetworkMain)
	app.SetLoadingProgress(50)
	app.SetAccount("0xabc")
	app.SetNetwork("")

	close(n.queue)
	var titles []string
	for m := range n.queue {
		titles = append(titles, m.title)
	}
	assert.Equal(t, []string{"Network main", "Network main", "Node disconnected"}, titles)
}

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string]map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Title", "body"))

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "42", bodies["/botTOKEN/sendMessage"]["chat_id"])
	assert.Equal(t, "*Title*\nbody", bodies["/botTOKEN/sendMessage"]["text"])
	assert.Equal(t, "**Title**\nbody", bodies["/hook"]["content"])

	err := NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "x", "y")
	assert.ErrorContains(t, err, "status 400")
}
