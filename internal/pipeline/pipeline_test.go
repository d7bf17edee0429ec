package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCronNext(t *testing.T) {
	base := time.Date(2016, 6, 1, 10, 17, 30, 0, time.UTC) // a Wednesday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2016, 6, 1, 10, 18, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2016, 6, 1, 10, 30, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2016, 6, 2, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2016, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9-11 * * 1-5", time.Date(2016, 6, 1, 10, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2016, 6, 5, 0, 0, 0, 0, time.UTC)},
		// restricted day-of-month and day-of-week: either may match
		{"0 0 1 * 1", time.Date(2016, 6, 6, 0, 0, 0, 0, time.UTC)},
		{"0 0 2 * 0", time.Date(2016, 6, 2, 0, 0, 0, 0, time.UTC)},
		// a starred day field keeps both required
		{"0 0 1 * */2", time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		c, err := ParseCron(tc.expr)
		require.NoError(t, err, tc.expr)
		got, err := c.Next(base)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

type stubArchiver struct {
	cutoffs []time.Time
	err     error
}

func (s *stubArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 3, s.err
}

func TestArchiverRunUsesRetention(t *testing.T) {
	stub := &stubArchiver{}
	a := NewArchiver(stub, 30, discard())
	now := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, stub.cutoffs, 1)
	assert.Equal(t, now.AddDate(0, 0, -30), stub.cutoffs[0])

	stub.err = errors.New("bucket gone")
	assert.ErrorContains(t, a.Run(context.Background()), "bucket gone")
}

type sliceSource []domain.Trade

func (s sliceSource) List(int) []domain.Trade { return s }

type recordingStore struct {
	domain.TradeStore
	last     uint64
	inserted []domain.Trade
}

func (r *recordingStore) GetLastBlock(context.Context) (uint64, error) { return r.last, nil }

func (r *recordingStore) InsertBatch(_ context.Context, ts []domain.Trade) error {
	r.inserted = append(r.inserted, ts...)
	return nil
}

func TestBackfillWritesOnlyNewerBlocks(t *testing.T) {
	src := sliceSource{{TxHash: "c", BlockNumber: 12}, {TxHash: "b", BlockNumber: 11}, {TxHash: "a", BlockNumber: 10}}
	store := &recordingStore{last: 10}

	n, err := NewBackfill(src, store, discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []domain.Trade{src[0], src[1]}, store.inserted)

	store.last = 12
	n, err = NewBackfill(src, store, discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	defer leaktest.Check(t)()
	ctx, cancel := context.WithCancel(context.Background())

	o := NewOrchestrator(
		NewBackfill(sliceSource{}, &recordingStore{}, discard()),
		NewArchiver(&stubArchiver{}, 1, discard()),
		10*time.Millisecond, "0 0 1 1 *", discard(),
	)
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
