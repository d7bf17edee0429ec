package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, contentTypeJSONL)
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memTrades struct {
	trades []domain.Trade
}

func (m *memTrades) Upsert(_ context.Context, t domain.Trade) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memTrades) InsertBatch(ctx context.Context, ts []domain.Trade) error {
	m.trades = append(m.trades, ts...)
	return nil
}

func (m *memTrades) GetLastBlock(context.Context) (uint64, error) { return 0, nil }

func (m *memTrades) List(context.Context, domain.ListOpts) ([]domain.Trade, error) {
	return m.trades, nil
}

func (m *memTrades) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.Trade
	for _, t := range m.trades {
		if !t.Timestamp.Before(before) {
			keep = append(keep, t)
		}
	}
	n := int64(len(m.trades) - len(keep))
	m.trades = keep
	return n, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var (
	cutoff = time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	old1   = domain.Trade{TxHash: "0x01", Type: domain.OfferTypeAsk, Currency: "DAI", Volume: "1", Price: "2", BlockNumber: 10, Timestamp: cutoff.Add(-48 * time.Hour)}
	old2   = domain.Trade{TxHash: "0x02", Type: domain.OfferTypeBid, Currency: "DAI", Volume: "3", Price: "4", BlockNumber: 11, Timestamp: cutoff.Add(-24 * time.Hour)}
	fresh  = domain.Trade{TxHash: "0x03", Type: domain.OfferTypeAsk, Currency: "DAI", Volume: "5", Price: "6", BlockNumber: 12, Timestamp: cutoff.Add(time.Hour)}
)

func newArchiver(trades *memTrades, blobs *memBlobs, audit domain.AuditStore) *TradeArchiver {
	return NewTradeArchiver(trades, blobs, blobs, audit, "", 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestArchiveTradesUploadsThenDeletes(t *testing.T) {
	ctx := context.Background()
	trades := &memTrades{trades: []domain.Trade{old1, old2, fresh}}
	blobs := newMemBlobs()
	audit := &memAudit{}

	n, err := newArchiver(trades, blobs, audit).ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	infos, err := blobs.List(ctx, "archive/trades/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive/trades/2016-06-01/10-10.jsonl", infos[0].Path)
	assert.Equal(t, "archive/trades/2016-06-01/11-11.jsonl", infos[1].Path)

	assert.Equal(t, []domain.Trade{fresh}, trades.trades)
	assert.Equal(t, []string{"archive.trades"}, audit.events)
}

func TestArchiveSkipsExistingObjects(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	blobs.objects["archive/trades/2016-06-01/10-10.jsonl"] = []byte("{}\n")

	trades := &memTrades{trades: []domain.Trade{old1, old2}}
	_, err := newArchiver(trades, blobs, nil).ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.puts)
	assert.Empty(t, trades.trades)
}

func TestArchiveNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	n, err := newArchiver(&memTrades{trades: []domain.Trade{fresh}}, blobs, nil).ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, blobs.puts)
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	src := &memTrades{trades: []domain.Trade{old1, old2}}
	a := newArchiver(src, blobs, nil)
	_, err := a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)

	dst := &memTrades{}
	b := newArchiver(dst, blobs, nil)
	infos, err := b.List(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		_, err := b.Restore(ctx, info.Path)
		require.NoError(t, err)
	}
	if diff := cmp.Diff([]domain.Trade{old1, old2}, dst.trades); diff != "" {
		t.Fatalf("restored trades (-want +got):\n%s", diff)
	}

	_, err = b.Restore(ctx, "archive/trades/missing.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", withScheme("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://x", withScheme("https://x", false))
}
