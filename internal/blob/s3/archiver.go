package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	defaultChunk     = 5000
	// multipartAbove switches uploads to the multipart manager.
	multipartAbove = 16 << 20
)

// TradeArchiver implements domain.Archiver: it writes trades older than the
// cutoff to JSONL objects and then deletes them from the primary store.
type TradeArchiver struct {
	trades domain.TradeStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	chunk  int
	logger *slog.Logger
}

var _ domain.Archiver = (*TradeArchiver)(nil)

// NewTradeArchiver wires the archiver. audit may be nil.
func NewTradeArchiver(trades domain.TradeStore, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string, chunk int, logger *slog.Logger) *TradeArchiver {
	if prefix == "" {
		prefix = "archive/trades"
	}
	if chunk <= 0 {
		chunk = defaultChunk
	}
	return &TradeArchiver{
		trades: trades,
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: prefix,
		chunk:  chunk,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade older than before and deletes the rows
// only after all chunks are stored. Objects already present are not
// rewritten, so a run interrupted before the delete can be repeated.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	var paths []string
	for start := 0; start < len(trades); start += a.chunk {
		part := trades[start:min(start+a.chunk, len(trades))]
		path := a.objectPath(before, part)
		if err := a.upload(ctx, path, part); err != nil {
			return 0, err
		}
		paths = append(paths, path)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete: %w", err)
	}
	a.logger.InfoContext(ctx, "trades archived",
		slog.Int("count", len(trades)),
		slog.Int64("deleted", deleted),
		slog.Int("objects", len(paths)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"paths":  paths,
			"count":  len(trades),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit archive", slog.String("error", err.Error()))
		}
	}
	return int64(len(trades)), nil
}

func (a *TradeArchiver) upload(ctx context.Context, path string, trades []domain.Trade) error {
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		a.logger.InfoContext(ctx, "archive object exists, skipping", slog.String("path", path))
		return nil
	}
	body, err := encodeJSONL(trades)
	if err != nil {
		return err
	}
	if len(body) > multipartAbove {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL)
}

// objectPath is deterministic for a given chunk: cutoff date plus the block
// range it covers.
func (a *TradeArchiver) objectPath(before time.Time, part []domain.Trade) string {
	lo, hi := part[0].BlockNumber, part[0].BlockNumber
	for _, t := range part[1:] {
		lo, hi = min(lo, t.BlockNumber), max(hi, t.BlockNumber)
	}
	return fmt.Sprintf("%s/%s/%d-%d.jsonl", a.prefix, before.UTC().Format("2006-01-02"), lo, hi)
}

// Restore reads an archived object back into the trade store.
func (a *TradeArchiver) Restore(ctx context.Context, path string) (int, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	trades, err := decodeJSONL(bufio.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("s3blob: restore %s: %w", path, err)
	}
	if err := a.trades.InsertBatch(ctx, trades); err != nil {
		return 0, fmt.Errorf("s3blob: restore %s: %w", path, err)
	}
	return len(trades), nil
}

// List returns the archived objects.
func (a *TradeArchiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, a.prefix+"/")
}

func encodeJSONL(trades []domain.Trade) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, t := range trades {
		if err := enc.Encode(t); err != nil {
			return nil, fmt.Errorf("s3blob: encode trade %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeJSONL(r *bufio.Reader) ([]domain.Trade, error) {
	var out []domain.Trade
	dec := json.NewDecoder(r)
	for dec.More() {
		var t domain.Trade
		if err := dec.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
