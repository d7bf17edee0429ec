package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `tx_hash, log_index, type, currency, volume::text, price::text, block_number, timestamp`

const upsertTrade = `
	INSERT INTO trades (tx_hash, log_index, type, currency, volume, price, block_number, timestamp)
	VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
	ON CONFLICT (tx_hash, log_index) DO UPDATE SET
		type = EXCLUDED.type,
		currency = EXCLUDED.currency,
		volume = EXCLUDED.volume,
		price = EXCLUDED.price,
		block_number = EXCLUDED.block_number,
		timestamp = EXCLUDED.timestamp`

func tradeArgs(t domain.Trade) []any {
	return []any{t.TxHash, int64(t.LogIndex), string(t.Type), t.Currency, t.Volume, t.Price, int64(t.BlockNumber), t.Timestamp}
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		var (
			t     domain.Trade
			index int64
			typ   string
			block int64
		)
		if err := rows.Scan(&t.TxHash, &index, &typ, &t.Currency, &t.Volume, &t.Price, &block, &t.Timestamp); err != nil {
			return nil, err
		}
		t.LogIndex = uint(index)
		t.Type = domain.OfferType(typ)
		t.BlockNumber = uint64(block)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert writes one trade, replacing any row for the same log.
func (s *TradeStore) Upsert(ctx context.Context, t domain.Trade) error {
	if _, err := s.pool.Exec(ctx, upsertTrade, tradeArgs(t)...); err != nil {
		return fmt.Errorf("postgres: upsert trade %s: %w", t.TxHash, err)
	}
	return nil
}

// InsertBatch upserts trades in one round trip.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(upsertTrade, tradeArgs(t)...)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch trade %d (%s): %w", i, trades[i].TxHash, err)
		}
	}
	return nil
}

// GetLastBlock returns the highest stored block number, or 0 if empty.
func (s *TradeStore) GetLastBlock(ctx context.Context) (uint64, error) {
	var block *int64
	err := s.pool.QueryRow(ctx, `SELECT MAX(block_number) FROM trades`).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: last trade block: %w", err)
	}
	if block == nil {
		return 0, nil
	}
	return uint64(*block), nil
}

// List returns trades newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	where, args := timeRange("timestamp", opts)
	query := `SELECT ` + tradeCols + ` FROM trades` + where + ` ORDER BY block_number DESC, tx_hash, log_index`
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE timestamp < $1 ORDER BY timestamp, tx_hash, log_index`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades older than before.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
