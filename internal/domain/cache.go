package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter counts requests per key in a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels carrying store changes.
const (
	ChannelOffers       = "otcdesk:offers"
	ChannelTokens       = "otcdesk:tokens"
	ChannelTrades       = "otcdesk:trades"
	ChannelTransactions = "otcdesk:transactions"
	ChannelState        = "otcdesk:state"

	// StreamTxResolved keeps a durable log of resolved transactions.
	StreamTxResolved = "otcdesk:tx_resolved"
)

// AllChannels lists every bus channel a push client may receive.
var AllChannels = []string{ChannelOffers, ChannelTokens, ChannelTrades, ChannelTransactions, ChannelState}
