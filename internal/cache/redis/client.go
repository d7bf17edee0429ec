// Package redis backs the shared signal bus, resync locks and API rate
// limiting with go-redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Config holds connection parameters.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLS        bool
	// Prefix namespaces every key this package writes.
	Prefix string
}

// Client wraps a go-redis client.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// Dial connects and pings the server.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "otcdesk"
	}
	logger = logger.With(slog.String("component", "redis"))
	logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return &Client{rdb: rdb, prefix: prefix, logger: logger}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) key(kind, name string) string {
	return c.prefix + ":" + kind + ":" + name
}
