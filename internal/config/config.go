// Package config defines the top-level configuration for the OTC desk and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OTCDESK_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Node     NodeConfig     `toml:"node"`
	Market   MarketConfig   `toml:"market"`
	Sync     SyncConfig     `toml:"sync"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig says where the trading account key comes from. With neither
// set the desk runs read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NodeConfig holds the Ethereum endpoint and the contract addresses.
type NodeConfig struct {
	URL                string            `toml:"url"`
	ChainID            int64             `toml:"chain_id"`
	Exchange           string            `toml:"exchange"`
	EtherSymbol        string            `toml:"ether_symbol"`
	Tokens             map[string]string `toml:"tokens"`
	DialTimeout        duration          `toml:"dial_timeout"`
	PollInterval       duration          `toml:"poll_interval"`
	ReceiptConcurrency int               `toml:"receipt_concurrency"`
}

// MarketConfig is the initially selected currency pair.
type MarketConfig struct {
	Quote string `toml:"quote"`
	Base  string `toml:"base"`
}

// SyncConfig holds gas limits and the store timeouts.
type SyncConfig struct {
	OfferGas       uint64   `toml:"offer_gas"`
	BuyGas         uint64   `toml:"buy_gas"`
	CancelGas      uint64   `toml:"cancel_gas"`
	ApproveGas     uint64   `toml:"approve_gas"`
	DepositGas     uint64   `toml:"deposit_gas"`
	WithdrawGas    uint64   `toml:"withdraw_gas"`
	PendingTimeout duration `toml:"pending_timeout"`
	ResyncTimeout  duration `toml:"resync_timeout"`
	LockTTL        duration `toml:"lock_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters. The trade
// database is optional; it is used only when Enabled.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the desk uses
// an in-process bus and runs resyncs unguarded.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the trade backfill and the S3 archive job. Both
// need the trade database.
type ArchiveConfig struct {
	Enabled          bool     `toml:"enabled"`
	Prefix           string   `toml:"prefix"`
	RetentionDays    int      `toml:"retention_days"`
	Cron             string   `toml:"cron"`
	ChunkSize        int      `toml:"chunk_size"`
	BackfillInterval duration `toml:"backfill_interval"`
	// RestorePath is the object key read by the restore mode.
	RestorePath string `toml:"restore_path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit bounds state-changing requests per client per RateWindow.
	// Zero disables it. Needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	Metrics    bool     `toml:"metrics"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			URL:                "ws://localhost:8546",
			EtherSymbol:        "ETH",
			Tokens:             map[string]string{},
			DialTimeout:        duration{10 * time.Second},
			PollInterval:       duration{2 * time.Second},
			ReceiptConcurrency: 8,
		},
		Market: MarketConfig{
			Quote: "ETH",
			Base:  "MKR",
		},
		Sync: SyncConfig{
			OfferGas:       300_000,
			BuyGas:         300_000,
			CancelGas:      100_000,
			ApproveGas:     100_000,
			DepositGas:     100_000,
			WithdrawGas:    100_000,
			PendingTimeout: duration{5 * time.Second},
			ResyncTimeout:  duration{30 * time.Second},
			LockTTL:        duration{5 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "otcdesk",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "otcdesk-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Prefix:           "trades",
			RetentionDays:    90,
			Cron:             "0 3 * * *",
			ChunkSize:        10_000,
			BackfillInterval: duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
			Metrics:     true,
		},
		Notify: NotifyConfig{
			Events: []string{"tx_confirmed", "tx_failed", "network"},
		},
		Mode:     "client",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeClient  = "client"
	ModeServer  = "server"
	ModeSync    = "sync"
	ModeArchive = "archive"
	ModeRestore = "restore"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeClient:  true,
	ModeServer:  true,
	ModeSync:    true,
	ModeArchive: true,
	ModeRestore: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validEvents enumerates the accepted notification events.
var validEvents = map[string]bool{
	"tx_confirmed": true,
	"tx_failed":    true,
	"network":      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: client, server, sync, archive, restore)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is optional; a sealed key needs its passphrase.
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Node
	needsNode := mode != ModeArchive && mode != ModeRestore
	if needsNode {
		if c.Node.URL == "" {
			errs = append(errs, "node: url must not be empty")
		}
		if !common.IsHexAddress(c.Node.Exchange) {
			errs = append(errs, fmt.Sprintf("node: exchange %q is not an address", c.Node.Exchange))
		}
		for sym, addr := range c.Node.Tokens {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("node: token %s address %q is not an address", sym, addr))
			}
		}
		if c.Node.ChainID < 0 {
			errs = append(errs, "node: chain_id must be >= 0")
		}
	}

	// Market
	if c.Market.Quote == "" || c.Market.Base == "" {
		errs = append(errs, "market: quote and base must be set")
	} else if strings.EqualFold(c.Market.Quote, c.Market.Base) {
		errs = append(errs, "market: quote and base must differ")
	}

	// Sync
	if c.Sync.PendingTimeout.Duration <= 0 {
		errs = append(errs, "sync: pending_timeout must be > 0")
	}

	// Supabase
	needsDB := c.Supabase.Enabled || mode == ModeArchive || mode == ModeRestore || c.Archive.Enabled
	if needsDB {
		if !c.Supabase.Enabled {
			errs = append(errs, "supabase: must be enabled for the archive job")
		}
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.Archive.Enabled || mode == ModeArchive || mode == ModeRestore {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}
	if mode == ModeRestore && c.Archive.RestorePath == "" {
		errs = append(errs, "archive: restore_path is required for mode restore")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit needs redis")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
