package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OTCDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OTCDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "OTCDESK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OTCDESK_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OTCDESK_WALLET_KEY_PASSWORD")

	// ── Node ──
	setStr(&cfg.Node.URL, "OTCDESK_NODE_URL")
	setInt64(&cfg.Node.ChainID, "OTCDESK_NODE_CHAIN_ID")
	setStr(&cfg.Node.Exchange, "OTCDESK_NODE_EXCHANGE")
	setStr(&cfg.Node.EtherSymbol, "OTCDESK_NODE_ETHER_SYMBOL")
	setStringMap(&cfg.Node.Tokens, "OTCDESK_NODE_TOKENS")
	setDuration(&cfg.Node.DialTimeout, "OTCDESK_NODE_DIAL_TIMEOUT")
	setDuration(&cfg.Node.PollInterval, "OTCDESK_NODE_POLL_INTERVAL")
	setInt(&cfg.Node.ReceiptConcurrency, "OTCDESK_NODE_RECEIPT_CONCURRENCY")

	// ── Market ──
	setStr(&cfg.Market.Quote, "OTCDESK_MARKET_QUOTE")
	setStr(&cfg.Market.Base, "OTCDESK_MARKET_BASE")

	// ── Sync ──
	setUint64(&cfg.Sync.OfferGas, "OTCDESK_SYNC_OFFER_GAS")
	setUint64(&cfg.Sync.BuyGas, "OTCDESK_SYNC_BUY_GAS")
	setUint64(&cfg.Sync.CancelGas, "OTCDESK_SYNC_CANCEL_GAS")
	setUint64(&cfg.Sync.ApproveGas, "OTCDESK_SYNC_APPROVE_GAS")
	setUint64(&cfg.Sync.DepositGas, "OTCDESK_SYNC_DEPOSIT_GAS")
	setUint64(&cfg.Sync.WithdrawGas, "OTCDESK_SYNC_WITHDRAW_GAS")
	setDuration(&cfg.Sync.PendingTimeout, "OTCDESK_SYNC_PENDING_TIMEOUT")
	setDuration(&cfg.Sync.ResyncTimeout, "OTCDESK_SYNC_RESYNC_TIMEOUT")
	setDuration(&cfg.Sync.LockTTL, "OTCDESK_SYNC_LOCK_TTL")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "OTCDESK_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "OTCDESK_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "OTCDESK_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "OTCDESK_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "OTCDESK_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "OTCDESK_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "OTCDESK_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "OTCDESK_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "OTCDESK_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "OTCDESK_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "OTCDESK_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "OTCDESK_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OTCDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OTCDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OTCDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OTCDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OTCDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OTCDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OTCDESK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "OTCDESK_REDIS_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OTCDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OTCDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "OTCDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OTCDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OTCDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OTCDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OTCDESK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OTCDESK_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "OTCDESK_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.RetentionDays, "OTCDESK_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "OTCDESK_ARCHIVE_CRON")
	setInt(&cfg.Archive.ChunkSize, "OTCDESK_ARCHIVE_CHUNK_SIZE")
	setDuration(&cfg.Archive.BackfillInterval, "OTCDESK_ARCHIVE_BACKFILL_INTERVAL")
	setStr(&cfg.Archive.RestorePath, "OTCDESK_ARCHIVE_RESTORE_PATH")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OTCDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OTCDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OTCDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OTCDESK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OTCDESK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OTCDESK_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.Metrics, "OTCDESK_SERVER_METRICS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OTCDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OTCDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OTCDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OTCDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OTCDESK_MODE")
	setStr(&cfg.LogLevel, "OTCDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setStringMap parses "K1=V1,K2=V2". Entries replace, they do not merge.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, p := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if ok && k != "" && val != "" {
			out[k] = val
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
