package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/otcdesk/internal/blob/s3"
	rediscache "github.com/alanyoungcy/otcdesk/internal/cache/redis"
	"github.com/alanyoungcy/otcdesk/internal/chain/eth"
	"github.com/alanyoungcy/otcdesk/internal/config"
	"github.com/alanyoungcy/otcdesk/internal/crypto"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
	"github.com/alanyoungcy/otcdesk/internal/notify"
	"github.com/alanyoungcy/otcdesk/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes need. Optional parts are
// nil when not configured. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Node
	Chain domain.Chain

	// Stores
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver *s3blob.TradeArchiver

	// Observability
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// needsChain returns true for modes that talk to the node.
func needsChain(mode string) bool {
	return mode != config.ModeArchive && mode != config.ModeRestore
}

// needsS3 returns true when object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || cfg.Mode == config.ModeArchive || cfg.Mode == config.ModeRestore
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Ethereum node ---
	if needsChain(cfg.Mode) {
		var wallet *crypto.Wallet
		keys := crypto.KeySource{
			Hex:        cfg.Wallet.PrivateKey,
			File:       cfg.Wallet.EncryptedKeyPath,
			Passphrase: cfg.Wallet.KeyPassword,
		}
		if keys.Configured() {
			key, err := keys.Load()
			if err != nil {
				return fail("wallet", err)
			}
			wallet = crypto.NewWallet(key)
		} else {
			logger.WarnContext(ctx, "no wallet configured, running read-only")
		}

		client, err := eth.Dial(ctx, eth.Config{
			URL:         cfg.Node.URL,
			ChainID:     cfg.Node.ChainID,
			Exchange:    cfg.Node.Exchange,
			EtherSymbol: cfg.Node.EtherSymbol,
			Tokens:      cfg.Node.Tokens,
			DialTimeout: cfg.Node.DialTimeout.Duration,
		}, wallet, logger)
		if err != nil {
			return fail("node", err)
		}
		closers = append(closers, client.Close)
		deps.Chain = client
	}

	// --- PostgreSQL (optional trade history) ---
	if cfg.Supabase.Enabled {
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		}, logger)
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Supabase.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
	}

	// --- Redis (optional bus, locks and rate limiting) ---
	if cfg.Redis.Enabled {
		rc, err := rediscache.Dial(ctx, rediscache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLS:        cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.SignalBus = rediscache.NewSignalBus(rc)
		deps.LockManager = rediscache.NewLockManager(rc)
		deps.RateLimiter = rediscache.NewRateLimiter(rc)
	}

	// --- S3 archive ---
	if needsS3(cfg) && deps.TradeStore != nil {
		sc, err := s3blob.Open(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = sc.Health(hctx)
		cancel()
		if err != nil {
			return fail("s3 health", err)
		}
		deps.Archiver = s3blob.NewTradeArchiver(
			deps.TradeStore,
			s3blob.NewWriter(sc),
			s3blob.NewReader(sc),
			deps.AuditStore,
			cfg.Archive.Prefix,
			cfg.Archive.ChunkSize,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Server.Metrics {
		deps.Metrics = metrics.New("otcdesk")
	}

	return deps, cleanup, nil
}
