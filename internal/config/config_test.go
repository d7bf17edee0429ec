package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeAddr = "0x00000000000000000000000000000000000000ee"

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "server"

[node]
url = "ws://node:8546"
exchange = "`+exchangeAddr+`"
poll_interval = "500ms"

[node.tokens]
MKR = "0x00000000000000000000000000000000000000a1"

[market]
quote = "DAI"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "ws://node:8546", cfg.Node.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Node.PollInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Node.DialTimeout.Duration)
	assert.Equal(t, "DAI", cfg.Market.Quote)
	assert.Equal(t, "MKR", cfg.Market.Base)
	assert.Equal(t, map[string]string{"MKR": "0x00000000000000000000000000000000000000a1"}, cfg.Node.Tokens)
	assert.Equal(t, 5*time.Second, cfg.Sync.PendingTimeout.Duration)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	path := writeTOML(t, `[node]
exchange = "`+exchangeAddr+`"
`)
	t.Setenv("OTCDESK_NODE_URL", "http://rpc:8545")
	t.Setenv("OTCDESK_SYNC_OFFER_GAS", "123")
	t.Setenv("OTCDESK_SYNC_PENDING_TIMEOUT", "7s")
	t.Setenv("OTCDESK_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("OTCDESK_NODE_TOKENS", "DAI=0x01,bad, MKR = 0x02")
	t.Setenv("OTCDESK_REDIS_ENABLED", "true")
	t.Setenv("OTCDESK_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://rpc:8545", cfg.Node.URL)
	assert.Equal(t, uint64(123), cfg.Sync.OfferGas)
	assert.Equal(t, 7*time.Second, cfg.Sync.PendingTimeout.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, map[string]string{"DAI": "0x01", "MKR": "0x02"}, cfg.Node.Tokens)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable values leave the default")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func valid() Config {
	cfg := Defaults()
	cfg.Node.Exchange = exchangeAddr
	return cfg
}

func TestValidateDefaultsWithExchange(t *testing.T) {
	cfg := valid()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := valid()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Node.Exchange = "nowhere"
	cfg.Market.Base = "eth"
	cfg.Wallet.EncryptedKeyPath = "/keys/desk.json"
	cfg.Notify.Events = []string{"order_filled"}
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"key_password is required",
		`exchange "nowhere"`,
		"quote and base must differ",
		`unknown event "order_filled"`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveNeedsDatabaseAndBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeArchive
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase: must be enabled")
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.NotContains(t, err.Error(), "node:", "archive mode does not talk to the node")

	cfg.Supabase.Enabled = true
	cfg.S3.Bucket = "trades"
	require.NoError(t, cfg.Validate())

	cfg.Mode = ModeRestore
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore_path")
}

func TestValidateRateLimitNeedsRedis(t *testing.T) {
	cfg := valid()
	cfg.Server.RateLimit = 10
	require.ErrorContains(t, cfg.Validate(), "rate_limit needs redis")

	cfg.Redis.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := valid()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Supabase.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Node.Tokens = map[string]string{"MKR": "0x01"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Node.Tokens["MKR"] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "0x01", cfg.Node.Tokens["MKR"])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
}
