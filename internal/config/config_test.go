package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateModes(t *testing.T) {
	for _, mode := range []string{"markets", "watch", "record", "trade", "MARKETS"} {
		cfg := Defaults()
		cfg.Mode = mode
		assert.NoError(t, cfg.Validate(), mode)
	}

	cfg := Defaults()
	cfg.Mode = "arbitrage"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Retry.MaxAttempts = 0
	cfg.RateLimit.OrderWrite.Capacity = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "retry: max_attempts")
	assert.Contains(t, err.Error(), "rate_limit.order_write")
}

func TestValidateTradeRequiresWalletKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	require.NoError(t, cfg.Validate())

	// An encrypted key file needs its password.
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "/keys/wallet.json"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")

	// Trading on Kalshi alone needs no EVM key, only the RSA pair.
	cfg = Defaults()
	cfg.Mode = "trade"
	cfg.Polymarket.Enabled = false
	cfg.Kalshi.Enabled = true
	cfg.Kalshi.ApiKeyID = "key-id"
	cfg.Kalshi.RsaPrivateKeyPath = "/keys/kalshi.pem"
	require.NoError(t, cfg.Validate())
}

func TestValidateKalshiTradeCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Polymarket.Enabled = false
	cfg.Kalshi.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi: api_key_id")
}

func TestValidateOpinionCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Opinion.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opinion: api_key")
	assert.Contains(t, err.Error(), "opinion: multisig_address")
}

func TestValidatePredictFunCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.PredictFun.Enabled = true
	require.NoError(t, cfg.Validate()) // read-only modes work without a key

	cfg.Mode = "trade"
	cfg.Wallet.PrivateKey = "0xabc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predictfun: api_key")
}

func TestValidateWatchNeedsAssetsOrDiscovery(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.Watch.MaxAssets = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch: max_assets")

	// Explicit assets lift the discovery requirement.
	cfg.Watch.Assets = []string{"tok-1"}
	require.NoError(t, cfg.Validate())
}

func TestValidateBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = true
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "postgres: port")

	// A DSN stands in for host/port/database.
	cfg.Postgres.DSN = "postgres://u:p@db:5432/drm"
	require.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: addr")

	cfg = Defaults()
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "watch"
log_level = "debug"

[watch]
venue = "kalshi"
assets = ["tok-a", "tok-b"]

[retry]
max_attempts = 5
base_backoff = "100ms"
max_backoff = "2s"

[kalshi]
enabled = true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "kalshi", cfg.Watch.Venue)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.Watch.Assets)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseBackoff.Duration)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.True(t, cfg.Kalshi.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 64, cfg.Stream.Buffer)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadBadDurationFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[retry]
base_backoff = "soon"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRM_MODE", "record")
	t.Setenv("DRM_WALLET_PRIVATE_KEY", "deadbeef")
	t.Setenv("DRM_POLYMARKET_ENABLED", "false")
	t.Setenv("DRM_POLYMARKET_CHAIN_ID", "80002")
	t.Setenv("DRM_WATCH_ASSETS", "tok-1, tok-2 ,tok-3")
	t.Setenv("DRM_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("DRM_RETRY_BASE_BACKOFF", "50ms")
	t.Setenv("DRM_RATE_LIMIT_PUBLIC_READ_CAPACITY", "40")
	t.Setenv("DRM_REDIS_ENABLED", "true")
	t.Setenv("DRM_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "record", cfg.Mode)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.False(t, cfg.Polymarket.Enabled)
	assert.Equal(t, int64(80002), cfg.Polymarket.ChainID)
	assert.Equal(t, []string{"tok-1", "tok-2", "tok-3"}, cfg.Watch.Assets)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseBackoff.Duration)
	assert.Equal(t, 40.0, cfg.RateLimit.PublicRead.Capacity)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("DRM_RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("DRM_POLYMARKET_ENABLED", "sure")

	cfg, err := Load("")
	require.NoError(t, err)

	// Unparseable values leave the defaults in place.
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Polymarket.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "c2VjcmV0"
	cfg.Postgres.DSN = "postgres://u:pw@db/orders"
	cfg.Opinion.ApiKey = ""

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Polymarket.ApiSecret)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Opinion.ApiKey)

	// The source config is untouched.
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, cfg.Mode, out.Mode)
}
