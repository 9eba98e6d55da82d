package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DRM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DRM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DRM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DRM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DRM_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setBool(&cfg.Polymarket.Enabled, "DRM_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.ClobHost, "DRM_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "DRM_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "DRM_POLYMARKET_WS_HOST")
	setInt64(&cfg.Polymarket.ChainID, "DRM_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.Exchange, "DRM_POLYMARKET_EXCHANGE")
	setStr(&cfg.Polymarket.ApiKey, "DRM_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "DRM_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "DRM_POLYMARKET_API_PASSPHRASE")

	// ── Kalshi ──
	setBool(&cfg.Kalshi.Enabled, "DRM_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.ApiKeyID, "DRM_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "DRM_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "DRM_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "DRM_KALSHI_WS_URL")

	// ── Limitless ──
	setBool(&cfg.Limitless.Enabled, "DRM_LIMITLESS_ENABLED")
	setStr(&cfg.Limitless.BaseURL, "DRM_LIMITLESS_BASE_URL")
	setStr(&cfg.Limitless.WsURL, "DRM_LIMITLESS_WS_URL")
	setInt64(&cfg.Limitless.ChainID, "DRM_LIMITLESS_CHAIN_ID")
	setStr(&cfg.Limitless.Exchange, "DRM_LIMITLESS_EXCHANGE")

	// ── Opinion ──
	setBool(&cfg.Opinion.Enabled, "DRM_OPINION_ENABLED")
	setStr(&cfg.Opinion.BaseURL, "DRM_OPINION_BASE_URL")
	setStr(&cfg.Opinion.ApiKey, "DRM_OPINION_API_KEY")
	setStr(&cfg.Opinion.MultiSigAddress, "DRM_OPINION_MULTISIG_ADDRESS")
	setInt64(&cfg.Opinion.ChainID, "DRM_OPINION_CHAIN_ID")
	setStr(&cfg.Opinion.Exchange, "DRM_OPINION_EXCHANGE")

	// ── Predict.fun ──
	setBool(&cfg.PredictFun.Enabled, "DRM_PREDICTFUN_ENABLED")
	setStr(&cfg.PredictFun.BaseURL, "DRM_PREDICTFUN_BASE_URL")
	setStr(&cfg.PredictFun.ApiKey, "DRM_PREDICTFUN_API_KEY")
	setInt64(&cfg.PredictFun.ChainID, "DRM_PREDICTFUN_CHAIN_ID")
	setStr(&cfg.PredictFun.Exchange, "DRM_PREDICTFUN_EXCHANGE")

	// ── Rate limiting / retry / stream ──
	setFloat64(&cfg.RateLimit.PublicRead.Capacity, "DRM_RATE_LIMIT_PUBLIC_READ_CAPACITY")
	setFloat64(&cfg.RateLimit.PublicRead.RefillPerSec, "DRM_RATE_LIMIT_PUBLIC_READ_REFILL_PER_SEC")
	setFloat64(&cfg.RateLimit.AuthRead.Capacity, "DRM_RATE_LIMIT_AUTH_READ_CAPACITY")
	setFloat64(&cfg.RateLimit.AuthRead.RefillPerSec, "DRM_RATE_LIMIT_AUTH_READ_REFILL_PER_SEC")
	setFloat64(&cfg.RateLimit.OrderWrite.Capacity, "DRM_RATE_LIMIT_ORDER_WRITE_CAPACITY")
	setFloat64(&cfg.RateLimit.OrderWrite.RefillPerSec, "DRM_RATE_LIMIT_ORDER_WRITE_REFILL_PER_SEC")
	setInt(&cfg.Retry.MaxAttempts, "DRM_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseBackoff, "DRM_RETRY_BASE_BACKOFF")
	setDuration(&cfg.Retry.MaxBackoff, "DRM_RETRY_MAX_BACKOFF")
	setDuration(&cfg.Stream.BaseBackoff, "DRM_STREAM_BASE_BACKOFF")
	setDuration(&cfg.Stream.MaxBackoff, "DRM_STREAM_MAX_BACKOFF")
	setDuration(&cfg.Stream.BackoffCeiling, "DRM_STREAM_BACKOFF_CEILING")
	setInt(&cfg.Stream.Buffer, "DRM_STREAM_BUFFER")
	setDuration(&cfg.Tracker.PollInterval, "DRM_TRACKER_POLL_INTERVAL")

	// ── Trade ──
	setStr(&cfg.Trade.Venue, "DRM_TRADE_VENUE")
	setStr(&cfg.Trade.MarketID, "DRM_TRADE_MARKET_ID")
	setStr(&cfg.Trade.TokenID, "DRM_TRADE_TOKEN_ID")
	setStr(&cfg.Trade.Side, "DRM_TRADE_SIDE")
	setFloat64(&cfg.Trade.Price, "DRM_TRADE_PRICE")
	setFloat64(&cfg.Trade.Size, "DRM_TRADE_SIZE")

	// ── Watch ──
	setStr(&cfg.Watch.Venue, "DRM_WATCH_VENUE")
	setStrSlice(&cfg.Watch.Assets, "DRM_WATCH_ASSETS")
	setInt(&cfg.Watch.MaxAssets, "DRM_WATCH_MAX_ASSETS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DRM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DRM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DRM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DRM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DRM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DRM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DRM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DRM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DRM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DRM_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DRM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DRM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DRM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DRM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DRM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DRM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DRM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DRM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DRM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DRM_S3_REGION")
	setStr(&cfg.S3.Bucket, "DRM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DRM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DRM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DRM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DRM_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "DRM_MODE")
	setStr(&cfg.LogLevel, "DRM_LOG_LEVEL")
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

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
