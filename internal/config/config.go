// Package config defines the top-level configuration for the trading core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DRM_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Limitless  LimitlessConfig  `toml:"limitless"`
	Opinion    OpinionConfig    `toml:"opinion"`
	PredictFun PredictFunConfig `toml:"predictfun"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Retry      RetryConfig      `toml:"retry"`
	Stream     StreamConfig     `toml:"stream"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Trade      TradeConfig      `toml:"trade"`
	Watch      WatchConfig      `toml:"watch"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the EVM account credentials shared by the venues that
// sign with an account key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	Enabled   bool   `toml:"enabled"`
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int64  `toml:"chain_id"`
	// Exchange is the CLOB exchange contract the order domain binds to.
	Exchange string `toml:"exchange"`
	// Derived HMAC credentials; left empty they are derived from the key.
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	Enabled           bool   `toml:"enabled"`
	ApiKeyID          string `toml:"api_key_id"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
}

// LimitlessConfig holds Limitless exchange endpoints and chain parameters.
type LimitlessConfig struct {
	Enabled  bool   `toml:"enabled"`
	BaseURL  string `toml:"base_url"`
	WsURL    string `toml:"ws_url"`
	ChainID  int64  `toml:"chain_id"`
	Exchange string `toml:"exchange"`
}

// OpinionConfig holds Opinion API credentials and chain parameters.
type OpinionConfig struct {
	Enabled         bool   `toml:"enabled"`
	BaseURL         string `toml:"base_url"`
	ApiKey          string `toml:"api_key"`
	MultiSigAddress string `toml:"multisig_address"`
	ChainID         int64  `toml:"chain_id"`
	Exchange        string `toml:"exchange"`
}

// PredictFunConfig holds Predict.fun API credentials and chain parameters.
type PredictFunConfig struct {
	Enabled  bool   `toml:"enabled"`
	BaseURL  string `toml:"base_url"`
	ApiKey   string `toml:"api_key"`
	ChainID  int64  `toml:"chain_id"`
	Exchange string `toml:"exchange"`
}

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity     float64 `toml:"capacity"`
	RefillPerSec float64 `toml:"refill_per_sec"`
}

// RateLimitConfig sizes the per-class token buckets applied to every venue.
type RateLimitConfig struct {
	PublicRead BucketConfig `toml:"public_read"`
	AuthRead   BucketConfig `toml:"auth_read"`
	OrderWrite BucketConfig `toml:"order_write"`
}

// RetryConfig bounds the dispatcher's retry schedule.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseBackoff duration `toml:"base_backoff"`
	MaxBackoff  duration `toml:"max_backoff"`
}

// StreamConfig bounds stream reconnection.
type StreamConfig struct {
	BaseBackoff    duration `toml:"base_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	BackoffCeiling duration `toml:"backoff_ceiling"`
	Buffer         int      `toml:"buffer"`
}

// TrackerConfig bounds order reconciliation.
type TrackerConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// TradeConfig describes the order trade mode places on startup. When Size is
// zero trade mode only reconciles orders already open on the venues.
type TradeConfig struct {
	Venue    string  `toml:"venue"`
	MarketID string  `toml:"market_id"`
	TokenID  string  `toml:"token_id"`
	Side     string  `toml:"side"` // "buy" or "sell"
	Price    float64 `toml:"price"`
	Size     float64 `toml:"size"`
}

// WatchConfig selects what watch and record modes subscribe to. When Assets
// is empty the asset IDs are discovered from the venue's active markets.
type WatchConfig struct {
	Venue     string   `toml:"venue"`
	Assets    []string `toml:"assets"`
	MaxAssets int      `toml:"max_assets"`
}

// PostgresConfig holds PostgreSQL connection parameters for the order and
// trade journals.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters for the book cache and
// signal bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			Enabled:   true,
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Limitless: LimitlessConfig{
			BaseURL: "https://api.limitless.exchange",
			WsURL:   "wss://ws.limitless.exchange",
			ChainID: 8453,
		},
		Opinion: OpinionConfig{
			BaseURL: "https://proapi.opinionlabs.xyz",
			ChainID: 56,
		},
		PredictFun: PredictFunConfig{
			BaseURL: "https://api.predict.fun",
			ChainID: 56,
		},
		RateLimit: RateLimitConfig{
			PublicRead: BucketConfig{Capacity: 20, RefillPerSec: 10},
			AuthRead:   BucketConfig{Capacity: 10, RefillPerSec: 5},
			OrderWrite: BucketConfig{Capacity: 5, RefillPerSec: 2},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: duration{250 * time.Millisecond},
			MaxBackoff:  duration{5 * time.Second},
		},
		Stream: StreamConfig{
			BaseBackoff:    duration{2 * time.Second},
			MaxBackoff:     duration{60 * time.Second},
			BackoffCeiling: duration{0},
			Buffer:         64,
		},
		Tracker: TrackerConfig{
			PollInterval: duration{30 * time.Second},
		},
		Trade: TradeConfig{
			Venue: "polymarket",
			Side:  "buy",
		},
		Watch: WatchConfig{
			Venue:     "polymarket",
			MaxAssets: 10,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "drm-data",
			ForcePathStyle: true,
		},
		Mode:     "markets",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"markets": true,
	"watch":   true,
	"record":  true,
	"trade":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: markets, watch, record, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required only when trading on an EVM venue.
	needsKey := c.Mode == "trade" && (c.Polymarket.Enabled || c.Limitless.Enabled || c.Opinion.Enabled || c.PredictFun.Enabled)
	if needsKey {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.Enabled {
		if c.Polymarket.ClobHost == "" {
			errs = append(errs, "polymarket: clob_host must not be empty")
		}
		if c.Polymarket.ChainID <= 0 {
			errs = append(errs, "polymarket: chain_id must be positive")
		}
	}

	if c.Kalshi.Enabled {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if c.Mode == "trade" && (c.Kalshi.ApiKeyID == "" || c.Kalshi.RsaPrivateKeyPath == "") {
			errs = append(errs, "kalshi: api_key_id and rsa_private_key_path are required for mode trade")
		}
	}

	if c.Limitless.Enabled && c.Limitless.BaseURL == "" {
		errs = append(errs, "limitless: base_url must not be empty")
	}

	if c.Opinion.Enabled {
		if c.Opinion.ApiKey == "" {
			errs = append(errs, "opinion: api_key must not be empty")
		}
		if c.Opinion.MultiSigAddress == "" {
			errs = append(errs, "opinion: multisig_address must not be empty")
		}
	}

	if c.PredictFun.Enabled {
		if c.PredictFun.BaseURL == "" {
			errs = append(errs, "predictfun: base_url must not be empty")
		}
		if c.Mode == "trade" && c.PredictFun.ApiKey == "" {
			errs = append(errs, "predictfun: api_key is required for mode trade")
		}
	}

	for _, b := range []struct {
		name string
		cfg  BucketConfig
	}{
		{"public_read", c.RateLimit.PublicRead},
		{"auth_read", c.RateLimit.AuthRead},
		{"order_write", c.RateLimit.OrderWrite},
	} {
		if b.cfg.Capacity <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.%s: capacity must be > 0", b.name))
		}
		if b.cfg.RefillPerSec <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.%s: refill_per_sec must be > 0", b.name))
		}
	}

	if c.Mode == "watch" || c.Mode == "record" {
		if c.Watch.Venue == "" {
			errs = append(errs, "watch: venue must not be empty for modes watch and record")
		}
		if c.Watch.MaxAssets < 1 && len(c.Watch.Assets) == 0 {
			errs = append(errs, "watch: max_assets must be >= 1 when assets is empty")
		}
	}

	if c.Mode == "trade" && c.Trade.Size > 0 {
		if c.Trade.Venue == "" {
			errs = append(errs, "trade: venue must not be empty when size is set")
		}
		if c.Trade.TokenID == "" {
			errs = append(errs, "trade: token_id must not be empty when size is set")
		}
		if c.Trade.Side != "buy" && c.Trade.Side != "sell" {
			errs = append(errs, fmt.Sprintf("trade: side must be buy or sell, got %q", c.Trade.Side))
		}
		if c.Trade.Price <= 0 || c.Trade.Price >= 1 {
			errs = append(errs, fmt.Sprintf("trade: price must be in (0,1), got %v", c.Trade.Price))
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.BaseBackoff.Duration <= 0 {
		errs = append(errs, "retry: base_backoff must be positive")
	}
	if c.Retry.MaxBackoff.Duration < c.Retry.BaseBackoff.Duration {
		errs = append(errs, "retry: max_backoff must not be below base_backoff")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
