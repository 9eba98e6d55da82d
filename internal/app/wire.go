package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/gtg7784/dr-manhattan-go/internal/blob/s3"
	"github.com/gtg7784/dr-manhattan-go/internal/cache/redis"
	"github.com/gtg7784/dr-manhattan-go/internal/config"
	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/ratelimit"
	"github.com/gtg7784/dr-manhattan-go/internal/store/postgres"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
	"github.com/gtg7784/dr-manhattan-go/internal/venue/kalshi"
	"github.com/gtg7784/dr-manhattan-go/internal/venue/limitless"
	"github.com/gtg7784/dr-manhattan-go/internal/venue/opinion"
	"github.com/gtg7784/dr-manhattan-go/internal/venue/polymarket"
	"github.com/gtg7784/dr-manhattan-go/internal/venue/predictfun"
)

// Streamer is implemented by venue clients that expose a market-data
// websocket. The argument is the venue's native asset identifier (token ID,
// ticker, or market slug).
type Streamer interface {
	Subscribe(assetID string) *stream.Subscription
}

// Dependencies bundles everything the application modes operate on. It is
// constructed by Wire and torn down by the returned cleanup function. The
// journal, cache, and archive fields are nil when the corresponding backend
// is disabled in the configuration.
type Dependencies struct {
	// Venues maps venue ID to its exchange adapter.
	Venues map[string]domain.Exchange
	// Streamers holds the subset of venues with a websocket feed.
	Streamers map[string]Streamer

	Journal domain.OrderJournal
	Trades  domain.TradeJournal
	Books   domain.BookCache
	Bus     domain.SignalBus
	Archive *s3blob.SnapshotArchiver
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

	deps := &Dependencies{
		Venues:    make(map[string]domain.Exchange),
		Streamers: make(map[string]Streamer),
	}

	// --- Wallet key (shared by the EVM venues) ---
	walletKey, err := loadWalletKey(cfg.Wallet)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}

	retry := dispatch.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff.Duration,
		MaxBackoff:  cfg.Retry.MaxBackoff.Duration,
	}
	tuning := stream.Tuning{
		BaseBackoff:    cfg.Stream.BaseBackoff.Duration,
		MaxBackoff:     cfg.Stream.MaxBackoff.Duration,
		BackoffCeiling: cfg.Stream.BackoffCeiling.Duration,
		Buffer:         cfg.Stream.Buffer,
	}

	// --- Venue adapters (each gets its own per-class token buckets) ---
	if cfg.Polymarket.Enabled {
		var signer *crypto.TypedDataSigner
		if walletKey != "" {
			signer, err = crypto.NewTypedDataSigner(walletKey, polymarket.OrderDomain(cfg.Polymarket.ChainID, cfg.Polymarket.Exchange))
			if err != nil {
				return nil, nil, fmt.Errorf("wire: polymarket signer: %w", err)
			}
		}
		var creds *crypto.DerivedCreds
		if cfg.Polymarket.ApiKey != "" {
			creds = &crypto.DerivedCreds{
				Key:        cfg.Polymarket.ApiKey,
				Secret:     cfg.Polymarket.ApiSecret,
				Passphrase: cfg.Polymarket.ApiPassphrase,
			}
		}
		pm := polymarket.New(polymarket.Config{
			GammaURL: cfg.Polymarket.GammaHost,
			ClobURL:  cfg.Polymarket.ClobHost,
			WSURL:    cfg.Polymarket.WsHost,
			Signer:   signer,
			Creds:    creds,
			Stream:   tuning,
			Retry:    retry,
			Limiter:  newLimiter(cfg.RateLimit),
			Logger:   logger,
		})
		deps.Venues[polymarket.VenueID] = pm
		deps.Streamers[polymarket.VenueID] = pm
		logger.Debug("wired venue",
			slog.String("venue", polymarket.VenueID),
			slog.String("auth_scheme", string(crypto.SchemeTypedDataOrder)))
	}

	if cfg.Kalshi.Enabled {
		var auth *crypto.RSAAuth
		if cfg.Kalshi.ApiKeyID != "" && cfg.Kalshi.RsaPrivateKeyPath != "" {
			auth, err = crypto.NewRSAAuthFromFile(cfg.Kalshi.ApiKeyID, cfg.Kalshi.RsaPrivateKeyPath)
			if err != nil {
				return nil, nil, fmt.Errorf("wire: kalshi auth: %w", err)
			}
		}
		kc := kalshi.New(kalshi.Config{
			BaseURL: cfg.Kalshi.BaseURL,
			WSURL:   cfg.Kalshi.WsURL,
			Auth:    auth,
			Stream:  tuning,
			Retry:   retry,
			Limiter: newLimiter(cfg.RateLimit),
			Logger:  logger,
		})
		deps.Venues[kalshi.VenueID] = kc
		deps.Streamers[kalshi.VenueID] = kc
		logger.Debug("wired venue",
			slog.String("venue", kalshi.VenueID),
			slog.String("auth_scheme", string(crypto.SchemeRSASignature)))
	}

	if cfg.Limitless.Enabled {
		lc, err := limitless.New(limitless.Config{
			BaseURL:    cfg.Limitless.BaseURL,
			WSURL:      cfg.Limitless.WsURL,
			PrivateKey: walletKey,
			Domain:     limitless.OrderDomain(cfg.Limitless.ChainID, cfg.Limitless.Exchange),
			Stream:     tuning,
			Retry:      retry,
			Limiter:    newLimiter(cfg.RateLimit),
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: limitless: %w", err)
		}
		deps.Venues[limitless.VenueID] = lc
		deps.Streamers[limitless.VenueID] = lc
		logger.Debug("wired venue",
			slog.String("venue", limitless.VenueID),
			slog.String("auth_scheme", string(crypto.SchemeMessageSignature)))
	}

	if cfg.Opinion.Enabled {
		oc, err := opinion.New(opinion.Config{
			BaseURL:         cfg.Opinion.BaseURL,
			APIKey:          cfg.Opinion.ApiKey,
			MultiSigAddress: cfg.Opinion.MultiSigAddress,
			PrivateKey:      walletKey,
			Domain:          opinion.OrderDomain(cfg.Opinion.ChainID, cfg.Opinion.Exchange),
			Retry:           retry,
			Limiter:         newLimiter(cfg.RateLimit),
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: opinion: %w", err)
		}
		deps.Venues[opinion.VenueID] = oc
		logger.Debug("wired venue",
			slog.String("venue", opinion.VenueID),
			slog.String("auth_scheme", string(crypto.SchemeAPIKeyMultiSig)))
	}

	if cfg.PredictFun.Enabled {
		pf, err := predictfun.New(predictfun.Config{
			BaseURL:    cfg.PredictFun.BaseURL,
			APIKey:     cfg.PredictFun.ApiKey,
			PrivateKey: walletKey,
			Domain:     predictfun.OrderDomain(cfg.PredictFun.ChainID, cfg.PredictFun.Exchange),
			Retry:      retry,
			Limiter:    newLimiter(cfg.RateLimit),
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: predictfun: %w", err)
		}
		deps.Venues[predictfun.VenueID] = pf
		logger.Debug("wired venue",
			slog.String("venue", predictfun.VenueID),
			slog.String("auth_scheme", string(crypto.SchemeMessageSignature)))
	}

	// --- PostgreSQL order and trade journals ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewOrderJournal(pool)
		deps.Trades = postgres.NewTradeJournal(pool)
	}

	// --- Redis book cache and signal bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Books = redis.NewBookCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 snapshot archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewSnapshotArchiver(s3Client)
	}

	return deps, cleanup, nil
}

// loadWalletKey resolves the EVM account key, preferring the encrypted
// keystore when both sources are configured. Returns "" when no key is set.
func loadWalletKey(cfg config.WalletConfig) (string, error) {
	if cfg.PrivateKey == "" && cfg.EncryptedKeyPath == "" {
		return "", nil
	}
	return crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
}

// newLimiter builds one venue's per-class token buckets. Every venue gets its
// own limiter so a burst against one venue never starves another.
func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	return ratelimit.NewLimiter(map[domain.EndpointClass]ratelimit.BucketConfig{
		domain.ClassPublicRead: {Capacity: cfg.PublicRead.Capacity, RefillPerSec: cfg.PublicRead.RefillPerSec},
		domain.ClassAuthRead:   {Capacity: cfg.AuthRead.Capacity, RefillPerSec: cfg.AuthRead.RefillPerSec},
		domain.ClassOrderWrite: {Capacity: cfg.OrderWrite.Capacity, RefillPerSec: cfg.OrderWrite.RefillPerSec},
	})
}
