package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
	"github.com/gtg7784/dr-manhattan-go/internal/tracker"
)

const compactInterval = 6 * time.Hour

// MarketsMode fetches active markets from every enabled venue once, logs a
// summary, and exits. It is the smoke test for venue connectivity.
func (a *App) MarketsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting markets mode")

	if len(deps.Venues) == 0 {
		return errors.New("markets mode: no venues enabled")
	}

	var failed int
	for _, venueID := range sortedVenueIDs(deps.Venues) {
		ex := deps.Venues[venueID]
		markets, err := ex.FetchMarkets(ctx, domain.FetchMarketsParams{Limit: 25, ActiveOnly: true})
		if err != nil {
			failed++
			a.logger.ErrorContext(ctx, "markets mode: fetch failed",
				slog.String("venue", venueID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "markets fetched",
			slog.String("venue", venueID),
			slog.Int("count", len(markets)),
		)
		for _, m := range markets {
			a.logger.DebugContext(ctx, "market",
				slog.String("venue", venueID),
				slog.String("id", m.ID),
				slog.String("question", m.Question),
				slog.String("status", string(m.Status)),
				slog.Float64("volume", m.Volume),
			)
		}
	}

	if failed == len(deps.Venues) {
		return errors.New("markets mode: all venues failed")
	}
	return nil
}

// WatchMode subscribes to the configured assets on the watch venue and logs
// every normalized update until the context is cancelled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.String("venue", a.cfg.Watch.Venue),
	)
	return a.runWatch(ctx, deps, nil)
}

// RecordMode is WatchMode plus persistence: book snapshots go to the Redis
// cache and S3 archive, updates are published on the signal bus, and tape
// trades are journaled to Postgres. Backends that are disabled in config are
// skipped per update.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode",
		slog.String("venue", a.cfg.Watch.Venue),
		slog.Bool("books", deps.Books != nil),
		slog.Bool("bus", deps.Bus != nil),
		slog.Bool("trades", deps.Trades != nil),
		slog.Bool("archive", deps.Archive != nil),
	)

	if deps.Books == nil && deps.Bus == nil && deps.Trades == nil && deps.Archive == nil {
		return errors.New("record mode: no storage backend enabled (postgres, redis, or s3)")
	}

	return a.runWatch(ctx, deps, a.recordUpdate(deps))
}

// runWatch resolves the watch target, subscribes to each asset, and consumes
// updates until the context is cancelled. sink is optional; when non-nil it
// receives every update after logging.
func (a *App) runWatch(ctx context.Context, deps *Dependencies, sink func(ctx context.Context, u domain.CanonicalUpdate)) error {
	venueID := a.cfg.Watch.Venue
	streamer, ok := deps.Streamers[venueID]
	if !ok {
		return fmt.Errorf("watch: venue %q is not enabled or has no websocket", venueID)
	}

	assets := a.cfg.Watch.Assets
	if len(assets) == 0 {
		ex := deps.Venues[venueID]
		discovered, err := a.discoverAssets(ctx, ex, a.cfg.Watch.MaxAssets)
		if err != nil {
			return fmt.Errorf("watch: discover assets: %w", err)
		}
		assets = discovered
	}
	if len(assets) == 0 {
		return errors.New("watch: no assets to subscribe")
	}

	a.logger.InfoContext(ctx, "subscribing",
		slog.String("venue", venueID),
		slog.Int("assets", len(assets)),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, assetID := range assets {
		sub := streamer.Subscribe(assetID)
		g.Go(func() error {
			defer sub.Close()
			return a.consume(ctx, assetID, sub, sink)
		})
	}

	if sink != nil && deps.Archive != nil {
		g.Go(func() error {
			return a.compactLoop(ctx, deps, assets)
		})
	}

	return g.Wait()
}

// consume drains one subscription, logging each update and forwarding it to
// the sink. It returns when the subscription fails terminally or the context
// is cancelled.
func (a *App) consume(ctx context.Context, assetID string, sub *stream.Subscription, sink func(ctx context.Context, u domain.CanonicalUpdate)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("subscription %s: %w", assetID, err)
				}
				return nil
			}
			switch u.Kind {
			case domain.UpdateKindBook, domain.UpdateKindBookDelta:
				a.logger.DebugContext(ctx, "book update",
					slog.String("asset", assetID),
					slog.String("kind", string(u.Kind)),
					slog.Float64("best_bid", u.Book.BestBid()),
					slog.Float64("best_ask", u.Book.BestAsk()),
					slog.Uint64("seq", u.Book.Seq),
				)
			case domain.UpdateKindTrade:
				a.logger.DebugContext(ctx, "trade",
					slog.String("asset", assetID),
					slog.String("side", string(u.Trade.Side)),
					slog.Float64("price", u.Trade.Price),
					slog.Float64("size", u.Trade.Size),
				)
			}
			if sink != nil {
				sink(ctx, u)
			}
		}
	}
}

// bookEvent is the JSON payload published on the signal bus for book updates.
type bookEvent struct {
	AssetID   string    `json:"asset_id"`
	MarketID  string    `json:"market_id"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	Seq       uint64    `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// tradeEvent is the JSON payload published on the signal bus for tape trades.
type tradeEvent struct {
	MarketID  string    `json:"market_id"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// recordUpdate returns the record mode sink. Persistence failures are logged
// and dropped rather than tearing down the stream; the next snapshot
// supersedes anything missed.
func (a *App) recordUpdate(deps *Dependencies) func(ctx context.Context, u domain.CanonicalUpdate) {
	return func(ctx context.Context, u domain.CanonicalUpdate) {
		switch u.Kind {
		case domain.UpdateKindBook, domain.UpdateKindBookDelta:
			if deps.Books != nil {
				if err := deps.Books.SetSnapshot(ctx, u.Book); err != nil {
					a.logger.WarnContext(ctx, "record: cache snapshot failed",
						slog.String("asset", u.Book.AssetID),
						slog.String("error", err.Error()),
					)
				}
			}
			if deps.Bus != nil {
				payload, err := json.Marshal(bookEvent{
					AssetID:   u.Book.AssetID,
					MarketID:  u.Book.MarketID,
					BestBid:   u.Book.BestBid(),
					BestAsk:   u.Book.BestAsk(),
					Seq:       u.Book.Seq,
					Timestamp: u.Book.Timestamp,
				})
				if err == nil {
					if err := deps.Bus.Publish(ctx, "books:"+u.Book.AssetID, payload); err != nil {
						a.logger.WarnContext(ctx, "record: publish failed",
							slog.String("asset", u.Book.AssetID),
							slog.String("error", err.Error()),
						)
					}
				}
			}
			// Full snapshots go to long-term storage; per-delta archival
			// would multiply object count without adding information.
			if u.Kind == domain.UpdateKindBook && deps.Archive != nil {
				if err := deps.Archive.Archive(ctx, u.Book); err != nil {
					a.logger.WarnContext(ctx, "record: archive failed",
						slog.String("asset", u.Book.AssetID),
						slog.String("error", err.Error()),
					)
				}
			}
		case domain.UpdateKindTrade:
			// Tape trades without a venue ID cannot be deduplicated.
			if deps.Trades != nil && u.Trade.ID != "" {
				if err := deps.Trades.Record(ctx, u.Trade); err != nil {
					a.logger.WarnContext(ctx, "record: trade journal failed",
						slog.String("trade_id", u.Trade.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			if deps.Bus != nil {
				payload, err := json.Marshal(tradeEvent{
					MarketID:  u.Trade.MarketID,
					Side:      string(u.Trade.Side),
					Price:     u.Trade.Price,
					Size:      u.Trade.Size,
					Timestamp: u.Trade.Timestamp,
				})
				if err == nil {
					if err := deps.Bus.Publish(ctx, "trades:"+u.Trade.MarketID, payload); err != nil {
						a.logger.WarnContext(ctx, "record: publish failed",
							slog.String("market", u.Trade.MarketID),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		}
	}
}

// compactLoop periodically folds the previous day's per-snapshot objects into
// one day file per asset. CompactDay is idempotent, so a crash between runs
// just means the next run redoes the work.
func (a *App) compactLoop(ctx context.Context, deps *Dependencies, assets []string) error {
	ticker := time.NewTicker(compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			day := time.Now().UTC().AddDate(0, 0, -1)
			for _, assetID := range assets {
				n, err := deps.Archive.CompactDay(ctx, assetID, day)
				if err != nil {
					a.logger.WarnContext(ctx, "compact: failed",
						slog.String("asset", assetID),
						slog.String("error", err.Error()),
					)
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "compacted snapshots",
						slog.String("asset", assetID),
						slog.Time("day", day),
						slog.Int("objects", n),
					)
				}
			}
		}
	}
}

// TradeMode runs the order tracker: it seeds open orders from the journal,
// reconciles stream and poll observations, and surfaces conflict warnings.
// Order placement itself goes through the venue adapters held in deps; the
// mode keeps the local view consistent while they do.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("venues", len(deps.Venues)),
	)

	if len(deps.Venues) == 0 {
		return errors.New("trade mode: no venues enabled")
	}

	tr := tracker.New(tracker.Config{
		Journal:      deps.Journal,
		Poll:         func(ctx context.Context) ([]domain.Order, error) { return a.pollOpenOrders(ctx, deps) },
		PollInterval: a.cfg.Tracker.PollInterval.Duration,
		Logger:       a.logger,
	})

	// Recover orders that were live when the previous process exited.
	if deps.Journal != nil {
		open, err := deps.Journal.ListActive(ctx, "")
		if err != nil {
			a.logger.WarnContext(ctx, "trade mode: journal recovery failed",
				slog.String("error", err.Error()),
			)
		} else {
			for _, o := range open {
				if err := tr.Track(ctx, o); err != nil {
					return fmt.Errorf("trade mode: seed tracker: %w", err)
				}
			}
			a.logger.InfoContext(ctx, "recovered open orders", slog.Int("count", len(open)))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tr.Run(ctx)
	})

	// Place the configured order and mirror its fills from the market feed.
	if a.cfg.Trade.Size > 0 {
		g.Go(func() error {
			placed, err := a.placeConfiguredOrder(ctx, deps, tr)
			if err != nil {
				return err
			}
			streamer, ok := deps.Streamers[a.cfg.Trade.Venue]
			if !ok {
				return nil
			}
			sub := streamer.Subscribe(a.cfg.Trade.TokenID)
			defer sub.Close()
			return a.forwardFills(ctx, sub, tr, placed)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case w, ok := <-tr.Warnings():
				if !ok {
					return nil
				}
				a.logger.WarnContext(ctx, "order state conflict",
					slog.String("order_id", w.OrderID),
					slog.String("kept", string(w.Kept)),
					slog.String("ignored", string(w.Ignored)),
					slog.String("source", string(w.Source)),
				)
			}
		}
	})

	return g.Wait()
}

// placeConfiguredOrder submits the order described by the trade config and
// registers the venue ack with the tracker.
func (a *App) placeConfiguredOrder(ctx context.Context, deps *Dependencies, tr *tracker.Tracker) (domain.Order, error) {
	cfg := a.cfg.Trade
	ex, ok := deps.Venues[cfg.Venue]
	if !ok {
		return domain.Order{}, fmt.Errorf("trade mode: venue %q is not enabled", cfg.Venue)
	}

	placed, err := ex.CreateOrder(ctx, domain.Order{
		ClientID: domain.NewClientID(),
		Venue:    cfg.Venue,
		MarketID: cfg.MarketID,
		TokenID:  cfg.TokenID,
		Side:     domain.OrderSide(cfg.Side),
		Type:     domain.OrderTypeGTC,
		Price:    cfg.Price,
		Size:     cfg.Size,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("trade mode: create order: %w", err)
	}
	if placed.Size == 0 {
		placed.Size = cfg.Size
	}

	a.logger.InfoContext(ctx, "order placed",
		slog.String("venue", cfg.Venue),
		slog.String("order_id", placed.ID),
		slog.String("side", cfg.Side),
		slog.Float64("price", cfg.Price),
		slog.Float64("size", cfg.Size),
	)

	if err := tr.Track(ctx, placed); err != nil {
		return domain.Order{}, fmt.Errorf("trade mode: track order: %w", err)
	}
	return placed, nil
}

// forwardFills mirrors the market feed into the tracker: tape trades carrying
// the placed order's venue ID become stream fill observations. Fill size
// accumulates here since each print reports only its own size.
func (a *App) forwardFills(ctx context.Context, sub *stream.Subscription, tr *tracker.Tracker, order domain.Order) error {
	// Without a venue ID, fills cannot be attributed.
	if order.ID == "" {
		return nil
	}

	var filled float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("trade mode: fill stream: %w", err)
				}
				return nil
			}
			if u.Kind != domain.UpdateKindTrade || u.Trade.OrderID != order.ID {
				continue
			}
			filled += u.Trade.Size
			obs := tracker.Observation{
				Source: tracker.SourceStream,
				Order: domain.Order{
					ID:     order.ID,
					Venue:  order.Venue,
					Filled: filled,
				},
			}
			if err := tr.Observe(ctx, obs); err != nil {
				return err
			}
		}
	}
}

// pollOpenOrders aggregates open orders across every enabled venue. A single
// venue failing degrades to a partial poll rather than aborting the cycle.
func (a *App) pollOpenOrders(ctx context.Context, deps *Dependencies) ([]domain.Order, error) {
	var out []domain.Order
	for _, venueID := range sortedVenueIDs(deps.Venues) {
		orders, err := deps.Venues[venueID].FetchOpenOrders(ctx, domain.FetchOrdersParams{})
		if err != nil {
			a.logger.WarnContext(ctx, "poll: fetch open orders failed",
				slog.String("venue", venueID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, orders...)
	}
	return out, nil
}

// discoverAssets lists active markets and collects token IDs for
// subscription, up to maxAssets.
func (a *App) discoverAssets(ctx context.Context, ex domain.Exchange, maxAssets int) ([]string, error) {
	markets, err := ex.FetchMarkets(ctx, domain.FetchMarketsParams{Limit: 100, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range markets {
		for _, tok := range m.Tokens {
			if tok.TokenID == "" || seen[tok.TokenID] {
				continue
			}
			seen[tok.TokenID] = true
			ids = append(ids, tok.TokenID)
			if len(ids) >= maxAssets {
				return ids, nil
			}
		}
	}
	return ids, nil
}

func sortedVenueIDs(venues map[string]domain.Exchange) []string {
	ids := make([]string, 0, len(venues))
	for id := range venues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
