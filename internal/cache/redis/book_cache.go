package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each asset's orderbook.
//
// Key schema:
//
//	book:{assetID}:bids     - sorted set of bid prices (score = price)
//	book:{assetID}:asks     - sorted set of ask prices (score = price)
//	book:{assetID}:bid:size - hash mapping price -> size for bids
//	book:{assetID}:ask:size - hash mapping price -> size for asks
//	book:{assetID}:meta     - hash with "market", "seq" and "ts" fields
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(assetID string) string    { return "book:" + assetID + ":bids" }
func bookAsksKey(assetID string) string    { return "book:" + assetID + ":asks" }
func bookBidSizeKey(assetID string) string { return "book:" + assetID + ":bid:size" }
func bookAskSizeKey(assetID string) string { return "book:" + assetID + ":ask:size" }
func bookMetaKey(assetID string) string    { return "book:" + assetID + ":meta" }

// SetSnapshot atomically replaces the cached orderbook for book's asset. It
// clears existing data and repopulates both sorted sets, both size hashes,
// and the metadata hash in a single transaction.
func (bc *BookCache) SetSnapshot(ctx context.Context, book domain.Orderbook) error {
	bidsKey := bookBidsKey(book.AssetID)
	asksKey := bookAsksKey(book.AssetID)
	bidSizeKey := bookBidSizeKey(book.AssetID)
	askSizeKey := bookAskSizeKey(book.AssetID)
	metaKey := bookMetaKey(book.AssetID)

	pipe := bc.rdb.TxPipeline()

	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, lvl := range book.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, sizeStr)
	}

	for _, lvl := range book.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, sizeStr)
	}

	pipe.HSet(ctx, metaKey,
		"market", book.MarketID,
		"seq", strconv.FormatUint(book.Seq, 10),
		"ts", strconv.FormatInt(book.Timestamp.UnixNano(), 10),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", book.AssetID, err)
	}
	return nil
}

// GetSnapshot reconstructs a full Orderbook from Redis. It returns
// domain.ErrNotFound if no snapshot data exists for the asset.
func (bc *BookCache) GetSnapshot(ctx context.Context, assetID string) (domain.Orderbook, error) {
	pipe := bc.rdb.Pipeline()

	// Bids descending, asks ascending: best level first on both sides.
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(assetID), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(assetID), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(assetID))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(assetID))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(assetID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.Orderbook{}, fmt.Errorf("redis: get book snapshot %s: %w", assetID, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.Orderbook{}, domain.ErrNotFound
	}

	book := domain.Orderbook{
		AssetID:  assetID,
		MarketID: metaVals["market"],
	}
	if seqStr, ok := metaVals["seq"]; ok {
		book.Seq, _ = strconv.ParseUint(seqStr, 10, 64)
	}
	if tsStr, ok := metaVals["ts"]; ok {
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err == nil {
			book.Timestamp = time.Unix(0, tsNano)
		}
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	book.Bids = levelsFromZ(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	book.Asks = levelsFromZ(asksZ, askSizes)

	return book, nil
}

func levelsFromZ(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size := 0.0
		if sizeStr, exists := sizes[priceStr]; exists {
			size, _ = strconv.ParseFloat(sizeStr, 64)
		}
		levels = append(levels, domain.PriceLevel{
			Price: z.Score,
			Size:  size,
		})
	}
	return levels
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
