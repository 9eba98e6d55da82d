package s3blob

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

func TestSnapshotPath(t *testing.T) {
	ts := time.Date(2026, 8, 30, 14, 5, 9, 123456789, time.UTC)
	assert.Equal(t, "snapshots/tok-1/2026-08-30/140509.123456789.json", snapshotPath("tok-1", ts))

	// Non-UTC timestamps normalize to UTC day buckets.
	loc := time.FixedZone("UTC+9", 9*3600)
	late := time.Date(2026, 8, 31, 7, 0, 0, 0, loc) // 22:00 UTC the day before
	assert.Equal(t, "snapshots/tok-1/2026-08-30/220000.000000000.json", snapshotPath("tok-1", late))
}

func TestDayPrefix(t *testing.T) {
	day := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "snapshots/tok-1/2026-08-30/", dayPrefix("tok-1", day))
}

func TestArchivedBookShape(t *testing.T) {
	book := domain.Orderbook{
		MarketID:  "0xcond",
		AssetID:   "tok-1",
		Bids:      []domain.PriceLevel{{Price: 0.52, Size: 100}},
		Asks:      []domain.PriceLevel{{Price: 0.54, Size: 80}},
		Seq:       7,
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	buf, err := json.Marshal(toArchived(book))
	require.NoError(t, err)

	// The archive format is pinned to snake_case keys independent of the
	// domain struct.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf, &raw))
	assert.Contains(t, raw, "market_id")
	assert.Contains(t, raw, "asset_id")
	assert.Contains(t, raw, "bids")
	assert.Equal(t, float64(7), raw["seq"])

	var back archivedBook
	require.NoError(t, json.Unmarshal(buf, &back))
	assert.Equal(t, book.AssetID, back.AssetID)
	require.Len(t, back.Bids, 1)
	assert.Equal(t, 0.52, back.Bids[0].Price)
	assert.Equal(t, book.Timestamp, back.Timestamp)
}
