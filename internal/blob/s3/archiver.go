package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// SnapshotArchiver implements domain.SnapshotArchiver by serializing each
// orderbook to JSON and uploading it under a per-asset, per-day key:
//
//	snapshots/{assetID}/{2006-01-02}/{150405.000000000}.json
//
// CompactDay later folds one day's individual snapshots into a single JSONL
// object and removes them.
type SnapshotArchiver struct {
	writer *Writer
	reader *Reader
}

// NewSnapshotArchiver creates a SnapshotArchiver backed by the given client.
func NewSnapshotArchiver(c *Client) *SnapshotArchiver {
	return &SnapshotArchiver{
		writer: NewWriter(c),
		reader: NewReader(c),
	}
}

// archivedBook is the stored snapshot shape. The domain type serializes with
// exported field names; pinning the JSON keys here keeps the archive stable
// if the domain struct changes.
type archivedBook struct {
	MarketID  string          `json:"market_id"`
	AssetID   string          `json:"asset_id"`
	Bids      []archivedLevel `json:"bids"`
	Asks      []archivedLevel `json:"asks"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type archivedLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func toArchived(book domain.Orderbook) archivedBook {
	out := archivedBook{
		MarketID:  book.MarketID,
		AssetID:   book.AssetID,
		Seq:       book.Seq,
		Timestamp: book.Timestamp.UTC(),
		Bids:      make([]archivedLevel, len(book.Bids)),
		Asks:      make([]archivedLevel, len(book.Asks)),
	}
	for i, lvl := range book.Bids {
		out.Bids[i] = archivedLevel{Price: lvl.Price, Size: lvl.Size}
	}
	for i, lvl := range book.Asks {
		out.Asks[i] = archivedLevel{Price: lvl.Price, Size: lvl.Size}
	}
	return out
}

// Archive uploads one orderbook snapshot. The object key is derived from the
// asset ID and the snapshot timestamp, so snapshots of the same asset sort
// chronologically under their day prefix.
func (a *SnapshotArchiver) Archive(ctx context.Context, book domain.Orderbook) error {
	if book.AssetID == "" {
		return fmt.Errorf("s3blob: archive snapshot: %w: empty asset id", domain.ErrValidation)
	}

	ts := book.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	buf, err := json.Marshal(toArchived(book))
	if err != nil {
		return fmt.Errorf("s3blob: archive snapshot %s: %w", book.AssetID, err)
	}

	path := snapshotPath(book.AssetID, ts)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive snapshot %s: %w", book.AssetID, err)
	}
	return nil
}

// CompactDay folds all individual snapshots for an asset on the given day
// into a single JSONL object at snapshots/{assetID}/{day}.jsonl, then
// deletes the per-snapshot objects. It returns the number of snapshots
// compacted. Compacting a day with no snapshots is a no-op.
func (a *SnapshotArchiver) CompactDay(ctx context.Context, assetID string, day time.Time) (int, error) {
	prefix := dayPrefix(assetID, day)

	keys, err := a.reader.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("s3blob: compact %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, key := range keys {
		body, err := a.reader.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("s3blob: compact %s: %w", prefix, err)
		}
		if _, err := buf.ReadFrom(body); err != nil {
			_ = body.Close()
			return 0, fmt.Errorf("s3blob: compact read %s: %w", key, err)
		}
		_ = body.Close()
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	dayKey := strings.TrimSuffix(prefix, "/") + ".jsonl"
	if err := a.writer.PutMultipart(ctx, dayKey, &buf, minPartSize); err != nil {
		return 0, fmt.Errorf("s3blob: compact upload %s: %w", dayKey, err)
	}

	for _, key := range keys {
		if err := a.reader.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("s3blob: compact cleanup %s: %w", key, err)
		}
	}

	return len(keys), nil
}

func snapshotPath(assetID string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("snapshots/%s/%s/%s.json",
		assetID, ts.Format("2006-01-02"), ts.Format("150405.000000000"))
}

func dayPrefix(assetID string, day time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s/", assetID, day.UTC().Format("2006-01-02"))
}

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*SnapshotArchiver)(nil)
