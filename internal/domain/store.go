package domain

import (
	"context"
	"time"
)

// OrderJournal persists order lifecycle history for audit and recovery.
// Implemented by store/postgres.
type OrderJournal interface {
	Record(ctx context.Context, o Order) error
	RecordWarning(ctx context.Context, orderID, message string, at time.Time) error
	Get(ctx context.Context, clientID string) (Order, error)
	ListActive(ctx context.Context, venue string) ([]Order, error)
}

// TradeJournal persists confirmed fills.
type TradeJournal interface {
	Record(ctx context.Context, t Trade) error
	ListByOrder(ctx context.Context, orderID string) ([]Trade, error)
}

// BookCache holds the latest normalized orderbook per asset for out-of-process
// consumers. Implemented by cache/redis.
type BookCache interface {
	SetSnapshot(ctx context.Context, book Orderbook) error
	GetSnapshot(ctx context.Context, assetID string) (Orderbook, error)
}

// SignalBus is a lightweight pub/sub surface used by record mode to fan
// normalized updates out to external consumers. Implemented by cache/redis.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// SnapshotArchiver writes periodic orderbook snapshots to long-term storage.
// Implemented by blob/s3.
type SnapshotArchiver interface {
	Archive(ctx context.Context, book Orderbook) error
}
