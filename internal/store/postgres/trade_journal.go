package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a new TradeJournal backed by the given pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

// Record inserts a confirmed fill. Duplicate fills (same venue and venue
// trade ID) are silently skipped via ON CONFLICT DO NOTHING, so replayed
// stream frames do not double-count.
func (j *TradeJournal) Record(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			venue_trade_id, venue, market_id, outcome, order_id,
			side, price, size, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		) ON CONFLICT (venue, venue_trade_id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		t.ID, t.Venue, t.MarketID, t.Outcome, t.OrderID,
		string(t.Side), t.Price, t.Size, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.ID, err)
	}
	return nil
}

const tradeSelectCols = `venue_trade_id, venue, market_id, outcome, order_id,
	side, price, size, executed_at`

// ListByOrder returns all fills recorded against a venue order ID, oldest
// first.
func (j *TradeJournal) ListByOrder(ctx context.Context, orderID string) ([]domain.Trade, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE order_id = $1 ORDER BY executed_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by order: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.Venue, &t.MarketID, &t.Outcome, &t.OrderID,
			&side, &t.Price, &t.Size, &t.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.OrderSide(side)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades by order rows: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeJournal)(nil)
