package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// OrderJournal implements domain.OrderJournal using PostgreSQL. Orders are
// keyed by client ID, which is assigned before submission and stable across
// the order's lifetime; the venue ID is filled in once the venue acks.
type OrderJournal struct {
	pool *pgxpool.Pool
}

// NewOrderJournal creates a new OrderJournal backed by the given pool.
func NewOrderJournal(pool *pgxpool.Pool) *OrderJournal {
	return &OrderJournal{pool: pool}
}

// Record upserts the current state of an order. Repeated calls with the same
// client ID overwrite the mutable columns, so the row always holds the most
// recent reconciled state.
func (j *OrderJournal) Record(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			client_id, venue_order_id, venue, market_id, outcome, token_id,
			side, order_type, price, size, filled, status, signature,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15
		)
		ON CONFLICT (client_id) DO UPDATE SET
			venue_order_id = EXCLUDED.venue_order_id,
			filled = EXCLUDED.filled,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := j.pool.Exec(ctx, query,
		o.ClientID, o.ID, o.Venue, o.MarketID, o.Outcome, o.TokenID,
		string(o.Side), string(o.Type), o.Price, o.Size, o.Filled,
		string(o.Status), o.Signature,
		o.CreatedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", o.ClientID, err)
	}
	return nil
}

// RecordWarning appends a reconciliation warning for an order. Warnings keep
// their own table so the order row itself stays a clean last-known state.
func (j *OrderJournal) RecordWarning(ctx context.Context, orderID, message string, at time.Time) error {
	const query = `INSERT INTO order_warnings (order_id, message, observed_at) VALUES ($1, $2, $3)`
	if _, err := j.pool.Exec(ctx, query, orderID, message, at); err != nil {
		return fmt.Errorf("postgres: record warning for %s: %w", orderID, err)
	}
	return nil
}

const orderSelectCols = `client_id, venue_order_id, venue, market_id, outcome, token_id,
	side, order_type, price, size, filled, status, signature,
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string

	err := scanner.Scan(
		&o.ClientID, &o.ID, &o.Venue, &o.MarketID, &o.Outcome, &o.TokenID,
		&side, &orderType, &o.Price, &o.Size, &o.Filled, &status, &o.Signature,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Get retrieves a single order by its client ID.
func (j *OrderJournal) Get(ctx context.Context, clientID string) (domain.Order, error) {
	row := j.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE client_id = $1`, clientID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", clientID, err)
	}
	return o, nil
}

// ListActive returns all non-terminal orders for the given venue, newest
// first. Pass an empty venue to list across all venues.
func (j *OrderJournal) ListActive(ctx context.Context, venue string) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		 WHERE status IN ('pending', 'open', 'partially_filled')`
	args := []any{}
	if venue != "" {
		query += ` AND venue = $1`
		args = append(args, venue)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderJournal = (*OrderJournal)(nil)
