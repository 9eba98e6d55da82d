package domain

import "time"

// Trade is an immutable execution record. Trades are append-only; positions
// and order fill confirmations are derived from them.
type Trade struct {
	ID        string
	Venue     string
	MarketID  string
	Outcome   string
	OrderID   string // venue order the fill belongs to, "" for public tape
	Side      OrderSide
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Notional returns price * size.
func (t Trade) Notional() float64 {
	return t.Price * t.Size
}
