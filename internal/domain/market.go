// Package domain defines the canonical data model shared by every venue
// adapter: markets, orderbooks, orders, positions, trades, credentials, and
// the canonical error kinds. Venue-specific JSON shapes are mapped into these
// types at the adapter boundary and never leak past it.
package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// OutcomeToken pairs an outcome label with the venue token that trades it.
type OutcomeToken struct {
	Outcome string
	TokenID string
}

// Market is an immutable snapshot of a prediction market. It is refreshed by
// re-fetching, never mutated in place.
type Market struct {
	ID        string
	Venue     string
	Question  string
	Outcomes  []string           // ordered, 2+ entries
	Tokens    []OutcomeToken     // aligned with Outcomes where the venue has token IDs
	Prices    map[string]float64 // outcome -> price in [0,1]
	Volume    float64
	Liquidity float64
	TickSize  float64
	Status    MarketStatus
	CloseTime time.Time // zero when the venue reports none
}

// IsBinary reports whether the market has exactly two outcomes.
func (m Market) IsBinary() bool {
	return len(m.Outcomes) == 2
}

// IsOpen reports whether the market is still accepting orders.
func (m Market) IsOpen() bool {
	if m.Status != MarketStatusOpen {
		return false
	}
	if !m.CloseTime.IsZero() {
		return time.Now().Before(m.CloseTime)
	}
	return true
}

// TokenFor returns the token ID for the given outcome, or "" if the venue
// exposes none.
func (m Market) TokenFor(outcome string) string {
	for _, t := range m.Tokens {
		if t.Outcome == outcome {
			return t.TokenID
		}
	}
	return ""
}
