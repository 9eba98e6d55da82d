package domain

// Position is the net exposure in one market outcome. It is derived, never
// independently authoritative: recompute from confirmed fills with
// PositionFromTrades rather than mutating in place.
type Position struct {
	Venue     string
	MarketID  string
	Outcome   string
	Size      float64 // net signed size, buys positive
	AvgPrice  float64 // average entry price of the open quantity
	MarkPrice float64
}

// CostBasis returns size * average entry price.
func (p Position) CostBasis() float64 {
	return p.Size * p.AvgPrice
}

// CurrentValue returns size * mark price.
func (p Position) CurrentValue() float64 {
	return p.Size * p.MarkPrice
}

// UnrealizedPnL returns current value minus cost basis.
func (p Position) UnrealizedPnL() float64 {
	return p.CurrentValue() - p.CostBasis()
}

// PositionFromTrades recomputes the position for one market outcome from its
// confirmed fills, in order. Buys increase size at a blended average price;
// sells reduce size without moving the average (realized PnL is not tracked
// here). markPrice stamps the result.
func PositionFromTrades(venue, marketID, outcome string, trades []Trade, markPrice float64) Position {
	pos := Position{
		Venue:     venue,
		MarketID:  marketID,
		Outcome:   outcome,
		MarkPrice: markPrice,
	}

	for _, t := range trades {
		if t.MarketID != marketID || t.Outcome != outcome {
			continue
		}
		switch t.Side {
		case OrderSideBuy:
			total := pos.Size + t.Size
			if total != 0 {
				pos.AvgPrice = (pos.AvgPrice*pos.Size + t.Price*t.Size) / total
			}
			pos.Size = total
		case OrderSideSell:
			pos.Size -= t.Size
			if pos.Size == 0 {
				pos.AvgPrice = 0
			}
		}
	}

	return pos
}
