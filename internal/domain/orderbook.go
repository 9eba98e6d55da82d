package domain

import (
	"sort"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Orderbook holds bids and asks for one asset, sorted by price priority:
// bids descending, asks ascending, best first. Seq is the venue sequence
// number (or timestamp-derived counter) used for staleness and gap checks.
type Orderbook struct {
	MarketID  string
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Seq       uint64
	Timestamp time.Time
}

// BookDelta is an incremental change to a single level of one side. By
// default Size is the level's new absolute size and 0 removes the level;
// venues that report signed quantity changes set Additive, where Size is
// added to the resting quantity and the level is removed at or below zero.
type BookDelta struct {
	AssetID   string
	Side      OrderSide
	Price     float64
	Size      float64
	Additive  bool
	Seq       uint64
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 if there are no bids.
func (b Orderbook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if there are no asks.
func (b Orderbook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice returns the midpoint of best bid and ask, or 0 if either side is
// empty.
func (b Orderbook) MidPrice() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return (b.BestBid() + b.BestAsk()) / 2
}

// Spread returns best ask minus best bid, or 0 if either side is empty.
func (b Orderbook) Spread() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return b.BestAsk() - b.BestBid()
}

// HasData reports whether both sides are populated.
func (b Orderbook) HasData() bool {
	return len(b.Bids) > 0 && len(b.Asks) > 0
}

// Normalize sorts both sides into price priority order. Adapters call this
// once when mapping a venue snapshot; ApplyDelta preserves the ordering
// afterwards.
func (b *Orderbook) Normalize() {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// ApplyDelta applies an incremental level update, keeping both sides sorted.
// It does not check sequence numbers; callers (the stream normalizer) decide
// whether the delta is consecutive before applying.
func (b *Orderbook) ApplyDelta(d BookDelta) {
	side := &b.Asks
	descending := false
	if d.Side == OrderSideBuy {
		side = &b.Bids
		descending = true
	}

	levels := *side
	idx := -1
	for i, lvl := range levels {
		if lvl.Price == d.Price {
			idx = i
			break
		}
	}

	if d.Additive {
		size := d.Size
		if idx >= 0 {
			size += levels[idx].Size
		}
		if size < 0 {
			size = 0
		}
		d.Size = size
	}

	switch {
	case d.Size == 0 && idx >= 0:
		levels = append(levels[:idx], levels[idx+1:]...)
	case d.Size == 0:
		// Removing an unknown level is a no-op.
	case idx >= 0:
		levels[idx].Size = d.Size
	default:
		levels = append(levels, PriceLevel{Price: d.Price, Size: d.Size})
		if descending {
			sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
		} else {
			sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
		}
	}

	*side = levels
	b.Seq = d.Seq
	if !d.Timestamp.IsZero() {
		b.Timestamp = d.Timestamp
	}
}

// Clone returns a deep copy so consumers can hold snapshots without racing
// the normalizer's working book.
func (b Orderbook) Clone() Orderbook {
	out := b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return out
}
