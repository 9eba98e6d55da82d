package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBook() Orderbook {
	return Orderbook{
		AssetID: "tok-1",
		Bids: []PriceLevel{
			{Price: 0.52, Size: 100},
			{Price: 0.51, Size: 50},
		},
		Asks: []PriceLevel{
			{Price: 0.54, Size: 80},
			{Price: 0.55, Size: 200},
		},
		Seq: 10,
	}
}

func TestOrderbookTopOfBook(t *testing.T) {
	b := testBook()
	require.Equal(t, 0.52, b.BestBid())
	require.Equal(t, 0.54, b.BestAsk())
	require.InDelta(t, 0.53, b.MidPrice(), 1e-9)
	require.InDelta(t, 0.02, b.Spread(), 1e-9)
	require.True(t, b.HasData())

	var empty Orderbook
	require.Equal(t, 0.0, empty.BestBid())
	require.Equal(t, 0.0, empty.MidPrice())
	require.False(t, empty.HasData())
}

func TestNormalizeSortsBothSides(t *testing.T) {
	b := Orderbook{
		Bids: []PriceLevel{{Price: 0.40, Size: 1}, {Price: 0.45, Size: 1}},
		Asks: []PriceLevel{{Price: 0.60, Size: 1}, {Price: 0.55, Size: 1}},
	}
	b.Normalize()
	require.Equal(t, 0.45, b.Bids[0].Price)
	require.Equal(t, 0.55, b.Asks[0].Price)
}

func TestApplyDeltaReplaceAndRemove(t *testing.T) {
	b := testBook()

	b.ApplyDelta(BookDelta{Side: OrderSideBuy, Price: 0.52, Size: 30, Seq: 11})
	require.Equal(t, 30.0, b.Bids[0].Size)
	require.Equal(t, uint64(11), b.Seq)

	b.ApplyDelta(BookDelta{Side: OrderSideBuy, Price: 0.52, Size: 0, Seq: 12})
	require.Equal(t, 0.51, b.BestBid())

	// Removing a level that was never there is a no-op.
	b.ApplyDelta(BookDelta{Side: OrderSideSell, Price: 0.99, Size: 0, Seq: 13})
	require.Len(t, b.Asks, 2)
	require.Equal(t, uint64(13), b.Seq)
}

func TestApplyDeltaInsertKeepsOrdering(t *testing.T) {
	b := testBook()

	b.ApplyDelta(BookDelta{Side: OrderSideBuy, Price: 0.53, Size: 10, Seq: 11})
	require.Equal(t, 0.53, b.Bids[0].Price)

	b.ApplyDelta(BookDelta{Side: OrderSideSell, Price: 0.545, Size: 10, Seq: 12})
	require.Equal(t, []float64{0.54, 0.545, 0.55},
		[]float64{b.Asks[0].Price, b.Asks[1].Price, b.Asks[2].Price})
}

func TestApplyDeltaAdditive(t *testing.T) {
	b := testBook()

	// Signed change adds to the resting quantity.
	b.ApplyDelta(BookDelta{Side: OrderSideSell, Price: 0.54, Size: 20, Additive: true, Seq: 11})
	require.Equal(t, 100.0, b.Asks[0].Size)

	// Drawdown below zero removes the level.
	b.ApplyDelta(BookDelta{Side: OrderSideSell, Price: 0.54, Size: -150, Additive: true, Seq: 12})
	require.Equal(t, 0.55, b.BestAsk())

	// Additive insert at a fresh price.
	b.ApplyDelta(BookDelta{Side: OrderSideBuy, Price: 0.50, Size: 25, Additive: true, Seq: 13})
	require.Equal(t, 25.0, b.Bids[len(b.Bids)-1].Size)
}

func TestApplyDeltaSequenceKeepsTopOfBookCoherent(t *testing.T) {
	b := testBook()

	deltas := []BookDelta{
		{Side: OrderSideBuy, Price: 0.53, Size: 40, Seq: 11},   // tighten the bid
		{Side: OrderSideSell, Price: 0.54, Size: 0, Seq: 12},   // lift the best ask
		{Side: OrderSideSell, Price: 0.535, Size: 60, Seq: 13}, // quote inside the spread
		{Side: OrderSideBuy, Price: 0.53, Size: 0, Seq: 14},    // pull the tight bid
		{Side: OrderSideBuy, Price: 0.52, Size: 0, Seq: 15},
		{Side: OrderSideSell, Price: 0.55, Size: 120, Seq: 16},
		{Side: OrderSideBuy, Price: 0.50, Size: 70, Seq: 17},
	}

	for _, d := range deltas {
		b.ApplyDelta(d)
		if len(b.Bids) == 0 || len(b.Asks) == 0 {
			continue
		}
		require.Less(t, b.BestBid(), b.BestAsk(), "crossed book after seq %d", d.Seq)
		require.GreaterOrEqual(t, b.Spread(), 0.0, "negative spread after seq %d", d.Seq)
	}

	require.Equal(t, 0.51, b.BestBid())
	require.Equal(t, 0.535, b.BestAsk())
	require.Equal(t, uint64(17), b.Seq)
}

func TestCloneIsIndependent(t *testing.T) {
	b := testBook()
	c := b.Clone()
	c.Bids[0].Size = 1
	require.Equal(t, 100.0, b.Bids[0].Size)
}
