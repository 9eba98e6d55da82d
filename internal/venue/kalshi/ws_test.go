package kalshi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

func TestProtocolDecodeSnapshot(t *testing.T) {
	events, err := Protocol{}.Decode([]byte(`{
		"type": "orderbook_snapshot",
		"seq": 1,
		"msg": {
			"market_ticker": "RAIN-26SEP01",
			"yes": [[48, 100]],
			"no": [[45, 80]]
		}
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.UpdateKindBook, ev.Kind)
	assert.Equal(t, uint64(1), ev.Book.Seq)
	require.Len(t, ev.Book.Bids, 1)
	assert.Equal(t, 0.48, ev.Book.Bids[0].Price)
	require.Len(t, ev.Book.Asks, 1)
	assert.Equal(t, 0.55, ev.Book.Asks[0].Price) // resting no bid quoted in yes terms
}

func TestProtocolDecodeDelta(t *testing.T) {
	events, err := Protocol{}.Decode([]byte(`{
		"type": "orderbook_delta",
		"seq": 2,
		"msg": {"market_ticker": "RAIN-26SEP01", "price": 48, "delta": -20, "side": "yes"}
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	d := events[0].Delta
	assert.Equal(t, domain.UpdateKindBookDelta, events[0].Kind)
	assert.True(t, d.Additive) // signed quantity change, not an absolute size
	assert.Equal(t, domain.OrderSideBuy, d.Side)
	assert.Equal(t, 0.48, d.Price)
	assert.Equal(t, -20.0, d.Size)
	assert.Equal(t, uint64(2), d.Seq)

	// A no-side delta lands on the ask side at the complementary price.
	events, err = Protocol{}.Decode([]byte(`{
		"type": "orderbook_delta",
		"seq": 3,
		"msg": {"market_ticker": "RAIN-26SEP01", "price": 40, "delta": 10, "side": "no"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideSell, events[0].Delta.Side)
	assert.InDelta(t, 0.60, events[0].Delta.Price, 1e-9)
}

func TestProtocolDecodeTrade(t *testing.T) {
	events, err := Protocol{}.Decode([]byte(`{
		"type": "trade",
		"seq": 4,
		"msg": {"market_ticker": "RAIN-26SEP01", "yes_price": 51, "count": 7, "taker_side": "no", "ts": 1700000000}
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	tr := events[0].Trade
	assert.Equal(t, domain.UpdateKindTrade, events[0].Kind)
	assert.Equal(t, 0.51, tr.Price)
	assert.Equal(t, 7.0, tr.Size)
	assert.Equal(t, domain.OrderSideSell, tr.Side)
	assert.Equal(t, int64(1700000000), tr.Timestamp.Unix())
}

func TestProtocolDecodeIgnoresControlFrames(t *testing.T) {
	events, err := Protocol{}.Decode([]byte(`{"type": "subscribed", "sid": 1}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}
