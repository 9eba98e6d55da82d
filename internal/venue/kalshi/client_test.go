package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/ratelimit"
)

func testLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(map[domain.EndpointClass]ratelimit.BucketConfig{
		domain.ClassPublicRead: {Capacity: 1000, RefillPerSec: 1000},
	})
}

func testAuth(t *testing.T) *crypto.RSAAuth {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	auth, err := crypto.NewRSAAuth("key-id-1", pemBytes)
	require.NoError(t, err)
	return auth
}

func TestFetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("status"))

		w.Write([]byte(`{"markets": [{
			"ticker": "RAIN-26SEP01",
			"title": "Will it rain on Sep 1?",
			"status": "open",
			"last_price": 62,
			"volume": 1500,
			"liquidity": 250000,
			"tick_size": 1,
			"close_time": "2026-09-01T12:00:00Z"
		}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	markets, err := c.FetchMarkets(context.Background(), domain.FetchMarketsParams{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "RAIN-26SEP01", m.ID)
	assert.Equal(t, VenueID, m.Venue)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, 0.62, m.Prices["Yes"])
	assert.Equal(t, 0.38, m.Prices["No"])
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, 0.01, m.TickSize)
	assert.Equal(t, 2500.0, m.Liquidity)
	require.Len(t, m.Tokens, 2)
	assert.Equal(t, "RAIN-26SEP01", m.Tokens[0].TokenID)
}

func TestFetchOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/RAIN-26SEP01/orderbook", r.URL.Path)
		w.Write([]byte(`{"orderbook": {
			"yes": [[47, 50], [48, 100]],
			"no": [[45, 80], [40, 20]]
		}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	book, err := c.FetchOrderbook(context.Background(), "RAIN-26SEP01")
	require.NoError(t, err)
	assert.Equal(t, "RAIN-26SEP01", book.AssetID)

	// Resting Yes bids map directly; resting No bids become Yes asks at 1-q.
	assert.Equal(t, 0.48, book.BestBid())
	assert.Equal(t, 0.55, book.BestAsk())
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 2)
	assert.Equal(t, 100.0, book.Bids[0].Size)
	assert.Equal(t, 80.0, book.Asks[0].Size)
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/portfolio/orders", r.URL.Path)
		assert.Equal(t, "key-id-1", r.Header.Get("KALSHI-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-TIMESTAMP"))

		var req apiOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "RAIN-26SEP01", req.Ticker)
		assert.Equal(t, "buy", req.Action)
		assert.Equal(t, "yes", req.Side)
		assert.Equal(t, "limit", req.Type)
		assert.Equal(t, int64(10), req.Count)
		require.NotNil(t, req.YesPrice)
		assert.Equal(t, int64(62), *req.YesPrice)
		assert.Equal(t, "cli-1", req.ClientID)

		w.Write([]byte(`{"order": {
			"order_id": "ord-1",
			"client_order_id": "cli-1",
			"ticker": "RAIN-26SEP01",
			"status": "resting",
			"action": "buy",
			"side": "yes",
			"yes_price": 62,
			"initial_count": 10,
			"remaining_count": 10
		}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Auth: testAuth(t), Limiter: testLimiter()})

	order, err := c.CreateOrder(context.Background(), domain.Order{
		MarketID: "RAIN-26SEP01",
		ClientID: "cli-1",
		Outcome:  "Yes",
		Side:     domain.OrderSideBuy,
		Price:    0.62,
		Size:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, "cli-1", order.ClientID)
	assert.Equal(t, VenueID, order.Venue)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.Equal(t, 0.62, order.Price)
	assert.Equal(t, 10.0, order.Size)
}

func TestCreateOrderNoOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// A canonical No order flips to the venue's no side at 1-p.
		assert.Equal(t, "no", req.Side)
		require.NotNil(t, req.YesPrice)
		assert.Equal(t, int64(70), *req.YesPrice)

		w.Write([]byte(`{"order": {
			"order_id": "ord-2",
			"ticker": "RAIN-26SEP01",
			"status": "resting",
			"action": "buy",
			"side": "no",
			"yes_price": 70,
			"initial_count": 5,
			"remaining_count": 5
		}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	order, err := c.CreateOrder(context.Background(), domain.Order{
		MarketID: "RAIN-26SEP01",
		Outcome:  "No",
		Side:     domain.OrderSideBuy,
		Price:    0.30,
		Size:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, "No", order.Outcome)
	require.InDelta(t, 0.30, order.Price, 1e-9)
}

func TestCreateOrderValidation(t *testing.T) {
	c := New(Config{Limiter: testLimiter()})
	ctx := context.Background()

	_, err := c.CreateOrder(ctx, domain.Order{Price: 0.5, Size: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.CreateOrder(ctx, domain.Order{MarketID: "T", Price: 0, Size: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.CreateOrder(ctx, domain.Order{MarketID: "T", Price: 0.5, Size: 0.5})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/portfolio/orders/ord-1", r.URL.Path)
		w.Write([]byte(`{"order": {
			"order_id": "ord-1",
			"ticker": "RAIN-26SEP01",
			"status": "canceled",
			"action": "buy",
			"side": "yes",
			"yes_price": 62,
			"initial_count": 10
		}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	order, err := c.CancelOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestFetchOpenOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/portfolio/orders", r.URL.Path)
		assert.Equal(t, "resting", r.URL.Query().Get("status"))
		assert.Equal(t, "RAIN-26SEP01", r.URL.Query().Get("ticker"))

		w.Write([]byte(`{"orders": [{
			"order_id": "ord-1",
			"ticker": "RAIN-26SEP01",
			"status": "resting",
			"action": "sell",
			"side": "yes",
			"yes_price": 55,
			"initial_count": 20,
			"remaining_count": 12,
			"maker_fill_count": 8
		}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	orders, err := c.FetchOpenOrders(context.Background(), domain.FetchOrdersParams{MarketID: "RAIN-26SEP01"})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, domain.OrderSideSell, o.Side)
	assert.Equal(t, 20.0, o.Size)
	assert.Equal(t, 8.0, o.Filled)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assert.Equal(t, 0.55, o.Price)
}

func TestFetchPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/portfolio/positions", r.URL.Path)
		w.Write([]byte(`{"market_positions": [
			{"ticker": "RAIN-26SEP01", "position": 10, "total_traded_cents": 480},
			{"ticker": "FLAT-26SEP01", "position": 0},
			{"ticker": "SNOW-26DEC25", "position": -4, "total_traded_cents": 120}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	positions, err := c.FetchPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2) // flat positions are skipped

	assert.Equal(t, "Yes", positions[0].Outcome)
	assert.Equal(t, 10.0, positions[0].Size)
	assert.InDelta(t, 0.48, positions[0].AvgPrice, 1e-9)

	assert.Equal(t, "No", positions[1].Outcome)
	assert.Equal(t, 4.0, positions[1].Size)
}

func TestPriceCentsConversion(t *testing.T) {
	assert.Equal(t, int64(62), priceToCents(0.62))
	assert.Equal(t, int64(1), priceToCents(0.014))
	assert.Equal(t, 0.62, centsToPrice(62))
}

func TestDecodeErrorIncludesCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"markets": not-json`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Limiter: testLimiter()})

	_, err := c.FetchMarkets(context.Background(), domain.FetchMarketsParams{})
	require.ErrorIs(t, err, domain.ErrSerialization)
	assert.Contains(t, err.Error(), "invalid character")
}
