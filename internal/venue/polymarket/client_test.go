package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/ratelimit"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(map[domain.EndpointClass]ratelimit.BucketConfig{
		domain.ClassPublicRead: {Capacity: 1000, RefillPerSec: 1000},
	})
}

func testSigner(t *testing.T) *crypto.TypedDataSigner {
	t.Helper()
	signer, err := crypto.NewTypedDataSigner(testKeyHex, OrderDomain(0, ""))
	require.NoError(t, err)
	return signer
}

func TestFetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))

		w.Write([]byte(`[{
			"id": "m-1",
			"question": "Will it rain tomorrow?",
			"active": "true",
			"closed": false,
			"outcomes": "[\"Yes\",\"No\"]",
			"outcomePrices": "[\"0.62\",\"0.38\"]",
			"clobTokenIds": "[\"tok-yes\",\"tok-no\"]",
			"volume": "12345.5",
			"liquidity": "678.9"
		}]`))
	}))
	defer srv.Close()

	c := New(Config{GammaURL: srv.URL, Limiter: testLimiter()})

	markets, err := c.FetchMarkets(context.Background(), domain.FetchMarketsParams{Limit: 25, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, VenueID, m.Venue)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	require.Len(t, m.Tokens, 2)
	assert.Equal(t, "tok-yes", m.Tokens[0].TokenID)
	assert.Equal(t, 0.62, m.Prices["Yes"])
	assert.Equal(t, 0.38, m.Prices["No"])
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, 12345.5, m.Volume)
	assert.Equal(t, 0.01, m.TickSize) // fallback when the venue omits it
}

func TestFetchOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-yes", r.URL.Query().Get("token_id"))

		// Levels arrive unsorted; the adapter normalizes.
		w.Write([]byte(`{
			"asset_id": "tok-yes",
			"market": "0xcond",
			"bids": [{"price": "0.50", "size": "10"}, {"price": "0.52", "size": "5"}],
			"asks": [{"price": "0.56", "size": "7"}, {"price": "0.54", "size": "3"}],
			"timestamp": "1700000000000"
		}`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Limiter: testLimiter()})

	book, err := c.FetchOrderbook(context.Background(), "tok-yes")
	require.NoError(t, err)
	assert.Equal(t, "tok-yes", book.AssetID)
	assert.Equal(t, "0xcond", book.MarketID)
	assert.Equal(t, 0.52, book.BestBid())
	assert.Equal(t, 0.54, book.BestAsk())
	assert.Equal(t, int64(1700000000), book.Timestamp.Unix())
}

func TestCreateOrder(t *testing.T) {
	signer := testSigner(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/order", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))

		var body struct {
			Order struct {
				Maker       string `json:"maker"`
				TokenID     string `json:"tokenId"`
				Side        int    `json:"side"`
				MakerAmount string `json:"makerAmount"`
				TakerAmount string `json:"takerAmount"`
				Signature   string `json:"signature"`
			} `json:"order"`
			Owner     string `json:"owner"`
			OrderType string `json:"orderType"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, signer.Address().Hex(), body.Order.Maker)
		assert.Equal(t, "123456", body.Order.TokenID)
		assert.Equal(t, 0, body.Order.Side)              // buy
		assert.Equal(t, "550000", body.Order.MakerAmount) // 0.55 * 1 share in USDC units
		assert.Equal(t, "1000000", body.Order.TakerAmount)
		assert.NotEmpty(t, body.Order.Signature)
		assert.Equal(t, "GTC", body.OrderType)

		w.Write([]byte(`{"success": true, "orderID": "0xord", "status": "live"}`))
	}))
	defer srv.Close()

	c := New(Config{
		ClobURL: srv.URL,
		Signer:  signer,
		Creds:   &crypto.DerivedCreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"},
		Limiter: testLimiter(),
	})

	order, err := c.CreateOrder(context.Background(), domain.Order{
		TokenID: "123456",
		Side:    domain.OrderSideBuy,
		Type:    domain.OrderTypeGTC,
		Price:   0.55,
		Size:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xord", order.ID)
	assert.Equal(t, VenueID, order.Venue)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.NotEmpty(t, order.Signature)
}

func TestCreateOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success": false, "errorMsg": "not enough balance"}`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Signer: testSigner(t), Limiter: testLimiter()})

	order, err := c.CreateOrder(context.Background(), domain.Order{
		TokenID: "123456",
		Side:    domain.OrderSideSell,
		Price:   0.4,
		Size:    2,
	})
	require.ErrorIs(t, err, domain.ErrExchangeRejected)
	assert.Contains(t, err.Error(), "not enough balance")
	assert.Equal(t, domain.OrderStatusRejected, order.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	c := New(Config{Signer: testSigner(t), Limiter: testLimiter()})
	ctx := context.Background()

	_, err := c.CreateOrder(ctx, domain.Order{Side: domain.OrderSideBuy, Price: 0.5, Size: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.CreateOrder(ctx, domain.Order{TokenID: "1", Side: domain.OrderSideBuy, Price: 1.2, Size: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.CreateOrder(ctx, domain.Order{TokenID: "1", Side: domain.OrderSideBuy, Price: 0.5, Size: 0})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrderWithoutSigner(t *testing.T) {
	c := New(Config{Limiter: testLimiter()})
	_, err := c.CreateOrder(context.Background(), domain.Order{TokenID: "1", Side: domain.OrderSideBuy, Price: 0.5, Size: 1})
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xord", body["orderID"])
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Limiter: testLimiter()})

	order, err := c.CancelOrder(context.Background(), "0xord")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, "0xord", order.ID)
}

func TestCancelOrderFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success": false, "errorMsg": "order not found"}`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Limiter: testLimiter()})

	_, err := c.CancelOrder(context.Background(), "0xgone")
	require.ErrorIs(t, err, domain.ErrExchangeRejected)
}

func TestFetchOpenOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/orders", r.URL.Path)
		assert.Equal(t, "0xcond", r.URL.Query().Get("market"))

		w.Write([]byte(`[{
			"id": "0xord",
			"status": "live",
			"market": "0xcond",
			"asset_id": "tok-yes",
			"side": "BUY",
			"order_type": "GTC",
			"original_size": "100",
			"size_matched": "40",
			"price": "0.55",
			"created_at": 1700000000
		}]`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Limiter: testLimiter()})

	orders, err := c.FetchOpenOrders(context.Background(), domain.FetchOrdersParams{MarketID: "0xcond"})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "0xord", o.ID)
	assert.Equal(t, domain.OrderSideBuy, o.Side)
	assert.Equal(t, 100.0, o.Size)
	assert.Equal(t, 40.0, o.Filled)
	// A live order with fills reports as partially filled.
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
}

func TestFetchPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/positions", r.URL.Path)
		w.Write([]byte(`[{
			"asset": "tok-yes",
			"conditionId": "0xcond",
			"outcome": "Yes",
			"size": 50,
			"avgPrice": 0.48,
			"currentValue": 27.5
		}]`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Limiter: testLimiter()})

	positions, err := c.FetchPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "0xcond", positions[0].MarketID)
	assert.Equal(t, 0.48, positions[0].AvgPrice)
	assert.Equal(t, 0.55, positions[0].MarkPrice)
}

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]domain.OrderStatus{
		"live":      domain.OrderStatusOpen,
		"open":      domain.OrderStatusOpen,
		"matched":   domain.OrderStatusFilled,
		"filled":    domain.OrderStatusFilled,
		"cancelled": domain.OrderStatusCancelled,
		"canceled":  domain.OrderStatusCancelled,
		"rejected":  domain.OrderStatusRejected,
		"unmatched": domain.OrderStatusRejected,
		"whatever":  domain.OrderStatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapOrderStatus(in), in)
	}
}

func TestDeriveAPIKeyRidesDispatcher(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/derive-api-key", r.URL.Path)
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.NotEmpty(t, r.Header.Get("POLY_ADDRESS"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.NotEmpty(t, r.Header.Get("POLY_TIMESTAMP"))
		assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
		w.Write([]byte(`{"apiKey": "k1", "secret": "czE=", "passphrase": "p1"}`))
	}))
	defer srv.Close()

	c := New(Config{ClobURL: srv.URL, Signer: testSigner(t), Limiter: testLimiter()})

	// The transient 500 is retried by the dispatcher before the derive
	// succeeds and the fresh credentials are installed.
	require.NoError(t, c.reauth(context.Background()))
	assert.Equal(t, 2, hits)

	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	require.NotNil(t, creds)
	assert.Equal(t, "k1", creds.Key)
}
