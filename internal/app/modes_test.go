package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/config"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

// memJournal is an in-memory OrderJournal capturing tracker writes.
type memJournal struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemJournal() *memJournal {
	return &memJournal{orders: make(map[string]domain.Order)}
}

func (j *memJournal) Record(_ context.Context, o domain.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := o.ID
	if key == "" {
		key = o.ClientID
	}
	j.orders[key] = o
	return nil
}

func (j *memJournal) RecordWarning(context.Context, string, string, time.Time) error {
	return nil
}

func (j *memJournal) Get(_ context.Context, clientID string) (domain.Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, o := range j.orders {
		if o.ClientID == clientID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (j *memJournal) ListActive(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func (j *memJournal) get(id string) (domain.Order, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	o, ok := j.orders[id]
	return o, ok
}

// fakeExchange acknowledges every order with a fixed venue ID.
type fakeExchange struct {
	mu      sync.Mutex
	created []domain.Order
}

func (f *fakeExchange) ID() string   { return "fake" }
func (f *fakeExchange) Name() string { return "Fake" }

func (f *fakeExchange) FetchMarkets(context.Context, domain.FetchMarketsParams) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeExchange) FetchMarket(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeExchange) FetchOrderbook(context.Context, string) (domain.Orderbook, error) {
	return domain.Orderbook{}, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	f.mu.Lock()
	f.created = append(f.created, o)
	f.mu.Unlock()

	o.ID = "ord-1"
	o.Status = domain.OrderStatusOpen
	o.CreatedAt = time.Now().UTC()
	return o, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotSupported
}

func (f *fakeExchange) FetchOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeExchange) FetchOpenOrders(context.Context, domain.FetchOrdersParams) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeExchange) FetchPositions(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

// fillProto decodes trade frames carrying the venue order ID of a fill.
type fillProto struct{}

func (fillProto) Subscribe(conn *websocket.Conn, assetID string) error {
	return conn.WriteJSON(map[string]string{"op": "subscribe", "asset": assetID})
}

func (fillProto) Decode(raw []byte) ([]stream.Event, error) {
	var f struct {
		Type    string  `json:"type"`
		OrderID string  `json:"order_id"`
		Price   float64 `json:"price"`
		Size    float64 `json:"size"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type != "trade" {
		return nil, nil
	}
	return []stream.Event{{Kind: domain.UpdateKindTrade, Trade: domain.Trade{
		OrderID: f.OrderID, Price: f.Price, Size: f.Size,
	}}}, nil
}

type fakeStreamer struct {
	url string
}

func (s *fakeStreamer) Subscribe(assetID string) *stream.Subscription {
	return stream.Open(stream.Config{
		Venue:       "fake",
		AssetID:     assetID,
		URL:         s.url,
		Protocol:    fillProto{},
		BaseBackoff: 20 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		Buffer:      8,
	})
}

// fillServer accepts one websocket connection, writes the given frames, and
// holds the connection open until the server shuts down.
func fillServer(t *testing.T, frames []map[string]any) string {
	t.Helper()
	var upgrader websocket.Upgrader

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // subscribe handshake
			return
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTradeModePlacesOrderAndTracksStreamFills(t *testing.T) {
	wsURL := fillServer(t, []map[string]any{
		{"type": "trade", "order_id": "ord-1", "price": 0.5, "size": 2},
		{"type": "trade", "order_id": "other", "price": 0.5, "size": 100},
		{"type": "trade", "order_id": "ord-1", "price": 0.5, "size": 3},
	})

	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Trade = config.TradeConfig{
		Venue:    "fake",
		MarketID: "mkt-1",
		TokenID:  "tok-1",
		Side:     "buy",
		Price:    0.5,
		Size:     5,
	}

	fx := &fakeExchange{}
	journal := newMemJournal()
	deps := &Dependencies{
		Venues:    map[string]domain.Exchange{"fake": fx},
		Streamers: map[string]Streamer{"fake": &fakeStreamer{url: wsURL}},
		Journal:   journal,
	}

	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.TradeMode(ctx, deps) }()

	// The placed order reaches the journal via the tracker, and the two
	// attributed fills take it to terminal filled.
	require.Eventually(t, func() bool {
		o, ok := journal.get("ord-1")
		return ok && o.Filled == 5 && o.Status == domain.OrderStatusFilled
	}, 5*time.Second, 20*time.Millisecond)

	fx.mu.Lock()
	require.Len(t, fx.created, 1)
	sent := fx.created[0]
	fx.mu.Unlock()
	assert.Equal(t, "tok-1", sent.TokenID)
	assert.Equal(t, domain.OrderSideBuy, sent.Side)
	assert.NotEmpty(t, sent.ClientID)

	o, _ := journal.get("ord-1")
	assert.Equal(t, 5.0, o.Filled) // the unattributed tape print is ignored

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}

func TestTradeModeUnknownVenueFails(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Trade = config.TradeConfig{Venue: "ghost", TokenID: "tok-1", Side: "buy", Price: 0.5, Size: 1}

	deps := &Dependencies{
		Venues: map[string]domain.Exchange{"fake": &fakeExchange{}},
	}

	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := a.TradeMode(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `venue "ghost"`)
}
