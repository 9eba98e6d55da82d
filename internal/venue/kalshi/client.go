// Package kalshi adapts the Kalshi trade API to the canonical exchange
// contract. Requests are signed per call with RSA-PKCS1v15 over
// timestamp+method+path; prices convert between Kalshi cents and canonical
// 0-1 probabilities quoted in Yes terms.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

const (
	VenueID = "kalshi"

	DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultWSURL   = "wss://api.elections.kalshi.com/trade-api/ws/v2"
)

// Config wires one Kalshi client.
type Config struct {
	BaseURL string
	WSURL   string

	// Auth signs each request; nil restricts the client to public reads.
	Auth *crypto.RSAAuth

	// Stream tunes websocket reconnection; the zero value uses defaults.
	Stream stream.Tuning
	// Retry overrides the dispatcher retry schedule.
	Retry dispatch.RetryPolicy

	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client implements domain.Exchange for Kalshi.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
}

var _ domain.Exchange = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With(slog.String("venue", VenueID)),
	}
	c.dispatcher = dispatch.New(VenueID, cfg.BaseURL, cfg.Limiter, dispatch.Options{
		Sign:        c.sign,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Logger:      logger,
	})
	return c
}

func (c *Client) ID() string   { return VenueID }
func (c *Client) Name() string { return "Kalshi" }

func (c *Client) Info() domain.ExchangeInfo {
	return domain.ExchangeInfo{ID: VenueID, Name: "Kalshi", HasWebsocket: true}
}

// sign attaches the per-request RSA headers. The timestamp is checked for
// clock skew locally so a drifted clock fails fast instead of burning a
// venue round trip.
func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	if c.cfg.Auth == nil {
		return nil
	}
	headers, err := c.cfg.Auth.Headers(time.Now(), req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

func (c *Client) FetchMarkets(ctx context.Context, params domain.FetchMarketsParams) ([]domain.Market, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))
	if params.ActiveOnly {
		q.Set("status", "open")
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch markets: %w", err)
	}

	var out apiMarketsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("kalshi: decode markets: %w: %v", domain.ErrSerialization, err)
	}

	markets := make([]domain.Market, 0, len(out.Markets))
	for i := range out.Markets {
		markets = append(markets, out.Markets[i].toDomain())
	}
	return markets, nil
}

func (c *Client) FetchMarket(ctx context.Context, marketID string) (domain.Market, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets/" + url.PathEscape(marketID),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: fetch market %s: %w", marketID, err)
	}

	var out apiMarketResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w: %v", domain.ErrSerialization, err)
	}
	return out.Market.toDomain(), nil
}

func (c *Client) FetchOrderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets/" + url.PathEscape(assetID) + "/orderbook",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: fetch orderbook %s: %w", assetID, err)
	}

	var out apiOrderbook
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: decode orderbook: %w: %v", domain.ErrSerialization, err)
	}
	return out.toDomain(assetID), nil
}

// CreateOrder places a limit order. Canonical orders are quoted in Yes
// terms; a No-outcome order flips side and price before hitting the API.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := validateOrder(order); err != nil {
		return domain.Order{}, err
	}

	req := apiOrderRequest{
		Ticker:   order.MarketID,
		Action:   string(order.Side),
		Side:     "yes",
		Type:     "limit",
		Count:    int64(order.Size),
		ClientID: order.ClientID,
	}
	price := order.Price
	if order.Outcome == "No" {
		req.Side = "no"
		price = 1 - order.Price
	}
	cents := priceToCents(price)
	req.YesPrice = &cents

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: encode order: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/portfolio/orders",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: create order: %w", err)
	}

	var out apiOrderResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: decode order response: %w: %v", domain.ErrSerialization, err)
	}

	placed := out.Order.toDomain()
	if placed.ClientID == "" {
		placed.ClientID = order.ClientID
	}
	return placed, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodDelete,
		Path:   "/portfolio/orders/" + url.PathEscape(orderID),
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	var out apiOrderResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: decode cancel response: %w: %v", domain.ErrSerialization, err)
	}
	return out.Order.toDomain(), nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/portfolio/orders/" + url.PathEscape(orderID),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: fetch order %s: %w", orderID, err)
	}

	var out apiOrderResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("kalshi: decode order: %w: %v", domain.ErrSerialization, err)
	}
	return out.Order.toDomain(), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, params domain.FetchOrdersParams) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("status", "resting")
	if params.MarketID != "" {
		q.Set("ticker", params.MarketID)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/portfolio/orders?" + q.Encode(),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch open orders: %w", err)
	}

	var out apiOrdersResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("kalshi: decode orders: %w: %v", domain.ErrSerialization, err)
	}

	orders := make([]domain.Order, 0, len(out.Orders))
	for i := range out.Orders {
		orders = append(orders, out.Orders[i].toDomain())
	}
	return orders, nil
}

func (c *Client) FetchPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	q := url.Values{}
	if marketID != "" {
		q.Set("ticker", marketID)
	}
	path := "/portfolio/positions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch positions: %w", err)
	}

	var out apiPositionsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("kalshi: decode positions: %w: %v", domain.ErrSerialization, err)
	}

	positions := make([]domain.Position, 0, len(out.MarketPositions))
	for i := range out.MarketPositions {
		if out.MarketPositions[i].Position == 0 {
			continue
		}
		positions = append(positions, out.MarketPositions[i].toDomain())
	}
	return positions, nil
}

func validateOrder(order domain.Order) error {
	if order.MarketID == "" {
		return fmt.Errorf("kalshi: %w: missing market ticker", domain.ErrValidation)
	}
	if order.Price <= 0 || order.Price >= 1 {
		return fmt.Errorf("kalshi: %w: price %v outside (0,1)", domain.ErrValidation, order.Price)
	}
	if order.Size < 1 {
		return fmt.Errorf("kalshi: %w: count %v below one contract", domain.ErrValidation, order.Size)
	}
	return nil
}
