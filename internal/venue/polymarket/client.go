// Package polymarket adapts the Polymarket Gamma and CLOB APIs to the
// canonical exchange contract. Market discovery goes through the public
// Gamma API; books and orders go through the CLOB with EIP-712 order
// signatures and HMAC-derived request credentials.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

const (
	VenueID = "polymarket"

	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultClobURL  = "https://clob.polymarket.com"
	DefaultWSURL    = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	zeroAddress = "0x0000000000000000000000000000000000000000"

	// DefaultExchange is the CTF exchange contract on Polygon.
	DefaultExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

	// Order amounts are fixed-point with 6 decimals (USDC base units).
	amountScale = 1_000_000
)

// OrderDomain returns the EIP-712 domain orders are signed under. Zero
// arguments select the Polygon mainnet exchange.
func OrderDomain(chainID int64, exchange string) crypto.TypedDataDomain {
	if chainID == 0 {
		chainID = 137
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	return crypto.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: exchange,
	}
}

// Config wires one Polymarket client.
type Config struct {
	GammaURL string
	ClobURL  string
	WSURL    string

	// Signer is required for trading; read-only clients may leave it nil.
	Signer *crypto.TypedDataSigner
	// Creds are the derived HMAC credentials. When nil and a Signer is
	// present, the client derives them on first authenticated call.
	Creds *crypto.DerivedCreds

	// Stream tunes websocket reconnection; the zero value uses defaults.
	Stream stream.Tuning
	// Retry overrides the dispatcher retry schedule.
	Retry dispatch.RetryPolicy

	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client implements domain.Exchange for Polymarket.
type Client struct {
	cfg    Config
	logger *slog.Logger

	gamma *dispatch.Dispatcher
	clob  *dispatch.Dispatcher

	mu    sync.Mutex
	creds *crypto.DerivedCreds
}

var _ domain.Exchange = (*Client)(nil)

// New builds a Polymarket client on top of two dispatchers sharing the
// venue's rate limiter.
func New(cfg Config) *Client {
	if cfg.GammaURL == "" {
		cfg.GammaURL = DefaultGammaURL
	}
	if cfg.ClobURL == "" {
		cfg.ClobURL = DefaultClobURL
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
		creds:  cfg.Creds,
	}

	c.gamma = dispatch.New(VenueID, cfg.GammaURL, cfg.Limiter, dispatch.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Logger:      logger,
	})
	c.clob = dispatch.New(VenueID, cfg.ClobURL, cfg.Limiter, dispatch.Options{
		Sign:        c.sign,
		Reauth:      c.reauth,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Logger:      logger,
	})

	return c
}

func (c *Client) ID() string   { return VenueID }
func (c *Client) Name() string { return "Polymarket" }

// Info reports the adapter's capability surface.
func (c *Client) Info() domain.ExchangeInfo {
	return domain.ExchangeInfo{ID: VenueID, Name: "Polymarket", HasWebsocket: true}
}

// FetchMarkets lists markets from the Gamma API.
func (c *Client) FetchMarkets(ctx context.Context, params domain.FetchMarketsParams) ([]domain.Market, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))
	if params.ActiveOnly {
		q.Set("active", "true")
		q.Set("closed", "false")
	}

	resp, err := c.gamma.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket: fetch markets: %w", err)
	}

	var raw []apiMarket
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w: %v", domain.ErrSerialization, err)
	}

	markets := make([]domain.Market, 0, len(raw))
	for i := range raw {
		markets = append(markets, raw[i].toDomain())
	}
	return markets, nil
}

// FetchMarket returns one market by Gamma ID.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (domain.Market, error) {
	resp, err := c.gamma.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets/" + url.PathEscape(marketID),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: fetch market %s: %w", marketID, err)
	}

	var raw apiMarket
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: decode market: %w: %v", domain.ErrSerialization, err)
	}
	return raw.toDomain(), nil
}

// FetchOrderbook returns the full book snapshot for one outcome token.
func (c *Client) FetchOrderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	q := url.Values{}
	q.Set("token_id", assetID)

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/book?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("polymarket: fetch orderbook %s: %w", assetID, err)
	}

	var raw apiBook
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return domain.Orderbook{}, fmt.Errorf("polymarket: decode orderbook: %w: %v", domain.ErrSerialization, err)
	}
	return raw.toDomain(), nil
}

// CreateOrder signs the order via EIP-712 and submits it to the CLOB.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if c.cfg.Signer == nil {
		return domain.Order{}, fmt.Errorf("polymarket: create order: no signer configured: %w", domain.ErrAuth)
	}
	if err := validateOrder(order); err != nil {
		return domain.Order{}, err
	}

	payload, err := c.buildPayload(order)
	if err != nil {
		return domain.Order{}, err
	}
	sig, err := c.cfg.Signer.SignOrder(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: create order: %w", err)
	}
	order.Signature = sig

	body, err := json.Marshal(map[string]any{
		"order": struct {
			crypto.OrderPayload
			Signature string `json:"signature"`
		}{payload, sig},
		"owner":     payload.Maker,
		"orderType": string(order.Type),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: encode order: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/order",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: create order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: decode order result: %w: %v", domain.ErrSerialization, err)
	}
	if !result.Success {
		order.Status = domain.OrderStatusRejected
		return order, fmt.Errorf("polymarket: order rejected: %s: %w", result.ErrorMsg, domain.ErrExchangeRejected)
	}

	order.ID = result.OrderID
	order.Venue = VenueID
	order.Status = mapOrderStatus(result.Status)
	if order.Status == domain.OrderStatusPending && result.Success {
		order.Status = domain.OrderStatusOpen
	}
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	return order, nil
}

// CancelOrder cancels one order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	body, _ := json.Marshal(map[string]string{"orderID": orderID})

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodDelete,
		Path:   "/order",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: decode cancel response: %w: %v", domain.ErrSerialization, err)
	}
	if !result.Success {
		return domain.Order{}, fmt.Errorf("polymarket: cancel %s failed: %s: %w", orderID, result.ErrorMsg, domain.ErrExchangeRejected)
	}

	return domain.Order{
		ID:        orderID,
		Venue:     VenueID,
		Status:    domain.OrderStatusCancelled,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// FetchOrder retrieves one order by venue ID.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/data/order/" + url.PathEscape(orderID),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: fetch order %s: %w", orderID, err)
	}

	var raw apiOrder
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return domain.Order{}, fmt.Errorf("polymarket: decode order: %w: %v", domain.ErrSerialization, err)
	}
	return raw.toDomain(), nil
}

// FetchOpenOrders lists the wallet's open orders, optionally per market.
func (c *Client) FetchOpenOrders(ctx context.Context, params domain.FetchOrdersParams) ([]domain.Order, error) {
	path := "/data/orders"
	if params.MarketID != "" {
		q := url.Values{}
		q.Set("market", params.MarketID)
		path += "?" + q.Encode()
	}

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket: fetch open orders: %w", err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decode orders: %w: %v", domain.ErrSerialization, err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, raw[i].toDomain())
	}
	return orders, nil
}

// FetchPositions lists the wallet's positions, optionally filtered to one
// market (condition) ID.
func (c *Client) FetchPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	path := "/data/positions"
	if marketID != "" {
		q := url.Values{}
		q.Set("market", marketID)
		path += "?" + q.Encode()
	}

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket: fetch positions: %w", err)
	}

	var raw []apiPosition
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decode positions: %w: %v", domain.ErrSerialization, err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for i := range raw {
		positions = append(positions, raw[i].toDomain())
	}
	return positions, nil
}

// --------------------------------------------------------------------------
// Signing and credential derivation
// --------------------------------------------------------------------------

// sign applies L2 HMAC headers to authenticated requests. The auth endpoints
// carry the L1 attestation instead; public reads pass through unsigned.
func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	if strings.HasPrefix(req.URL.Path, "/auth/") {
		return c.signL1(req)
	}

	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	if creds == nil || c.cfg.Signer == nil {
		return nil
	}

	address := c.cfg.Signer.Address().Hex()
	path := req.URL.Path
	headers := creds.Headers(address, req.Method, path, string(body), time.Now())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// reauth derives fresh HMAC credentials from the L1 key. The dispatcher
// calls it at most once per request on an auth failure.
func (c *Client) reauth(ctx context.Context) error {
	if c.cfg.Signer == nil {
		return fmt.Errorf("polymarket: reauth: no signer configured: %w", domain.ErrAuth)
	}
	creds, err := c.deriveAPIKey(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	c.logger.Info("derived fresh api credentials")
	return nil
}

// signL1 attaches the signed ClobAuth attestation as POLY_* headers.
func (c *Client) signL1(req *http.Request) error {
	if c.cfg.Signer == nil {
		return fmt.Errorf("polymarket: derive api key: no signer configured: %w", domain.ErrAuth)
	}
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.cfg.Signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req.Header.Set("POLY_ADDRESS", c.cfg.Signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))
	return nil
}

// deriveAPIKey performs the L1 auth flow through the CLOB dispatcher, so the
// derive call rides the same rate buckets and retry schedule as every other
// request. The sign hook attaches the attestation headers.
func (c *Client) deriveAPIKey(ctx context.Context) (*crypto.DerivedCreds, error) {
	if c.cfg.Signer == nil {
		return nil, fmt.Errorf("polymarket: derive api key: no signer configured: %w", domain.ErrAuth)
	}

	resp, err := c.clob.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/auth/derive-api-key",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket: derive api key: %w", err)
	}

	var out struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("polymarket: decode derive response: %w: %v", domain.ErrSerialization, err)
	}

	return &crypto.DerivedCreds{
		Key:        out.APIKey,
		Secret:     out.Secret,
		Passphrase: out.Passphrase,
	}, nil
}

// buildPayload converts a canonical order into the signed CLOB payload.
// Maker gives, taker receives: buys spend collateral for outcome tokens,
// sells the reverse. Amounts are 6-decimal fixed point.
func (c *Client) buildPayload(order domain.Order) (crypto.OrderPayload, error) {
	address := c.cfg.Signer.Address().Hex()

	quote := big.NewInt(int64(order.Price * order.Size * amountScale))
	base := big.NewInt(int64(order.Size * amountScale))

	payload := crypto.OrderPayload{
		Salt:       strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:      address,
		Signer:     address,
		Taker:      zeroAddress,
		TokenID:    order.TokenID,
		Expiration: "0",
		Nonce:      "0",
		FeeRateBps: "0",
	}

	switch order.Side {
	case domain.OrderSideBuy:
		payload.Side = 0
		payload.MakerAmount = quote.String()
		payload.TakerAmount = base.String()
	case domain.OrderSideSell:
		payload.Side = 1
		payload.MakerAmount = base.String()
		payload.TakerAmount = quote.String()
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: %w: side %q", domain.ErrValidation, order.Side)
	}

	return payload, nil
}

func validateOrder(order domain.Order) error {
	if order.TokenID == "" {
		return fmt.Errorf("polymarket: %w: missing token id", domain.ErrValidation)
	}
	if order.Price <= 0 || order.Price >= 1 {
		return fmt.Errorf("polymarket: %w: price %v outside (0,1)", domain.ErrValidation, order.Price)
	}
	if order.Size <= 0 {
		return fmt.Errorf("polymarket: %w: size %v", domain.ErrValidation, order.Size)
	}
	return nil
}
