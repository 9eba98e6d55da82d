// Package limitless adapts the Limitless Exchange CLOB to the canonical
// exchange contract. Sessions come from an EIP-191 signing-message exchange
// traded for a bearer token; orders are EIP-712 signed against the venue's
// exchange contract.
package limitless

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
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

const (
	VenueID = "limitless"

	DefaultBaseURL = "https://api.limitless.exchange"
	DefaultWSURL   = "wss://ws.limitless.exchange"

	zeroAddress = "0x0000000000000000000000000000000000000000"
	amountScale = 1_000_000
)

// OrderDomain returns the EIP-712 domain orders are signed under. Zero
// arguments select the Base mainnet exchange.
func OrderDomain(chainID int64, exchange string) crypto.TypedDataDomain {
	if chainID == 0 {
		chainID = 8453
	}
	return crypto.TypedDataDomain{
		Name:              "Limitless CTF Exchange",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: exchange,
	}
}

// Config wires one Limitless client.
type Config struct {
	BaseURL string
	WSURL   string

	// PrivateKey is the hex account key; required for trading. The same key
	// backs both the session login and order signatures.
	PrivateKey string
	// Domain parameterizes the EIP-712 order domain, including the venue's
	// verifying contract.
	Domain crypto.TypedDataDomain

	// Stream tunes websocket reconnection; the zero value uses defaults.
	Stream stream.Tuning
	// Retry overrides the dispatcher retry schedule.
	Retry dispatch.RetryPolicy

	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client implements domain.Exchange for Limitless.
type Client struct {
	cfg    Config
	logger *slog.Logger

	dispatcher *dispatch.Dispatcher
	auth       *crypto.MessageAuth
	signer     *crypto.TypedDataSigner
}

var _ domain.Exchange = (*Client)(nil)
var _ crypto.ChallengeExchanger = (*Client)(nil)

// New builds a Limitless client. The client itself serves as the challenge
// exchanger: the auth flow rides the same dispatcher as everything else,
// through the public-read bucket.
func New(cfg Config) (*Client, error) {
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

	if cfg.PrivateKey != "" {
		auth, err := crypto.NewMessageAuth(cfg.PrivateKey, c)
		if err != nil {
			return nil, fmt.Errorf("limitless: %w", err)
		}
		signer, err := crypto.NewTypedDataSigner(cfg.PrivateKey, cfg.Domain)
		if err != nil {
			return nil, fmt.Errorf("limitless: %w", err)
		}
		c.auth = auth
		c.signer = signer
	}

	c.dispatcher = dispatch.New(VenueID, cfg.BaseURL, cfg.Limiter, dispatch.Options{
		Sign:        c.sign,
		Reauth:      c.reauth,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Logger:      logger,
	})
	return c, nil
}

func (c *Client) ID() string   { return VenueID }
func (c *Client) Name() string { return "Limitless" }

func (c *Client) Info() domain.ExchangeInfo {
	return domain.ExchangeInfo{ID: VenueID, Name: "Limitless", HasWebsocket: true}
}

// sign attaches the bearer credential to authenticated requests. The auth
// endpoints themselves stay unsigned or Authenticate would re-enter itself
// through the dispatcher.
func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	if c.auth == nil || strings.HasPrefix(req.URL.Path, "/auth/") {
		return nil
	}
	cred, err := c.auth.Authenticate(ctx)
	if err != nil {
		return err
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	for k, v := range cred.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// reauth drops the cached session so the next attempt performs a fresh
// challenge exchange.
func (c *Client) reauth(ctx context.Context) error {
	if c.auth == nil {
		return fmt.Errorf("limitless: reauth: no account key configured: %w", domain.ErrAuth)
	}
	c.auth.Invalidate()
	_, err := c.auth.Authenticate(ctx)
	return err
}

// --------------------------------------------------------------------------
// ChallengeExchanger
// --------------------------------------------------------------------------

// Challenge fetches the venue's signing message. Unauthenticated.
func (c *Client) Challenge(ctx context.Context) (string, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/auth/signing-message",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		SigningMessage string `json:"signingMessage"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		// Some deployments return the raw string body.
		return string(resp.Body), nil
	}
	return out.SigningMessage, nil
}

// Login trades the signed message for a bearer session token.
func (c *Client) Login(ctx context.Context, address, message, signature string) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"account":        address,
		"signingMessage": message,
		"signature":      signature,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("limitless: encode login: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   body,
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	var out struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("limitless: decode login: %w: %v", domain.ErrSerialization, err)
	}

	expires := time.Now().Add(time.Hour)
	if out.ExpiresAt > 0 {
		expires = time.Unix(out.ExpiresAt, 0)
	}
	return out.Token, expires, nil
}

// --------------------------------------------------------------------------
// Exchange operations
// --------------------------------------------------------------------------

func (c *Client) FetchMarkets(ctx context.Context, params domain.FetchMarketsParams) ([]domain.Market, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("limitless: fetch markets: %w", err)
	}

	var raw []apiMarket
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		var wrapped struct {
			Markets []apiMarket `json:"markets"`
		}
		if err := json.Unmarshal(resp.Body, &wrapped); err != nil {
			return nil, fmt.Errorf("limitless: decode markets: %w: %v", domain.ErrSerialization, err)
		}
		raw = wrapped.Markets
	}

	markets := make([]domain.Market, 0, len(raw))
	for i := range raw {
		m := raw[i].toDomain()
		if params.ActiveOnly && !m.IsOpen() {
			continue
		}
		markets = append(markets, m)
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
		return domain.Market{}, fmt.Errorf("limitless: fetch market %s: %w", marketID, err)
	}

	var raw apiMarket
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return domain.Market{}, fmt.Errorf("limitless: decode market: %w: %v", domain.ErrSerialization, err)
	}
	return raw.toDomain(), nil
}

func (c *Client) FetchOrderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/markets/" + url.PathEscape(assetID) + "/orderbook",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("limitless: fetch orderbook %s: %w", assetID, err)
	}

	var raw apiBook
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return domain.Orderbook{}, fmt.Errorf("limitless: decode orderbook: %w: %v", domain.ErrSerialization, err)
	}
	return raw.toDomain(assetID), nil
}

// CreateOrder signs and submits a CLOB order bound to the venue's exchange
// contract.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if c.signer == nil {
		return domain.Order{}, fmt.Errorf("limitless: create order: no account key configured: %w", domain.ErrAuth)
	}
	if order.TokenID == "" {
		return domain.Order{}, fmt.Errorf("limitless: %w: missing token id", domain.ErrValidation)
	}
	if order.Price <= 0 || order.Price >= 1 {
		return domain.Order{}, fmt.Errorf("limitless: %w: price %v outside (0,1)", domain.ErrValidation, order.Price)
	}
	if order.Size <= 0 {
		return domain.Order{}, fmt.Errorf("limitless: %w: size %v", domain.ErrValidation, order.Size)
	}

	address := c.signer.Address().Hex()
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
	if order.Side == domain.OrderSideBuy {
		payload.Side = 0
		payload.MakerAmount = quote.String()
		payload.TakerAmount = base.String()
	} else {
		payload.Side = 1
		payload.MakerAmount = base.String()
		payload.TakerAmount = quote.String()
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("limitless: create order: %w", err)
	}
	order.Signature = sig

	body, err := json.Marshal(map[string]any{
		"order": struct {
			crypto.OrderPayload
			Signature string `json:"signature"`
		}{payload, sig},
		"ownerId":   address,
		"orderType": string(order.Type),
		"marketId":  order.MarketID,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("limitless: encode order: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/orders",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("limitless: create order: %w", err)
	}

	var out apiOrder
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("limitless: decode order response: %w: %v", domain.ErrSerialization, err)
	}

	placed := out.toDomain()
	placed.ClientID = order.ClientID
	placed.Signature = sig
	return placed, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodDelete,
		Path:   "/orders/" + url.PathEscape(orderID),
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("limitless: cancel order %s: %w", orderID, err)
	}

	var out apiOrder
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{
			ID:        orderID,
			Venue:     VenueID,
			Status:    domain.OrderStatusCancelled,
			UpdatedAt: time.Now().UTC(),
		}, nil
	}
	return out.toDomain(), nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/orders/" + url.PathEscape(orderID),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("limitless: fetch order %s: %w", orderID, err)
	}

	var out apiOrder
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("limitless: decode order: %w: %v", domain.ErrSerialization, err)
	}
	return out.toDomain(), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, params domain.FetchOrdersParams) ([]domain.Order, error) {
	path := "/orders"
	if params.MarketID != "" {
		q := url.Values{}
		q.Set("marketId", params.MarketID)
		path += "?" + q.Encode()
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("limitless: fetch open orders: %w", err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("limitless: decode orders: %w: %v", domain.ErrSerialization, err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, raw[i].toDomain())
	}
	return orders, nil
}

func (c *Client) FetchPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	path := "/positions"
	if marketID != "" {
		q := url.Values{}
		q.Set("marketId", marketID)
		path += "?" + q.Encode()
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("limitless: fetch positions: %w", err)
	}

	var raw []apiPosition
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("limitless: decode positions: %w: %v", domain.ErrSerialization, err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for i := range raw {
		positions = append(positions, raw[i].toDomain())
	}
	return positions, nil
}
