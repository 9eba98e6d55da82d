// Package opinion adapts the Opinion CLOB API to the canonical exchange
// contract. Requests authenticate with a static API key plus the trading
// multisig address; orders are EIP-712 signed by the operator key on behalf
// of the multisig (safe signature type). Every response arrives in an errno
// envelope, decoded before the payload is touched.
package opinion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

const (
	VenueID = "opinion"

	DefaultBaseURL = "https://proapi.opinionlabs.xyz"

	zeroAddress = "0x0000000000000000000000000000000000000000"
	amountScale = 1_000_000

	// safeSignature marks signatures produced by an EOA operator on behalf
	// of a multisig maker.
	safeSignature = 2
)

// OrderDomain returns the EIP-712 domain orders are signed under. Zero
// arguments select the BNB chain exchange.
func OrderDomain(chainID int64, exchange string) crypto.TypedDataDomain {
	if chainID == 0 {
		chainID = 56
	}
	return crypto.TypedDataDomain{
		Name:              "Opinion CTF Exchange",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: exchange,
	}
}

// Config wires one Opinion client.
type Config struct {
	BaseURL string

	APIKey string
	// MultiSigAddress is the trading wallet the API key is bound to.
	MultiSigAddress string

	// PrivateKey is the operator key used for order signatures. Optional;
	// read paths work without it.
	PrivateKey string
	// Domain parameterizes the EIP-712 order domain.
	Domain crypto.TypedDataDomain

	// Retry overrides the dispatcher retry schedule.
	Retry dispatch.RetryPolicy

	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client implements domain.Exchange for Opinion.
type Client struct {
	cfg    Config
	logger *slog.Logger

	dispatcher *dispatch.Dispatcher
	auth       *crypto.APIKeyMultiSig
	signer     *crypto.TypedDataSigner
}

var _ domain.Exchange = (*Client)(nil)

// New builds an Opinion client, validating the API key and multisig address
// up front so misconfiguration fails at construction instead of on the
// first request.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := crypto.NewAPIKeyMultiSig(cfg.APIKey, cfg.MultiSigAddress)
	if err != nil {
		return nil, fmt.Errorf("opinion: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With(slog.String("venue", VenueID)),
		auth:   auth,
	}

	if cfg.PrivateKey != "" {
		signer, err := crypto.NewTypedDataSigner(cfg.PrivateKey, cfg.Domain)
		if err != nil {
			return nil, fmt.Errorf("opinion: %w", err)
		}
		c.signer = signer
	}

	c.dispatcher = dispatch.New(VenueID, cfg.BaseURL, cfg.Limiter, dispatch.Options{
		Sign:        c.sign,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Logger:      logger,
	})
	return c, nil
}

func (c *Client) ID() string   { return VenueID }
func (c *Client) Name() string { return "Opinion" }

func (c *Client) Info() domain.ExchangeInfo {
	return domain.ExchangeInfo{ID: VenueID, Name: "Opinion", HasWebsocket: false}
}

func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	cred, err := c.auth.Authenticate(ctx)
	if err != nil {
		return err
	}
	for k, v := range cred.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// envelope is the errno wrapper around every Opinion response. errno 0 is
// success; anything else maps to a canonical error before the result is
// decoded.
type envelope struct {
	Errno  int             `json:"errno"`
	ErrMsg string          `json:"errmsg"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, req dispatch.Request, out any) error {
	resp, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("opinion: decode envelope: %w: %v", domain.ErrSerialization, err)
	}
	if env.Errno != 0 {
		return fmt.Errorf("opinion: errno %d: %s: %w", env.Errno, env.ErrMsg, classifyErrno(env.Errno))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("opinion: decode result: %w: %v", domain.ErrSerialization, err)
	}
	return nil
}

// classifyErrno maps venue error codes to canonical kinds. Auth codes are
// 1xx, validation 2xx, rejection 3xx in the venue's scheme; unknown codes
// count as rejections.
func classifyErrno(errno int) error {
	switch {
	case errno >= 100 && errno < 200:
		return domain.ErrAuth
	case errno >= 200 && errno < 300:
		return domain.ErrValidation
	default:
		return domain.ErrExchangeRejected
	}
}

func (c *Client) FetchMarkets(ctx context.Context, params domain.FetchMarketsParams) ([]domain.Market, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))
	if params.ActiveOnly {
		q.Set("status", "activated")
	}

	var out struct {
		List []apiMarket `json:"list"`
	}
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/openapi/market/list?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("opinion: fetch markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(out.List))
	for i := range out.List {
		markets = append(markets, out.List[i].toDomain())
	}
	return markets, nil
}

func (c *Client) FetchMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var out apiMarket
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/openapi/market/" + url.PathEscape(marketID),
		Class:  domain.ClassPublicRead,
	}, &out)
	if err != nil {
		return domain.Market{}, fmt.Errorf("opinion: fetch market %s: %w", marketID, err)
	}
	return out.toDomain(), nil
}

func (c *Client) FetchOrderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	q := url.Values{}
	q.Set("token_id", assetID)

	var out apiBook
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/openapi/orderbook?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	}, &out)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("opinion: fetch orderbook %s: %w", assetID, err)
	}
	return out.toDomain(assetID), nil
}

// CreateOrder signs on behalf of the multisig and submits. Maker is the
// multisig; the operator key signs with the safe signature type.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if c.signer == nil {
		return domain.Order{}, fmt.Errorf("opinion: create order: no operator key configured: %w", domain.ErrAuth)
	}
	if order.TokenID == "" {
		return domain.Order{}, fmt.Errorf("opinion: %w: missing token id", domain.ErrValidation)
	}
	if order.Price <= 0 || order.Price >= 1 {
		return domain.Order{}, fmt.Errorf("opinion: %w: price %v outside (0,1)", domain.ErrValidation, order.Price)
	}
	if order.Size <= 0 {
		return domain.Order{}, fmt.Errorf("opinion: %w: size %v", domain.ErrValidation, order.Size)
	}

	quote := big.NewInt(int64(order.Price * order.Size * amountScale))
	base := big.NewInt(int64(order.Size * amountScale))

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         c.auth.MultiSigAddress(),
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       order.TokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: safeSignature,
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
		return domain.Order{}, fmt.Errorf("opinion: create order: %w", err)
	}
	order.Signature = sig

	body, err := json.Marshal(map[string]any{
		"order": struct {
			crypto.OrderPayload
			Signature string `json:"signature"`
		}{payload, sig},
		"market_id":  order.MarketID,
		"order_type": string(order.Type),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("opinion: encode order: %w: %v", domain.ErrSerialization, err)
	}

	var out apiOrder
	err = c.call(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/openapi/order",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	}, &out)
	if err != nil {
		return domain.Order{}, fmt.Errorf("opinion: create order: %w", err)
	}

	placed := out.toDomain()
	placed.ClientID = order.ClientID
	placed.Signature = sig
	return placed, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	body, _ := json.Marshal(map[string]string{"order_id": orderID})

	err := c.call(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/openapi/order/cancel",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	}, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("opinion: cancel order %s: %w", orderID, err)
	}

	return domain.Order{
		ID:        orderID,
		Venue:     VenueID,
		Status:    domain.OrderStatusCancelled,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var out apiOrder
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/openapi/order/" + url.PathEscape(orderID),
		Class:  domain.ClassAuthRead,
	}, &out)
	if err != nil {
		return domain.Order{}, fmt.Errorf("opinion: fetch order %s: %w", orderID, err)
	}
	return out.toDomain(), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, params domain.FetchOrdersParams) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("status", "open")
	if params.MarketID != "" {
		q.Set("market_id", params.MarketID)
	}

	var out struct {
		List []apiOrder `json:"list"`
	}
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/openapi/order/list?" + q.Encode(),
		Class:  domain.ClassAuthRead,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("opinion: fetch open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(out.List))
	for i := range out.List {
		orders = append(orders, out.List[i].toDomain())
	}
	return orders, nil
}

func (c *Client) FetchPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	q := url.Values{}
	if marketID != "" {
		q.Set("market_id", marketID)
	}
	path := "/openapi/position/list"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		List []apiPosition `json:"list"`
	}
	err := c.call(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   path,
		Class:  domain.ClassAuthRead,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("opinion: fetch positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(out.List))
	for i := range out.List {
		positions = append(positions, out.List[i].toDomain())
	}
	return positions, nil
}
