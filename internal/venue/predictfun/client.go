// Package predictfun adapts the Predict.fun CLOB to the canonical exchange
// contract. All requests carry the venue API key; sessions come from an
// EIP-191 signing-message exchange traded for a JWT, and orders are EIP-712
// signed against the yield-bearing CTF exchange on BNB chain.
package predictfun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/crypto"
	"github.com/gtg7784/dr-manhattan-go/internal/dispatch"
	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

const (
	VenueID = "predictfun"

	DefaultBaseURL = "https://api.predict.fun"

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// weiScale is the venue's share amount scale (18 decimals).
var (
	weiScale    = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	weiPerMicro = big.NewInt(1_000_000_000_000)
)

// OrderDomain returns the EIP-712 domain orders are signed under. Zero
// arguments select the BNB mainnet yield-bearing exchange.
func OrderDomain(chainID int64, exchange string) crypto.TypedDataDomain {
	if chainID == 0 {
		chainID = 56
	}
	if exchange == "" {
		exchange = "0x6bEb5a40C032AFc305961162d8204CDA16DECFa5"
	}
	return crypto.TypedDataDomain{
		Name:              "predict.fun CTF Exchange",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: exchange,
	}
}

// Config wires one Predict.fun client.
type Config struct {
	BaseURL string

	// APIKey is sent as x-api-key on every request, public reads included.
	APIKey string
	// PrivateKey is the hex account key; required for trading. The same key
	// backs both the JWT login and order signatures.
	PrivateKey string
	// Domain parameterizes the EIP-712 order domain, including the venue's
	// verifying contract.
	Domain crypto.TypedDataDomain

	// Retry overrides the dispatcher retry schedule.
	Retry dispatch.RetryPolicy

	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client implements domain.Exchange for Predict.fun.
type Client struct {
	cfg    Config
	logger *slog.Logger

	dispatcher *dispatch.Dispatcher
	auth       *crypto.MessageAuth
	signer     *crypto.TypedDataSigner
}

var _ domain.Exchange = (*Client)(nil)
var _ crypto.ChallengeExchanger = (*Client)(nil)

// New builds a Predict.fun client. The client itself serves as the challenge
// exchanger: the auth flow rides the same dispatcher as everything else,
// through the public-read bucket.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
			return nil, fmt.Errorf("predictfun: %w", err)
		}
		signer, err := crypto.NewTypedDataSigner(cfg.PrivateKey, cfg.Domain)
		if err != nil {
			return nil, fmt.Errorf("predictfun: %w", err)
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
func (c *Client) Name() string { return "Predict.fun" }

func (c *Client) Info() domain.ExchangeInfo {
	return domain.ExchangeInfo{ID: VenueID, Name: "Predict.fun"}
}

// sign attaches the API key to every request and the JWT to authenticated
// ones. The auth endpoints themselves get no bearer or Authenticate would
// re-enter itself through the dispatcher.
func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	if c.auth == nil || strings.HasPrefix(req.URL.Path, "/v1/auth") {
		return nil
	}
	cred, err := c.auth.Authenticate(ctx)
	if err != nil {
		return err
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	return nil
}

// reauth drops the cached JWT so the next attempt performs a fresh exchange.
func (c *Client) reauth(ctx context.Context) error {
	if c.auth == nil {
		return fmt.Errorf("predictfun: reauth: no account key configured: %w", domain.ErrAuth)
	}
	c.auth.Invalidate()
	_, err := c.auth.Authenticate(ctx)
	return err
}

// --------------------------------------------------------------------------
// ChallengeExchanger
// --------------------------------------------------------------------------

// Challenge fetches the venue's signing message.
func (c *Client) Challenge(ctx context.Context) (string, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/v1/auth/message",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("predictfun: decode auth message: %w: %v", domain.ErrSerialization, err)
	}
	return out.Data.Message, nil
}

// Login trades the signed message for a JWT. The venue does not report an
// expiry, so the credential is refreshed hourly.
func (c *Client) Login(ctx context.Context, address, message, signature string) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"signer":    address,
		"message":   message,
		"signature": signature,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("predictfun: encode login: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/v1/auth",
		Body:   body,
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("predictfun: decode login: %w: %v", domain.ErrSerialization, err)
	}
	return out.Data.Token, time.Now().Add(time.Hour), nil
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
	q.Set("first", strconv.Itoa(limit))

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/v1/markets?" + q.Encode(),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("predictfun: fetch markets: %w", err)
	}

	var out struct {
		Data []apiMarket `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("predictfun: decode markets: %w: %v", domain.ErrSerialization, err)
	}

	markets := make([]domain.Market, 0, len(out.Data))
	for i := range out.Data {
		m := out.Data[i].toDomain()
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
		Path:   "/v1/markets/" + url.PathEscape(marketID),
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("predictfun: fetch market %s: %w", marketID, err)
	}

	var out struct {
		Data apiMarket `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Market{}, fmt.Errorf("predictfun: decode market: %w: %v", domain.ErrSerialization, err)
	}
	return out.Data.toDomain(), nil
}

func (c *Client) FetchOrderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/v1/markets/" + url.PathEscape(assetID) + "/orderbook",
		Class:  domain.ClassPublicRead,
	})
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("predictfun: fetch orderbook %s: %w", assetID, err)
	}

	var out struct {
		Data apiBook `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Orderbook{}, fmt.Errorf("predictfun: decode orderbook: %w: %v", domain.ErrSerialization, err)
	}
	return out.Data.toDomain(assetID), nil
}

// CreateOrder signs and submits a CLOB order bound to the venue's exchange
// contract. Share amounts are 18-decimal wei strings.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if c.signer == nil {
		return domain.Order{}, fmt.Errorf("predictfun: create order: no account key configured: %w", domain.ErrAuth)
	}
	if order.TokenID == "" {
		return domain.Order{}, fmt.Errorf("predictfun: %w: missing token id", domain.ErrValidation)
	}
	if order.Price <= 0 || order.Price >= 1 {
		return domain.Order{}, fmt.Errorf("predictfun: %w: price %v outside (0,1)", domain.ErrValidation, order.Price)
	}
	if order.Size <= 0 {
		return domain.Order{}, fmt.Errorf("predictfun: %w: size %v", domain.ErrValidation, order.Size)
	}

	address := c.signer.Address().Hex()
	quote := toWei(order.Size * order.Price)
	base := toWei(order.Size)
	priceWei := toWei(order.Price)

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
		payload.MakerAmount = quote
		payload.TakerAmount = base
	} else {
		payload.Side = 1
		payload.MakerAmount = base
		payload.TakerAmount = quote
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: create order: %w", err)
	}
	order.Signature = sig

	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"pricePerShare": priceWei,
			"strategy":      "LIMIT",
			"slippageBps":   "0",
			"order": struct {
				crypto.OrderPayload
				Signature string `json:"signature"`
			}{payload, sig},
		},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: encode order: %w: %v", domain.ErrSerialization, err)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodPost,
		Path:   "/v1/orders",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: create order: %w", err)
	}

	var out struct {
		Data apiOrder `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: decode order response: %w: %v", domain.ErrSerialization, err)
	}

	placed := out.Data.toDomain()
	placed.ClientID = order.ClientID
	placed.Signature = sig
	if placed.MarketID == "" {
		placed.MarketID = order.MarketID
	}
	if placed.TokenID == "" {
		placed.TokenID = order.TokenID
	}
	return placed, nil
}

// CancelOrder cancels by order hash. The venue acknowledges without an order
// body, so the result is synthesized.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	body, err := json.Marshal(map[string]any{
		"orderHashes": []string{orderID},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: encode cancel: %w: %v", domain.ErrSerialization, err)
	}

	_, err = c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodDelete,
		Path:   "/v1/orders",
		Body:   body,
		Class:  domain.ClassOrderWrite,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: cancel order %s: %w", orderID, err)
	}

	return domain.Order{
		ID:        orderID,
		Venue:     VenueID,
		Status:    domain.OrderStatusCancelled,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/v1/orders/" + url.PathEscape(orderID),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: fetch order %s: %w", orderID, err)
	}

	var out struct {
		Data apiOrder `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("predictfun: decode order: %w: %v", domain.ErrSerialization, err)
	}
	return out.Data.toDomain(), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, params domain.FetchOrdersParams) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("status", "OPEN")
	if params.MarketID != "" {
		q.Set("marketId", params.MarketID)
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Method: http.MethodGet,
		Path:   "/v1/orders?" + q.Encode(),
		Class:  domain.ClassAuthRead,
	})
	if err != nil {
		return nil, fmt.Errorf("predictfun: fetch open orders: %w", err)
	}

	var out struct {
		Data []apiOrder `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("predictfun: decode orders: %w: %v", domain.ErrSerialization, err)
	}

	orders := make([]domain.Order, 0, len(out.Data))
	for i := range out.Data {
		orders = append(orders, out.Data[i].toDomain())
	}
	return orders, nil
}

func (c *Client) FetchPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	path := "/v1/positions"
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
		return nil, fmt.Errorf("predictfun: fetch positions: %w", err)
	}

	var out struct {
		Data []apiPosition `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("predictfun: decode positions: %w: %v", domain.ErrSerialization, err)
	}

	positions := make([]domain.Position, 0, len(out.Data))
	for i := range out.Data {
		positions = append(positions, out.Data[i].toDomain())
	}
	return positions, nil
}

// toWei renders v as an 18-decimal integer string. The value is rounded at
// micro resolution before scaling so float noise stays out of signed
// amounts, and the scaling runs on big.Int since wei overflows int64.
func toWei(v float64) string {
	micro := big.NewInt(int64(math.Round(v * 1e6)))
	return micro.Mul(micro, weiPerMicro).String()
}
