package domain

import "context"

// EndpointClass buckets venue endpoints for rate-limiting purposes. Each
// (venue, class) pair gets its own token bucket; tokens are never lent
// across buckets.
type EndpointClass string

const (
	ClassPublicRead EndpointClass = "public-read"
	ClassAuthRead   EndpointClass = "authenticated-read"
	ClassOrderWrite EndpointClass = "order-write"
)

// FetchMarketsParams narrows a market listing request.
type FetchMarketsParams struct {
	Limit      int
	ActiveOnly bool
}

// FetchOrdersParams narrows an open-orders request.
type FetchOrdersParams struct {
	MarketID string
}

// Exchange is the venue adapter contract. Adapters supply endpoint paths and
// JSON mappings; the cross-cutting concerns (signing, rate limiting, retry,
// stream normalization) are delegated to the core.
type Exchange interface {
	ID() string
	Name() string

	FetchMarkets(ctx context.Context, params FetchMarketsParams) ([]Market, error)
	FetchMarket(ctx context.Context, marketID string) (Market, error)
	FetchOrderbook(ctx context.Context, assetID string) (Orderbook, error)

	CreateOrder(ctx context.Context, order Order) (Order, error)
	CancelOrder(ctx context.Context, orderID string) (Order, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
	FetchOpenOrders(ctx context.Context, params FetchOrdersParams) ([]Order, error)
	FetchPositions(ctx context.Context, marketID string) ([]Position, error)
}

// ExchangeInfo describes an adapter's capability surface.
type ExchangeInfo struct {
	ID           string
	Name         string
	HasWebsocket bool
}

// RateLimiter is the admission-control contract the dispatcher depends on.
type RateLimiter interface {
	// Acquire blocks until a token for class is available or ctx is done.
	Acquire(ctx context.Context, class EndpointClass) error
	// TryAcquire consumes a token if one is available right now.
	TryAcquire(class EndpointClass) bool
}

// Authenticator produces the credential a venue requires. Public-only
// schemes return an empty credential.
type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}
