package kalshi

import (
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

type apiMarket struct {
	Ticker       string  `json:"ticker"`
	EventTicker  string  `json:"event_ticker"`
	Title        string  `json:"title"`
	Status       string  `json:"status"` // "open", "closed", "settled"
	YesBid       int64   `json:"yes_bid"`
	YesAsk       int64   `json:"yes_ask"`
	NoBid        int64   `json:"no_bid"`
	NoAsk        int64   `json:"no_ask"`
	LastPrice    int64   `json:"last_price"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	Liquidity    int64   `json:"liquidity"`
	TickSize     int64   `json:"tick_size"`
	Result       string  `json:"result"` // "yes", "no", "" (unsettled)
	CloseTime    string  `json:"close_time"`
}

type apiMarketsResponse struct {
	Markets []apiMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

type apiMarketResponse struct {
	Market apiMarket `json:"market"`
}

// centsToPrice converts Kalshi's 1-99 cent prices to canonical 0-1 prices.
func centsToPrice(cents int64) float64 {
	return float64(cents) / 100
}

func priceToCents(price float64) int64 {
	return int64(price*100 + 0.5)
}

func (m *apiMarket) toDomain() domain.Market {
	dm := domain.Market{
		ID:       m.Ticker,
		Venue:    VenueID,
		Question: m.Title,
		Outcomes: []string{"Yes", "No"},
		Tokens: []domain.OutcomeToken{
			{TokenID: m.Ticker, Outcome: "Yes"},
			{TokenID: m.Ticker, Outcome: "No"},
		},
		Prices: map[string]float64{
			"Yes": centsToPrice(m.LastPrice),
			"No":  1 - centsToPrice(m.LastPrice),
		},
		Volume:    float64(m.Volume),
		Liquidity: float64(m.Liquidity) / 100,
		TickSize:  0.01,
	}
	if m.TickSize > 0 {
		dm.TickSize = centsToPrice(m.TickSize)
	}

	switch m.Status {
	case "open", "active":
		dm.Status = domain.MarketStatusOpen
	case "settled", "finalized":
		dm.Status = domain.MarketStatusResolved
	default:
		dm.Status = domain.MarketStatusClosed
	}

	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			dm.CloseTime = t
		}
	}
	return dm
}

// apiOrderbook carries both sides as resting yes/no bids in cents. The
// canonical book is quoted in Yes terms: a resting No bid at q cents is an
// offer to sell Yes at 100-q.
type apiOrderbook struct {
	Orderbook struct {
		Yes [][2]int64 `json:"yes"` // [price_cents, quantity]
		No  [][2]int64 `json:"no"`
	} `json:"orderbook"`
}

func (b *apiOrderbook) toDomain(ticker string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  ticker,
		AssetID:   ticker,
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range b.Orderbook.Yes {
		book.Bids = append(book.Bids, domain.PriceLevel{
			Price: centsToPrice(lvl[0]),
			Size:  float64(lvl[1]),
		})
	}
	for _, lvl := range b.Orderbook.No {
		book.Asks = append(book.Asks, domain.PriceLevel{
			Price: 1 - centsToPrice(lvl[0]),
			Size:  float64(lvl[1]),
		})
	}
	book.Normalize()
	return book
}

type apiOrderRequest struct {
	Ticker     string `json:"ticker"`
	Action     string `json:"action"` // "buy" or "sell"
	Side       string `json:"side"`   // "yes" or "no"
	Type       string `json:"type"`   // "limit" or "market"
	Count      int64  `json:"count"`
	YesPrice   *int64 `json:"yes_price,omitempty"`
	Expiration *int64 `json:"expiration_ts,omitempty"`
	ClientID   string `json:"client_order_id,omitempty"`
}

type apiOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	InitialCount   int64  `json:"initial_count"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	MakerFillCount int64  `json:"maker_fill_count"`
	PlacedTime     string `json:"created_time"`
	LastUpdateTime string `json:"last_update_time"`
}

type apiOrderResponse struct {
	Order apiOrder `json:"order"`
}

type apiOrdersResponse struct {
	Orders []apiOrder `json:"orders"`
	Cursor string     `json:"cursor"`
}

func (a *apiOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:       a.OrderID,
		ClientID: a.ClientOrderID,
		Venue:    VenueID,
		MarketID: a.Ticker,
		TokenID:  a.Ticker,
		Outcome:  "Yes",
		Type:     domain.OrderTypeGTC,
		Price:    centsToPrice(a.YesPrice),
	}
	if a.Side == "no" {
		o.Outcome = "No"
		o.Price = 1 - o.Price
	}

	switch a.Action {
	case "sell":
		o.Side = domain.OrderSideSell
	default:
		o.Side = domain.OrderSideBuy
	}

	o.Size = float64(a.InitialCount)
	o.Filled = float64(a.TakerFillCount + a.MakerFillCount)
	if o.Size == 0 && a.RemainingCount > 0 {
		o.Size = o.Filled + float64(a.RemainingCount)
	}

	switch a.Status {
	case "resting":
		if o.Filled > 0 {
			o.Status = domain.OrderStatusPartiallyFilled
		} else {
			o.Status = domain.OrderStatusOpen
		}
	case "executed":
		o.Status = domain.OrderStatusFilled
	case "canceled", "cancelled":
		o.Status = domain.OrderStatusCancelled
	case "pending":
		o.Status = domain.OrderStatusPending
	default:
		o.Status = domain.OrderStatusPending
	}

	if t, err := time.Parse(time.RFC3339, a.PlacedTime); err == nil {
		o.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, a.LastUpdateTime); err == nil {
		o.UpdatedAt = t
	}
	return o
}

type apiPosition struct {
	Ticker           string `json:"ticker"`
	Position         int64  `json:"position"` // signed contracts, yes positive
	MarketExposure   int64  `json:"market_exposure_cents"`
	RealizedPnL      int64  `json:"realized_pnl_cents"`
	TotalTradedCents int64  `json:"total_traded_cents"`
}

type apiPositionsResponse struct {
	MarketPositions []apiPosition `json:"market_positions"`
	Cursor          string        `json:"cursor"`
}

func (p *apiPosition) toDomain() domain.Position {
	pos := domain.Position{
		Venue:    VenueID,
		MarketID: p.Ticker,
		Outcome:  "Yes",
		Size:     float64(p.Position),
	}
	if p.Position < 0 {
		pos.Outcome = "No"
		pos.Size = -pos.Size
	}
	if pos.Size > 0 {
		pos.AvgPrice = float64(p.TotalTradedCents) / 100 / pos.Size
	}
	return pos
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
