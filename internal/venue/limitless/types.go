package limitless

import (
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

type apiMarket struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Status      string   `json:"status"` // "FUNDED", "RESOLVED", "CLOSED"
	Outcomes    []string `json:"outcomes"`
	YesTokenID  string   `json:"yesTokenId"`
	NoTokenID   string   `json:"noTokenId"`
	YesPrice    float64  `json:"yesPrice"`
	Volume      float64  `json:"volumeFormatted,string"`
	Liquidity   float64  `json:"liquidityFormatted,string"`
	TickSize    float64  `json:"tickSize"`
	Deadline    string   `json:"deadline"`
	Expired     bool     `json:"expired"`
}

func (m *apiMarket) toDomain() domain.Market {
	outcomes := m.Outcomes
	if len(outcomes) == 0 {
		outcomes = []string{"Yes", "No"}
	}

	dm := domain.Market{
		ID:       m.ID,
		Venue:    VenueID,
		Question: m.Title,
		Outcomes: outcomes,
		Tokens: []domain.OutcomeToken{
			{TokenID: m.YesTokenID, Outcome: outcomes[0]},
		},
		Volume:    m.Volume,
		Liquidity: m.Liquidity,
		TickSize:  m.TickSize,
	}
	if len(outcomes) > 1 {
		dm.Tokens = append(dm.Tokens, domain.OutcomeToken{TokenID: m.NoTokenID, Outcome: outcomes[1]})
	}
	if dm.TickSize == 0 {
		dm.TickSize = 0.001
	}
	if m.YesPrice > 0 {
		dm.Prices = map[string]float64{outcomes[0]: m.YesPrice}
		if len(outcomes) > 1 {
			dm.Prices[outcomes[1]] = 1 - m.YesPrice
		}
	}

	switch m.Status {
	case "RESOLVED":
		dm.Status = domain.MarketStatusResolved
	case "FUNDED", "ACTIVE":
		if m.Expired {
			dm.Status = domain.MarketStatusClosed
		} else {
			dm.Status = domain.MarketStatusOpen
		}
	default:
		dm.Status = domain.MarketStatusClosed
	}

	if m.Deadline != "" {
		if t, err := time.Parse(time.RFC3339, m.Deadline); err == nil {
			dm.CloseTime = t
		}
	}
	return dm
}

type apiBook struct {
	Bids         []apiBookLevel `json:"bids"`
	Asks         []apiBookLevel `json:"asks"`
	LastTradeTS  int64          `json:"lastTradeTimestamp"`
	AdjustedMid  float64        `json:"adjustedMidpoint"`
}

type apiBookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (b *apiBook) toDomain(assetID string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  assetID,
		AssetID:   assetID,
		Timestamp: time.Now().UTC(),
	}
	if b.LastTradeTS > 0 {
		book.Timestamp = time.UnixMilli(b.LastTradeTS).UTC()
	}
	for _, lvl := range b.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
	}
	for _, lvl := range b.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
	}
	book.Normalize()
	return book
}

type apiOrder struct {
	ID          string  `json:"id"`
	MarketID    string  `json:"marketId"`
	TokenID     string  `json:"tokenId"`
	Side        string  `json:"side"` // "BUY" or "SELL"
	Status      string  `json:"status"`
	Price       float64 `json:"price"`
	InitialSize float64 `json:"originalSize"`
	FilledSize  float64 `json:"matchedSize"`
	CreatedAt   string  `json:"createdAt"`
}

func (a *apiOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:       a.ID,
		Venue:    VenueID,
		MarketID: a.MarketID,
		TokenID:  a.TokenID,
		Type:     domain.OrderTypeGTC,
		Price:    a.Price,
		Size:     a.InitialSize,
		Filled:   a.FilledSize,
	}

	if a.Side == "SELL" {
		o.Side = domain.OrderSideSell
	} else {
		o.Side = domain.OrderSideBuy
	}

	switch a.Status {
	case "LIVE", "OPEN":
		if o.Filled > 0 {
			o.Status = domain.OrderStatusPartiallyFilled
		} else {
			o.Status = domain.OrderStatusOpen
		}
	case "MATCHED", "FILLED":
		o.Status = domain.OrderStatusFilled
	case "CANCELLED", "CANCELED":
		o.Status = domain.OrderStatusCancelled
	case "REJECTED":
		o.Status = domain.OrderStatusRejected
	default:
		o.Status = domain.OrderStatusPending
	}

	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	return o
}

type apiPosition struct {
	MarketID  string  `json:"marketId"`
	Outcome   string  `json:"outcome"`
	Size      float64 `json:"size"`
	AvgPrice  float64 `json:"avgPrice"`
	MarkPrice float64 `json:"latestPrice"`
}

func (p *apiPosition) toDomain() domain.Position {
	return domain.Position{
		Venue:     VenueID,
		MarketID:  p.MarketID,
		Outcome:   p.Outcome,
		Size:      p.Size,
		AvgPrice:  p.AvgPrice,
		MarkPrice: p.MarkPrice,
	}
}
