package opinion

import (
	"strconv"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

type apiMarket struct {
	MarketID   int64   `json:"market_id"`
	Title      string  `json:"market_title"`
	Status     string  `json:"status"` // "activated", "resolved", "closed"
	YesTokenID string  `json:"yes_token_id"`
	NoTokenID  string  `json:"no_token_id"`
	YesPrice   string  `json:"yes_price"`
	Volume     string  `json:"volume"`
	TickSize   string  `json:"min_tick_size"`
	CutoffAt   int64   `json:"cutoff_at"`
}

func (m *apiMarket) toDomain() domain.Market {
	dm := domain.Market{
		ID:       strconv.FormatInt(m.MarketID, 10),
		Venue:    VenueID,
		Question: m.Title,
		Outcomes: []string{"Yes", "No"},
		Tokens: []domain.OutcomeToken{
			{TokenID: m.YesTokenID, Outcome: "Yes"},
			{TokenID: m.NoTokenID, Outcome: "No"},
		},
		TickSize: 0.001,
	}

	if p, err := strconv.ParseFloat(m.YesPrice, 64); err == nil && p > 0 {
		dm.Prices = map[string]float64{"Yes": p, "No": 1 - p}
	}
	dm.Volume, _ = strconv.ParseFloat(m.Volume, 64)
	if ts, err := strconv.ParseFloat(m.TickSize, 64); err == nil && ts > 0 {
		dm.TickSize = ts
	}

	switch m.Status {
	case "activated":
		dm.Status = domain.MarketStatusOpen
	case "resolved":
		dm.Status = domain.MarketStatusResolved
	default:
		dm.Status = domain.MarketStatusClosed
	}

	if m.CutoffAt > 0 {
		dm.CloseTime = time.Unix(m.CutoffAt, 0).UTC()
	}
	return dm
}

type apiBook struct {
	Bids      [][2]string `json:"bids"` // [price, size] as decimal strings
	Asks      [][2]string `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

func (b *apiBook) toDomain(assetID string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  assetID,
		AssetID:   assetID,
		Timestamp: time.Now().UTC(),
	}
	if b.Timestamp > 0 {
		book.Timestamp = time.UnixMilli(b.Timestamp).UTC()
	}
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		s, _ := strconv.ParseFloat(lvl[1], 64)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		s, _ := strconv.ParseFloat(lvl[1], 64)
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: s})
	}
	book.Normalize()
	return book
}

type apiOrder struct {
	OrderID     string `json:"order_id"`
	MarketID    int64  `json:"market_id"`
	TokenID     string `json:"token_id"`
	Side        int    `json:"side"` // 0 buy, 1 sell
	Status      string `json:"status"`
	Price       string `json:"price"`
	OrigSize    string `json:"original_size"`
	MatchedSize string `json:"matched_size"`
	CreatedAt   int64  `json:"created_at"`
}

func (a *apiOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:       a.OrderID,
		Venue:    VenueID,
		MarketID: strconv.FormatInt(a.MarketID, 10),
		TokenID:  a.TokenID,
		Type:     domain.OrderTypeGTC,
	}

	if a.Side == 1 {
		o.Side = domain.OrderSideSell
	} else {
		o.Side = domain.OrderSideBuy
	}

	o.Price, _ = strconv.ParseFloat(a.Price, 64)
	o.Size, _ = strconv.ParseFloat(a.OrigSize, 64)
	o.Filled, _ = strconv.ParseFloat(a.MatchedSize, 64)

	switch a.Status {
	case "open", "live":
		if o.Filled > 0 {
			o.Status = domain.OrderStatusPartiallyFilled
		} else {
			o.Status = domain.OrderStatusOpen
		}
	case "filled", "matched":
		o.Status = domain.OrderStatusFilled
	case "cancelled", "canceled":
		o.Status = domain.OrderStatusCancelled
	case "rejected":
		o.Status = domain.OrderStatusRejected
	default:
		o.Status = domain.OrderStatusPending
	}

	if a.CreatedAt > 0 {
		o.CreatedAt = time.Unix(a.CreatedAt, 0).UTC()
	}
	return o
}

type apiPosition struct {
	MarketID  int64  `json:"market_id"`
	Outcome   string `json:"outcome"`
	Size      string `json:"size"`
	AvgPrice  string `json:"avg_price"`
	MarkPrice string `json:"latest_price"`
}

func (p *apiPosition) toDomain() domain.Position {
	pos := domain.Position{
		Venue:    VenueID,
		MarketID: strconv.FormatInt(p.MarketID, 10),
		Outcome:  p.Outcome,
	}
	pos.Size, _ = strconv.ParseFloat(p.Size, 64)
	pos.AvgPrice, _ = strconv.ParseFloat(p.AvgPrice, 64)
	pos.MarkPrice, _ = strconv.ParseFloat(p.MarkPrice, 64)
	return pos
}
