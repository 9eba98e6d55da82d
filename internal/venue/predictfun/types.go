package predictfun

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// flexID unmarshals from a JSON number or string; the venue sends market
// identifiers both ways depending on endpoint.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// weiPrice unmarshals a price sent either as an 18-decimal wei string or a
// plain fractional number.
type weiPrice float64

func (p *weiPrice) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*p = weiPrice(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	plain, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	// Fractional strings are already prices; anything at or above 1 is wei.
	if plain < 1 {
		*p = weiPrice(plain)
		return nil
	}
	f, _ := new(big.Float).SetString(s)
	f.Quo(f, weiScale)
	v, _ = f.Float64()
	*p = weiPrice(v)
	return nil
}

type apiOutcome struct {
	Name      string `json:"name"`
	OnChainID string `json:"onChainId"`
}

type apiMarket struct {
	ID               flexID       `json:"id"`
	Question         string       `json:"question"`
	Title            string       `json:"title"`
	Slug             string       `json:"slug"`
	Status           string       `json:"status"` // "OPEN", "PAUSED", "RESOLVED"
	Outcomes         []apiOutcome `json:"outcomes"`
	DecimalPrecision int          `json:"decimalPrecision"`
	NegRisk          bool         `json:"isNegRisk"`
	YieldBearing     bool         `json:"isYieldBearing"`
	FeeRateBps       float64      `json:"feeRateBps"`
	Volume           float64      `json:"volume"`
	Liquidity        float64      `json:"liquidity"`
	CloseAt          string       `json:"closeAt"`
}

func (m *apiMarket) toDomain() domain.Market {
	question := m.Question
	if question == "" {
		question = m.Title
	}

	dm := domain.Market{
		ID:        string(m.ID),
		Venue:     VenueID,
		Question:  question,
		Volume:    m.Volume,
		Liquidity: m.Liquidity,
		TickSize:  0.01,
	}
	if m.DecimalPrecision > 0 {
		dm.TickSize = math.Pow(10, -float64(m.DecimalPrecision))
	}
	for _, o := range m.Outcomes {
		dm.Outcomes = append(dm.Outcomes, o.Name)
		dm.Tokens = append(dm.Tokens, domain.OutcomeToken{TokenID: o.OnChainID, Outcome: o.Name})
	}

	switch m.Status {
	case "RESOLVED":
		dm.Status = domain.MarketStatusResolved
	case "PAUSED":
		dm.Status = domain.MarketStatusClosed
	default:
		dm.Status = domain.MarketStatusOpen
	}

	if m.CloseAt != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseAt); err == nil {
			dm.CloseTime = t
		}
	}
	return dm
}

type apiBook struct {
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
}

func (b *apiBook) toDomain(assetID string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  assetID,
		AssetID:   assetID,
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range b.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
	}
	for _, lvl := range b.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
	}
	book.Normalize()
	return book
}

type apiOrder struct {
	Hash          string   `json:"hash"`
	OrderHash     string   `json:"orderHash"`
	ID            flexID   `json:"id"`
	MarketID      flexID   `json:"marketId"`
	TokenID       string   `json:"tokenId"`
	Side          string   `json:"side"` // "BUY" or "SELL"
	Status        string   `json:"status"`
	PricePerShare weiPrice `json:"pricePerShare"`
	Amount        float64  `json:"amount"`
	AmountFilled  float64  `json:"amountFilled"`
	CreatedAt     string   `json:"createdAt"`
}

func (a *apiOrder) toDomain() domain.Order {
	id := a.Hash
	if id == "" {
		id = a.OrderHash
	}
	if id == "" {
		id = string(a.ID)
	}

	o := domain.Order{
		ID:       id,
		Venue:    VenueID,
		MarketID: string(a.MarketID),
		TokenID:  a.TokenID,
		Type:     domain.OrderTypeGTC,
		Price:    float64(a.PricePerShare),
		Size:     a.Amount,
		Filled:   a.AmountFilled,
	}

	if a.Side == "SELL" {
		o.Side = domain.OrderSideSell
	} else {
		o.Side = domain.OrderSideBuy
	}

	switch a.Status {
	case "PENDING":
		o.Status = domain.OrderStatusPending
	case "OPEN", "LIVE", "ACTIVE":
		o.Status = domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		o.Status = domain.OrderStatusPartiallyFilled
	case "FILLED", "MATCHED":
		o.Status = domain.OrderStatusFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		o.Status = domain.OrderStatusCancelled
	case "INVALIDATED":
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
	MarketID     flexID  `json:"marketId"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentPrice float64 `json:"currentPrice"`
}

func (p *apiPosition) toDomain() domain.Position {
	return domain.Position{
		Venue:     VenueID,
		MarketID:  string(p.MarketID),
		Outcome:   p.Outcome,
		Size:      p.Size,
		AvgPrice:  p.AvgPrice,
		MarkPrice: p.CurrentPrice,
	}
}
