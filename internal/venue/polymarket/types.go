package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

type apiMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	ConditionID   string     `json:"condition_id"`
	Slug          string     `json:"slug"`
	Active        flexBool   `json:"active"`
	Closed        bool       `json:"closed"`
	Outcomes      string     `json:"outcomes"`      // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string     `json:"outcomePrices"` // JSON-encoded, e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs  string     `json:"clobTokenIds"`  // JSON-encoded token id list
	Tokens        []apiToken `json:"tokens"`
	Volume        string     `json:"volume"`
	Liquidity     string     `json:"liquidity"`
	TickSize      string     `json:"minimum_tick_size"`
	EndDateISO    string     `json:"end_date_iso"`
}

type apiToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

func (m *apiMarket) toDomain() domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		Venue:    VenueID,
		Question: m.Question,
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil || len(outcomes) == 0 {
		outcomes = []string{"Yes", "No"}
	}
	dm.Outcomes = outcomes

	var tokenIDs []string
	_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs)
	for i, out := range outcomes {
		tok := domain.OutcomeToken{Outcome: out}
		if i < len(tokenIDs) {
			tok.TokenID = tokenIDs[i]
		}
		dm.Tokens = append(dm.Tokens, tok)
	}
	// The CLOB market payload carries explicit token objects instead.
	for i, t := range m.Tokens {
		if i < len(dm.Tokens) && dm.Tokens[i].TokenID == "" {
			dm.Tokens[i].TokenID = t.TokenID
		}
	}

	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err == nil {
		dm.Prices = make(map[string]float64, len(prices))
		for i, p := range prices {
			if i >= len(outcomes) {
				break
			}
			if v, err := strconv.ParseFloat(p, 64); err == nil {
				dm.Prices[outcomes[i]] = v
			}
		}
	}

	dm.Volume, _ = strconv.ParseFloat(m.Volume, 64)
	dm.Liquidity, _ = strconv.ParseFloat(m.Liquidity, 64)
	if ts, err := strconv.ParseFloat(m.TickSize, 64); err == nil && ts > 0 {
		dm.TickSize = ts
	} else {
		dm.TickSize = 0.01
	}

	switch {
	case m.Closed:
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active):
		dm.Status = domain.MarketStatusOpen
	default:
		dm.Status = domain.MarketStatusResolved
	}

	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.CloseTime = t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

type apiBook struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []apiBookLevel `json:"bids"`
	Asks      []apiBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

type apiBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (b *apiBook) toDomain() domain.Orderbook {
	book := domain.Orderbook{
		MarketID: b.Market,
		AssetID:  b.AssetID,
	}
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: s})
	}
	book.Timestamp = parseMsecTimestamp(b.Timestamp)
	book.Normalize()
	return book
}

type apiOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	MarketID     string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OrderType    string `json:"order_type"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Signature    string `json:"signature"`
	CreatedAt    int64  `json:"created_at"`
}

func (a *apiOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		Venue:     VenueID,
		MarketID:  a.MarketID,
		TokenID:   a.AssetID,
		Signature: a.Signature,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.OrderType {
	case "GTD":
		o.Type = domain.OrderTypeGTD
	case "FOK":
		o.Type = domain.OrderTypeFOK
	case "FAK":
		o.Type = domain.OrderTypeFAK
	default:
		o.Type = domain.OrderTypeGTC
	}

	o.Status = mapOrderStatus(a.Status)
	o.Price, _ = strconv.ParseFloat(a.Price, 64)
	o.Size, _ = strconv.ParseFloat(a.OriginalSize, 64)
	o.Filled, _ = strconv.ParseFloat(a.SizeMatched, 64)
	if o.Filled > 0 && o.Status == domain.OrderStatusOpen {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	if a.CreatedAt > 0 {
		o.CreatedAt = time.Unix(a.CreatedAt, 0).UTC()
	}
	return o
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "live", "open":
		return domain.OrderStatusOpen
	case "matched", "filled":
		return domain.OrderStatusFilled
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "rejected", "unmatched":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

// apiOrderResult is the response from placing an order via the CLOB API.
type apiOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

type apiPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
}

func (p *apiPosition) toDomain() domain.Position {
	return domain.Position{
		Venue:     VenueID,
		MarketID:  p.ConditionID,
		Outcome:   p.Outcome,
		Size:      p.Size,
		AvgPrice:  p.AvgPrice,
		MarkPrice: safeDiv(p.CurrentValue, p.Size),
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// parseMsecTimestamp accepts epoch milliseconds, epoch seconds, or RFC3339.
func parseMsecTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
