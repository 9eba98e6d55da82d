package kalshi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

type wsCommand struct {
	ID     int64    `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// wsEnvelope wraps every inbound frame; seq is strictly consecutive per
// subscription and drives gap detection.
type wsEnvelope struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "trade"
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSnapshot struct {
	Ticker string     `json:"market_ticker"`
	Yes    [][2]int64 `json:"yes"`
	No     [][2]int64 `json:"no"`
}

type wsDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

type wsTrade struct {
	Ticker    string `json:"market_ticker"`
	YesPrice  int64  `json:"yes_price"`
	Count     int64  `json:"count"`
	TakerSide string `json:"taker_side"`
	Timestamp int64  `json:"ts"`
}

// Protocol implements the orderbook_delta channel framing for the
// normalizer.
type Protocol struct{}

var _ stream.Protocol = Protocol{}

func (Protocol) Subscribe(conn *websocket.Conn, assetID string) error {
	cmd := wsCommand{
		ID:  1,
		Cmd: "subscribe",
		Params: wsParams{
			Channels: []string{"orderbook_delta", "trade"},
			Tickers:  []string{assetID},
		},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("kalshi: subscribe %s: %w", assetID, err)
	}
	return nil
}

func (Protocol) Decode(raw []byte) ([]stream.Event, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kalshi: decode frame: %w: %v", domain.ErrSerialization, err)
	}

	switch env.Type {
	case "orderbook_snapshot":
		var snap wsSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			return nil, fmt.Errorf("kalshi: decode snapshot: %w: %v", domain.ErrSerialization, err)
		}
		book := domain.Orderbook{
			MarketID:  snap.Ticker,
			AssetID:   snap.Ticker,
			Seq:       env.Seq,
			Timestamp: time.Now().UTC(),
		}
		for _, lvl := range snap.Yes {
			book.Bids = append(book.Bids, domain.PriceLevel{Price: centsToPrice(lvl[0]), Size: float64(lvl[1])})
		}
		for _, lvl := range snap.No {
			book.Asks = append(book.Asks, domain.PriceLevel{Price: 1 - centsToPrice(lvl[0]), Size: float64(lvl[1])})
		}
		return []stream.Event{{Kind: domain.UpdateKindBook, Book: book}}, nil

	case "orderbook_delta":
		var d wsDelta
		if err := json.Unmarshal(env.Msg, &d); err != nil {
			return nil, fmt.Errorf("kalshi: decode delta: %w: %v", domain.ErrSerialization, err)
		}
		delta := domain.BookDelta{
			AssetID:   d.Ticker,
			Additive:  true, // Kalshi reports signed quantity changes
			Seq:       env.Seq,
			Timestamp: time.Now().UTC(),
		}
		if d.Side == "yes" {
			delta.Side = domain.OrderSideBuy
			delta.Price = centsToPrice(d.Price)
		} else {
			delta.Side = domain.OrderSideSell
			delta.Price = 1 - centsToPrice(d.Price)
		}
		delta.Size = float64(d.Delta)
		return []stream.Event{{Kind: domain.UpdateKindBookDelta, Delta: delta}}, nil

	case "trade":
		var t wsTrade
		if err := json.Unmarshal(env.Msg, &t); err != nil {
			return nil, fmt.Errorf("kalshi: decode trade: %w: %v", domain.ErrSerialization, err)
		}
		trade := domain.Trade{
			Venue:     VenueID,
			MarketID:  t.Ticker,
			Outcome:   "Yes",
			Price:     centsToPrice(t.YesPrice),
			Size:      float64(t.Count),
			Timestamp: time.Unix(t.Timestamp, 0).UTC(),
		}
		if t.TakerSide == "no" {
			trade.Side = domain.OrderSideSell
		} else {
			trade.Side = domain.OrderSideBuy
		}
		return []stream.Event{{Kind: domain.UpdateKindTrade, Trade: trade}}, nil
	}

	return nil, nil
}

// Subscribe opens a normalized stream for one market ticker.
func (c *Client) Subscribe(ticker string) *stream.Subscription {
	return stream.Open(stream.Config{
		Venue:          VenueID,
		AssetID:        ticker,
		URL:            c.cfg.WSURL,
		Protocol:       Protocol{},
		Fetch:          c.FetchOrderbook,
		BaseBackoff:    c.cfg.Stream.BaseBackoff,
		MaxBackoff:     c.cfg.Stream.MaxBackoff,
		BackoffCeiling: c.cfg.Stream.BackoffCeiling,
		Buffer:         c.cfg.Stream.Buffer,
		Logger:         c.logger,
	})
}
