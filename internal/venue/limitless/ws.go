package limitless

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

type wsCommand struct {
	Event    string   `json:"event"` // "subscribe"
	Channel  string   `json:"channel"`
	MarketID []string `json:"marketIds"`
}

type wsEnvelope struct {
	Event    string         `json:"event"` // "orderbook", "trade"
	MarketID string         `json:"marketId"`
	Seq      uint64         `json:"seq"`
	Bids     []apiBookLevel `json:"bids"`
	Asks     []apiBookLevel `json:"asks"`
	Price    float64        `json:"price"`
	Size     float64        `json:"size"`
	Side     string         `json:"side"`
	TS       int64          `json:"timestamp"`
}

// Protocol implements the orderbook channel framing for the normalizer.
// Limitless pushes full books rather than level deltas, so every frame maps
// to a snapshot replace.
type Protocol struct{}

var _ stream.Protocol = Protocol{}

func (Protocol) Subscribe(conn *websocket.Conn, assetID string) error {
	cmd := wsCommand{Event: "subscribe", Channel: "orderbook", MarketID: []string{assetID}}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("limitless: subscribe %s: %w", assetID, err)
	}
	return nil
}

func (Protocol) Decode(raw []byte) ([]stream.Event, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("limitless: decode frame: %w: %v", domain.ErrSerialization, err)
	}

	ts := time.Now().UTC()
	if env.TS > 0 {
		ts = time.UnixMilli(env.TS).UTC()
	}

	switch env.Event {
	case "orderbook":
		book := domain.Orderbook{
			MarketID:  env.MarketID,
			AssetID:   env.MarketID,
			Seq:       env.Seq,
			Timestamp: ts,
		}
		for _, lvl := range env.Bids {
			book.Bids = append(book.Bids, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
		}
		for _, lvl := range env.Asks {
			book.Asks = append(book.Asks, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
		}
		return []stream.Event{{Kind: domain.UpdateKindBook, Book: book}}, nil

	case "trade":
		trade := domain.Trade{
			Venue:     VenueID,
			MarketID:  env.MarketID,
			Price:     env.Price,
			Size:      env.Size,
			Timestamp: ts,
		}
		if env.Side == "SELL" {
			trade.Side = domain.OrderSideSell
		} else {
			trade.Side = domain.OrderSideBuy
		}
		return []stream.Event{{Kind: domain.UpdateKindTrade, Trade: trade}}, nil
	}

	return nil, nil
}

// Subscribe opens a normalized stream for one market.
func (c *Client) Subscribe(marketID string) *stream.Subscription {
	return stream.Open(stream.Config{
		Venue:          VenueID,
		AssetID:        marketID,
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
