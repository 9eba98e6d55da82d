package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
	"github.com/gtg7784/dr-manhattan-go/internal/stream"
)

// wsCommand is the JSON payload sent to subscribe to the market channel.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// wsEnvelope is the outer shape of every inbound frame. The CLOB socket
// sends either a single object or an array of them.
type wsEnvelope struct {
	EventType string `json:"event_type"` // "book", "price_change", "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`
	Seq       uint64 `json:"seq,string"`

	// book
	Bids []apiBookLevel `json:"bids"`
	Asks []apiBookLevel `json:"asks"`

	// price_change
	Side  string `json:"side"`
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Protocol implements the market-channel framing for the normalizer.
type Protocol struct{}

var _ stream.Protocol = Protocol{}

// Subscribe issues the market-channel subscription for one asset.
func (Protocol) Subscribe(conn *websocket.Conn, assetID string) error {
	cmd := wsCommand{Type: "subscribe", Channel: "market", Assets: []string{assetID}}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("polymarket: subscribe %s: %w", assetID, err)
	}
	return nil
}

// Decode maps one raw frame into canonical events. Frames arrive as one
// envelope or an array of envelopes; unknown event types are skipped.
func (Protocol) Decode(raw []byte) ([]stream.Event, error) {
	var envelopes []wsEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		var single wsEnvelope
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("polymarket: decode frame: %w: %v", domain.ErrSerialization, err)
		}
		envelopes = []wsEnvelope{single}
	}

	var events []stream.Event
	for i := range envelopes {
		env := &envelopes[i]
		switch env.EventType {
		case "book":
			events = append(events, stream.Event{
				Kind: domain.UpdateKindBook,
				Book: env.toBook(),
			})
		case "price_change":
			events = append(events, stream.Event{
				Kind:  domain.UpdateKindBookDelta,
				Delta: env.toDelta(),
			})
		case "last_trade_price":
			events = append(events, stream.Event{
				Kind:  domain.UpdateKindTrade,
				Trade: env.toTrade(),
			})
		}
	}
	return events, nil
}

func (env *wsEnvelope) toBook() domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  env.Market,
		AssetID:   env.AssetID,
		Seq:       env.Seq,
		Timestamp: parseMsecTimestamp(env.Timestamp),
	}
	for _, lvl := range env.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range env.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: s})
	}
	return book
}

func (env *wsEnvelope) toDelta() domain.BookDelta {
	d := domain.BookDelta{
		AssetID:   env.AssetID,
		Seq:       env.Seq,
		Timestamp: parseMsecTimestamp(env.Timestamp),
	}
	switch env.Side {
	case "BUY":
		d.Side = domain.OrderSideBuy
	case "SELL":
		d.Side = domain.OrderSideSell
	}
	d.Price, _ = strconv.ParseFloat(env.Price, 64)
	d.Size, _ = strconv.ParseFloat(env.Size, 64)
	return d
}

func (env *wsEnvelope) toTrade() domain.Trade {
	t := domain.Trade{
		Venue:     VenueID,
		MarketID:  env.Market,
		Timestamp: parseMsecTimestamp(env.Timestamp),
	}
	switch env.Side {
	case "BUY":
		t.Side = domain.OrderSideBuy
	case "SELL":
		t.Side = domain.OrderSideSell
	}
	t.Price, _ = strconv.ParseFloat(env.Price, 64)
	t.Size, _ = strconv.ParseFloat(env.Size, 64)
	return t
}

// Subscribe opens a normalized stream for one outcome token, wiring the
// client's book fetch as the gap-resync source.
func (c *Client) Subscribe(assetID string) *stream.Subscription {
	return stream.Open(stream.Config{
		Venue:          VenueID,
		AssetID:        assetID,
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
