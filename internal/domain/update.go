package domain

// UpdateKind discriminates the canonical stream update union.
type UpdateKind string

const (
	UpdateKindBook      UpdateKind = "book"      // full snapshot replace
	UpdateKindBookDelta UpdateKind = "bookdelta" // already applied to Book
	UpdateKindTrade     UpdateKind = "trade"
)

// CanonicalUpdate is a single normalized event delivered to a subscription's
// consumer. For book kinds, Book is the full post-update view (a copy, safe
// to retain); for trades, Trade is set.
type CanonicalUpdate struct {
	Kind  UpdateKind
	Book  Orderbook
	Delta BookDelta
	Trade Trade
}
