package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewClientID returns a fresh locally-assigned order identifier. Assigned
// before submission so an order can be tracked even when the venue ack is
// lost.
func NewClientID() string {
	return uuid.New().String()
}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the order lifecycle.
//
//	Pending -> {Open, Rejected}
//	Open    -> {PartiallyFilled, Filled, Cancelled}
//	PartiallyFilled -> {PartiallyFilled, Filled, Cancelled}
//
// Filled, Cancelled, and Rejected are terminal.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transition is accepted from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// rank orders statuses by lifecycle progress so the tracker can refuse
// downgrades. Terminal states share the top rank; among non-terminal states
// progress only moves forward.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusOpen:
		return 1
	case OrderStatusPartiallyFilled:
		return 2
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states accept nothing; equal-progress self transitions
// (repeated partial fills) are allowed.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if s == OrderStatusPending {
		return next == OrderStatusOpen || next == OrderStatusRejected ||
			next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled
	}
	if next == OrderStatusRejected {
		// Rejection only makes sense before the venue accepted the order.
		return false
	}
	return next.rank() >= s.rank()
}

// Order represents a locally-submitted order. Once handed to the tracker the
// tracker owns the record; adapters only report observations about it.
type Order struct {
	ID        string // venue-assigned, empty until accepted
	ClientID  string // locally-assigned before submission
	Venue     string
	MarketID  string
	Outcome   string
	TokenID   string
	Side      OrderSide
	Type      OrderType
	Price     float64
	Size      float64
	Filled    float64 // invariant: Filled <= Size
	Status    OrderStatus
	Signature string // hex, set for typed-data-signed venues
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	return o.Size - o.Filled
}

// IsActive reports whether the order can still receive fills.
func (o Order) IsActive() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// FillPercent returns fill progress in [0,1].
func (o Order) FillPercent() float64 {
	if o.Size == 0 {
		return 0
	}
	return o.Filled / o.Size
}
