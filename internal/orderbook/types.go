// Package orderbook implements the per-symbol order book and matching
// engine: the data structures that hold resting orders, the matching
// algorithm, and the order state machine. All mutation of a symbol's
// book flows through the single processor goroutine that owns it (see
// internal/processor); OrderBook itself performs no locking because the
// single-writer-per-symbol invariant makes that unnecessary.
package orderbook

import (
	"github.com/exchangecore/matching-engine/internal/decimal"
)

// Side is which side of the book an order rests on.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type is the kind of order intent.
type Type string

const (
	Limit  Type = "limit"
	Market Type = "market"
	Cancel Type = "cancel"
)

// Status is where an order sits in its lifecycle (§4.3).
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether s is a terminal status that never transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

// Order is an order intent or resting order (§3).
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          Type
	Price         decimal.Decimal
	HasPrice      bool // false for market orders
	Amount        decimal.Decimal
	Remaining     decimal.Decimal
	Status        Status
	Timestamp     int64
	Error         string

	// Seq is an internal, per-symbol monotonic sequence assigned at
	// insertion time. It breaks ties among resting orders at the exact
	// same price, since the zset price index's own tie-break (member
	// lexicographic order in a real Redis sorted set) does not track
	// insertion order for opaque order ids. It is persisted alongside
	// the order so book state can be recovered faithfully across a
	// process restart.
	Seq int64
}

// Trade is an immutable executed match (§3).
type Trade struct {
	ID         string
	Symbol     string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	BidOrderID string
	AskOrderID string
	Timestamp  int64
}

// Level is an aggregated price level for the depth view (§4.11).
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}
