package engine

import "errors"

var (
	// ErrInvalidOrder rejects malformed submissions: a limit order with no
	// price, or a non-positive quantity. Nothing is mutated on rejection.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound covers cancel/modify of an id the book does not hold,
	// including orders that already reached a terminal state.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnknownSecurity is returned by depth queries for a security that has
	// never received an order. Callers may treat it as an empty book.
	ErrUnknownSecurity = errors.New("unknown security")
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	// Limit orders are an order to buy or sell a security at a specified
	// price or better. Limit orders may rest on the order book until
	// filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately.
	// This order guarantees that the order will be executed without
	// guarantees on the execution price. A market order never rests;
	// any quantity the book cannot fill is discarded.
	MarketOrder
)

type OrderStatus int

const (
	Active OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Active:
		return "active"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status permits no further transitions.
// Filled and Cancelled orders are removed from the book and its index.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled
}
