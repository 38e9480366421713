package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the book's view of one order over its lifetime. The engine owns
// every Order; callers only ever see copies or ids.
type Order struct {
	ID              uuid.UUID       // Engine-assigned, never reused
	SecurityID      uuid.UUID       // Which book the order belongs to
	Side            Side            // Order side
	Type            OrderType       // Limit or market
	Price           decimal.Decimal // Limit price; zero-valued for market orders
	InitialQuantity uint64          // Total volume requested
	CurrentQuantity uint64          // Remaining volume
	Sequence        uint64          // Time-priority tiebreak, lower is earlier
	Status          OrderStatus
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{ID: %s, Security: %s, Side: %s, Price: %s, Qty: %d (Total: %d), Seq: %d, Status: %s}",
		o.ID,
		o.SecurityID,
		o.Side,
		o.Price,
		o.CurrentQuantity,
		o.InitialQuantity,
		o.Sequence,
		o.Status,
	)
}

// NewOrder is a submission request. The engine assigns the id and sequence;
// the caller supplies everything else.
type NewOrder struct {
	SecurityID uuid.UUID
	Side       Side
	Type       OrderType
	Price      decimal.Decimal // Required for limit orders, ignored for market
	Quantity   uint64
}

// Validate performs the pre-mutation checks of the submit path.
func (n NewOrder) Validate() error {
	if n.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if n.Type == LimitOrder && !n.Price.IsPositive() {
		return fmt.Errorf("%w: limit order requires a positive price", ErrInvalidOrder)
	}
	return nil
}
