package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderBook is the per-security structure: bid levels sorted highest price
// first, ask levels lowest first, and an id index over every resting order
// for O(1) location on cancel/modify. An order id appears in at most one
// level on at most one side.
type OrderBook struct {
	bids  *PriceLevels
	asks  *PriceLevels
	index map[uuid.UUID]*Order
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:  newBidLevels(),
		asks:  newAskLevels(),
		index: make(map[uuid.UUID]*Order),
	}
}

func (book *OrderBook) levels(side Side) *PriceLevels {
	if side == Buy {
		return book.bids
	}
	return book.asks
}

// crosses reports whether the incoming order trades against a level at the
// given price. Market orders cross any opposite liquidity.
func crosses(incoming *Order, levelPrice decimal.Decimal) bool {
	if incoming.Type == MarketOrder {
		return true
	}
	if incoming.Side == Buy {
		return incoming.Price.GreaterThanOrEqual(levelPrice)
	}
	return incoming.Price.LessThanOrEqual(levelPrice)
}

// match sweeps the incoming order across the opposite side's levels while
// prices cross, in price-time priority. The trade price is always the
// resting order's price, so any price improvement accrues to the aggressor.
// Returns the fills in match order; the incoming order's CurrentQuantity and
// Status are left describing whatever the sweep could not consume.
func (book *OrderBook) match(incoming *Order) []Fill {
	opposite := book.levels(incoming.Side.Opposite())

	var fills []Fill
	for incoming.CurrentQuantity > 0 {
		level, ok := opposite.MinMut()
		if !ok || !crosses(incoming, level.price) {
			break
		}

		resting := level.front()
		matchQty := min(incoming.CurrentQuantity, resting.CurrentQuantity)
		incoming.CurrentQuantity -= matchQty
		resting.CurrentQuantity -= matchQty
		level.reduce(matchQty)

		fills = append(fills, Fill{
			RestingOrderID:  resting.ID,
			IncomingOrderID: incoming.ID,
			Price:           level.price,
			Quantity:        matchQty,
		})

		if resting.CurrentQuantity == 0 {
			resting.Status = Filled
			level.popFront()
			delete(book.index, resting.ID)
		} else {
			// Still front of the queue, still highest priority at this price.
			resting.Status = PartiallyFilled
		}

		if level.empty() {
			opposite.Delete(level)
		}
	}

	if incoming.CurrentQuantity == 0 {
		incoming.Status = Filled
	} else if len(fills) > 0 {
		incoming.Status = PartiallyFilled
	}
	return fills
}

// rest places an unfilled limit remainder at the back of its price level,
// creating the level if this is the first order at that price.
func (book *OrderBook) rest(order *Order) {
	levels := book.levels(order.Side)

	// The comparator only looks at prices, so a bare level works as the
	// search key.
	level, ok := levels.GetMut(&PriceLevel{price: order.Price})
	if ok {
		level.push(order)
	} else {
		level = &PriceLevel{price: order.Price}
		level.push(order)
		levels.Set(level)
	}
	book.index[order.ID] = order
}

// remove takes a resting order out of the book entirely, preserving the FIFO
// order of whatever remains at its level. Returns nil if the id is not
// resting in this book.
func (book *OrderBook) remove(orderID uuid.UUID) *Order {
	order, ok := book.index[orderID]
	if !ok {
		return nil
	}

	levels := book.levels(order.Side)
	level, ok := levels.GetMut(&PriceLevel{price: order.Price})
	if !ok || level.remove(orderID) == nil {
		// Index said the order rests here; the level disagreeing means the
		// book is corrupt.
		panic("order book index out of sync with price levels")
	}
	if level.empty() {
		levels.Delete(level)
	}
	delete(book.index, orderID)
	return order
}

// depth aggregates the best levelCount levels per side, best to worst.
func (book *OrderBook) depth(levelCount uint32) BookDepth {
	return BookDepth{
		Bids: sideDepth(book.bids, levelCount),
		Asks: sideDepth(book.asks, levelCount),
	}
}

func sideDepth(levels *PriceLevels, levelCount uint32) []LevelDepth {
	capHint := uint32(levels.Len())
	if levelCount < capHint {
		capHint = levelCount
	}
	depth := make([]LevelDepth, 0, capHint)
	if levelCount == 0 {
		return depth
	}
	levels.Scan(func(l *PriceLevel) bool {
		depth = append(depth, LevelDepth{Price: l.price, Quantity: l.quantity})
		return uint32(len(depth)) < levelCount
	})
	return depth
}
