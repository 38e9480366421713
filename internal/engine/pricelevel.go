package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel holds all resting orders at one exact price on one side of the
// book, FIFO by sequence. The aggregate quantity is maintained incrementally
// on every mutation so depth queries never rescan the order list.
type PriceLevel struct {
	price    decimal.Decimal
	orders   []*Order
	quantity uint64 // Sum of CurrentQuantity over orders
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// newBidLevels sorts greatest price first so Min is the best bid.
func newBidLevels() *PriceLevels {
	return btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.GreaterThan(b.price)
	})
}

// newAskLevels sorts least price first so Min is the best ask.
func newAskLevels() *PriceLevels {
	return btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.LessThan(b.price)
	})
}

// push appends an order at the back of the queue. Orders arrive in sequence
// order, so append preserves FIFO.
func (l *PriceLevel) push(o *Order) {
	l.orders = append(l.orders, o)
	l.quantity += o.CurrentQuantity
}

// front returns the highest-priority resting order, the one every incoming
// match is taken against first.
func (l *PriceLevel) front() *Order {
	if len(l.orders) == 0 {
		return nil
	}
	return l.orders[0]
}

// popFront drops the front order after it has been fully consumed. The
// caller has already decremented the aggregate fill by fill, so only the
// slice shrinks here.
func (l *PriceLevel) popFront() {
	l.orders[0] = nil
	l.orders = l.orders[1:]
}

// remove cuts the order with the given id out of the queue, preserving the
// relative order of everything behind it.
func (l *PriceLevel) remove(id uuid.UUID) *Order {
	for i, o := range l.orders {
		if o.ID != id {
			continue
		}
		l.orders = append(l.orders[:i], l.orders[i+1:]...)
		l.quantity -= o.CurrentQuantity
		return o
	}
	return nil
}

// reduce shrinks the aggregate by a fill or an in-place size decrease.
func (l *PriceLevel) reduce(qty uint64) {
	l.quantity -= qty
}

func (l *PriceLevel) empty() bool {
	return len(l.orders) == 0
}

// FlatPriceLevel is a copyable snapshot of one level, used by tests and
// debug logging to compare whole-book state.
type FlatPriceLevel struct {
	Price    decimal.Decimal
	Quantity uint64
	Orders   []Order
}

// FlattenLevels snapshots a side's levels best-first.
func FlattenLevels(levels *PriceLevels) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, 0, levels.Len())
	levels.Scan(func(l *PriceLevel) bool {
		f := FlatPriceLevel{
			Price:    l.price,
			Quantity: l.quantity,
			Orders:   make([]Order, len(l.orders)),
		}
		for i, o := range l.orders {
			f.Orders[i] = *o
		}
		flat = append(flat, f)
		return true
	})
	return flat
}
