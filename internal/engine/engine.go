package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchingEngine owns one book per security and matches crossing orders in
// price-time priority. All state is guarded by a single mutex so every
// operation appears atomic to every caller; the sequence counter is assigned
// while the lock is held, which makes time priority identical to lock
// acquisition order. One lock per engine is enough at this scale; if
// cross-security contention ever matters, sharding the lock per security id
// is safe because no invariant spans two books.
type MatchingEngine struct {
	mu       sync.Mutex
	books    map[uuid.UUID]*OrderBook
	sequence uint64
}

func New() *MatchingEngine {
	return &MatchingEngine{
		books: make(map[uuid.UUID]*OrderBook),
	}
}

// book returns the security's book, creating it on first reference.
// Callers must hold e.mu.
func (e *MatchingEngine) book(securityID uuid.UUID) *OrderBook {
	book, ok := e.books[securityID]
	if !ok {
		book = NewOrderBook()
		e.books[securityID] = book
	}
	return book
}

// Submit assigns an id and sequence to the request, matches it against the
// opposite side and rests any limit remainder. The returned MatchResult must
// be consumed by callers that report trades: the fills it carries are not
// retrievable afterwards.
func (e *MatchingEngine) Submit(req NewOrder) (MatchResult, error) {
	if err := req.Validate(); err != nil {
		return MatchResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order := &Order{
		ID:              uuid.New(),
		SecurityID:      req.SecurityID,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		InitialQuantity: req.Quantity,
		CurrentQuantity: req.Quantity,
		Status:          Active,
	}
	return e.submitLocked(order), nil
}

// submitLocked runs the matching path for a fully formed order. Shared by
// Submit and the resubmission leg of Modify; callers must hold e.mu.
func (e *MatchingEngine) submitLocked(order *Order) MatchResult {
	e.sequence++
	order.Sequence = e.sequence

	book := e.book(order.SecurityID)
	fills := book.match(order)

	result := MatchResult{
		OrderID: order.ID,
		Fills:   fills,
	}

	if order.CurrentQuantity > 0 {
		switch order.Type {
		case LimitOrder:
			book.rest(order)
			result.Resting = &RestingOrder{
				OrderID:   order.ID,
				Price:     order.Price,
				Remaining: order.CurrentQuantity,
			}
		case MarketOrder:
			// Market remainders never rest. Anything matched counts as a
			// fill; a market order that found no liquidity is cancelled.
			if len(fills) > 0 {
				order.Status = Filled
			} else {
				order.Status = Cancelled
			}
			order.CurrentQuantity = 0
		}
	}

	result.Status = order.Status
	return result
}

// Cancel removes a resting order, returning the quantity still outstanding.
// Unknown ids and orders already filled or cancelled fail with
// ErrOrderNotFound; the removal keeps the FIFO order of the rest of the
// level intact.
func (e *MatchingEngine) Cancel(securityID, orderID uuid.UUID) (CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[securityID]
	if !ok {
		return CancelResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	order := book.remove(orderID)
	if order == nil {
		return CancelResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	remaining := order.CurrentQuantity
	order.Status = Cancelled
	order.CurrentQuantity = 0
	return CancelResult{OrderID: orderID, Remaining: remaining}, nil
}

// Modify amends a resting order's price and/or quantity under standard CLOB
// rules: a pure size decrease at the same price updates in place and keeps
// time priority; any price change or size increase is a cancel-resubmit that
// takes a fresh sequence and re-enters matching like a new order.
func (e *MatchingEngine) Modify(securityID, orderID uuid.UUID, newPrice decimal.Decimal, newQuantity uint64) (ModifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[securityID]
	if !ok {
		return ModifyResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	order, ok := book.index[orderID]
	if !ok {
		return ModifyResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	// The amended terms go through the same checks a fresh submission would;
	// rejection happens before any state is touched.
	amended := NewOrder{
		SecurityID: securityID,
		Side:       order.Side,
		Type:       order.Type,
		Price:      newPrice,
		Quantity:   newQuantity,
	}
	if err := amended.Validate(); err != nil {
		return ModifyResult{}, err
	}

	if order.Price.Equal(newPrice) && newQuantity <= order.CurrentQuantity {
		// Size decrease in place: position and sequence are untouched.
		level, ok := book.levels(order.Side).GetMut(&PriceLevel{price: order.Price})
		if !ok {
			panic("order book index out of sync with price levels")
		}
		level.reduce(order.CurrentQuantity - newQuantity)
		order.CurrentQuantity = newQuantity
		return ModifyResult{
			OrderID:   order.ID,
			Price:     order.Price,
			Remaining: order.CurrentQuantity,
			Status:    order.Status,
		}, nil
	}

	// Priority is lost: pull the order and run it back through matching with
	// its new terms. It keeps its id so callers can track it across the amend.
	book.remove(orderID)
	order.Price = newPrice
	order.InitialQuantity = newQuantity
	order.CurrentQuantity = newQuantity
	order.Status = Active

	match := e.submitLocked(order)
	return ModifyResult{
		OrderID:   order.ID,
		Price:     order.Price,
		Remaining: order.CurrentQuantity,
		Status:    order.Status,
		Match:     &match,
	}, nil
}

// Depth reads the best levelCount levels per side without mutating anything.
// A security with no book fails with ErrUnknownSecurity so callers can tell
// "never traded" apart from "empty book"; levelCount zero returns empty
// sides on an existing book.
func (e *MatchingEngine) Depth(securityID uuid.UUID, levelCount uint32) (BookDepth, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[securityID]
	if !ok {
		return BookDepth{}, fmt.Errorf("%w: %s", ErrUnknownSecurity, securityID)
	}
	return book.depth(levelCount), nil
}
