package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill is one execution between two specific orders at one price.
type Fill struct {
	RestingOrderID  uuid.UUID
	IncomingOrderID uuid.UUID
	Price           decimal.Decimal
	Quantity        uint64
}

// RestingOrder describes the remainder of a submission left on the book.
type RestingOrder struct {
	OrderID   uuid.UUID
	Price     decimal.Decimal
	Remaining uint64
}

// MatchResult is everything a caller needs to report a submission: the fills
// in match order and the resting remainder, if any. Callers that report
// trades must consume Fills; it is the only record of the executions.
type MatchResult struct {
	OrderID uuid.UUID
	Status  OrderStatus
	Fills   []Fill
	Resting *RestingOrder
}

// CancelResult reports what was taken off the book.
type CancelResult struct {
	OrderID   uuid.UUID
	Remaining uint64 // Quantity outstanding at the time of cancellation
}

// ModifyResult is the order snapshot after an amend. Match is non-nil only
// when the amend lost priority and re-entered the matching path.
type ModifyResult struct {
	OrderID   uuid.UUID
	Price     decimal.Decimal
	Remaining uint64
	Status    OrderStatus
	Match     *MatchResult
}

// LevelDepth is one aggregated price level, no per-order detail.
type LevelDepth struct {
	Price    decimal.Decimal
	Quantity uint64
}

// BookDepth holds both sides ordered best to worst.
type BookDepth struct {
	Bids []LevelDepth
	Asks []LevelDepth
}
