package engine

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func newTestEngine() (*MatchingEngine, uuid.UUID) {
	return New(), uuid.New()
}

func submitLimit(t *testing.T, e *MatchingEngine, securityID uuid.UUID, side Side, price float64, qty uint64) MatchResult {
	t.Helper()
	result, err := e.Submit(NewOrder{
		SecurityID: securityID,
		Side:       side,
		Type:       LimitOrder,
		Price:      decimal.NewFromFloat(price),
		Quantity:   qty,
	})
	require.NoError(t, err)
	return result
}

func submitMarket(t *testing.T, e *MatchingEngine, securityID uuid.UUID, side Side, qty uint64) MatchResult {
	t.Helper()
	result, err := e.Submit(NewOrder{
		SecurityID: securityID,
		Side:       side,
		Type:       MarketOrder,
		Quantity:   qty,
	})
	require.NoError(t, err)
	return result
}

func depthOf(t *testing.T, e *MatchingEngine, securityID uuid.UUID, levels uint32) BookDepth {
	t.Helper()
	depth, err := e.Depth(securityID, levels)
	require.NoError(t, err)
	return depth
}

func level(price float64, qty uint64) LevelDepth {
	return LevelDepth{Price: decimal.NewFromFloat(price), Quantity: qty}
}

// --- Submit -----------------------------------------------------------------

func TestSubmit_RestsOnEmptyBook(t *testing.T) {
	eng, security := newTestEngine()

	result := submitLimit(t, eng, security, Buy, 50.0, 100)

	assert.Empty(t, result.Fills)
	assert.Equal(t, Active, result.Status)
	require.NotNil(t, result.Resting)
	assert.Equal(t, uint64(100), result.Resting.Remaining)

	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(50.0, 100)}, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestSubmit_PartialFillLeavesRemainder(t *testing.T) {
	eng, security := newTestEngine()
	buy := submitLimit(t, eng, security, Buy, 50.0, 100)

	// A crossing sell for 60 trades at the resting price and fully fills.
	sell := submitLimit(t, eng, security, Sell, 50.0, 60)
	require.Len(t, sell.Fills, 1)
	assert.Equal(t, buy.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, uint64(60), sell.Fills[0].Quantity)
	assert.True(t, sell.Fills[0].Price.Equal(decimal.NewFromFloat(50.0)))
	assert.Equal(t, Filled, sell.Status)
	assert.Nil(t, sell.Resting)

	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(50.0, 40)}, depth.Bids)

	// A second sell consumes the remainder and empties the bid side.
	sell = submitLimit(t, eng, security, Sell, 50.0, 40)
	require.Len(t, sell.Fills, 1)
	assert.Equal(t, uint64(40), sell.Fills[0].Quantity)

	depth = depthOf(t, eng, security, 10)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestSubmit_TradePriceIsRestingPrice(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Sell, 50.0, 100)

	// The aggressor is willing to pay 55 but trades at the resting 50.
	buy := submitLimit(t, eng, security, Buy, 55.0, 100)
	require.Len(t, buy.Fills, 1)
	assert.True(t, buy.Fills[0].Price.Equal(decimal.NewFromFloat(50.0)))
	assert.Equal(t, Filled, buy.Status)
}

func TestSubmit_SweepsAcrossLevels(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Sell, 100.0, 100)
	submitLimit(t, eng, security, Sell, 100.0, 90)
	submitLimit(t, eng, security, Sell, 101.0, 20)

	// Deep buy sweeps 100.0 entirely and bites into 101.0.
	buy := submitLimit(t, eng, security, Buy, 103.0, 200)
	require.Len(t, buy.Fills, 3)
	assert.Equal(t, uint64(100), buy.Fills[0].Quantity)
	assert.Equal(t, uint64(90), buy.Fills[1].Quantity)
	assert.Equal(t, uint64(10), buy.Fills[2].Quantity)
	assert.True(t, buy.Fills[2].Price.Equal(decimal.NewFromFloat(101.0)))
	assert.Equal(t, Filled, buy.Status)

	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(101.0, 10)}, depth.Asks)
	assert.Empty(t, depth.Bids)
}

func TestSubmit_PartiallyFilledRemainderRests(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Sell, 100.0, 30)

	buy := submitLimit(t, eng, security, Buy, 100.0, 50)
	require.Len(t, buy.Fills, 1)
	assert.Equal(t, PartiallyFilled, buy.Status)
	require.NotNil(t, buy.Resting)
	assert.Equal(t, uint64(20), buy.Resting.Remaining)

	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(100.0, 20)}, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestSubmit_InvalidOrders(t *testing.T) {
	eng, security := newTestEngine()

	_, err := eng.Submit(NewOrder{
		SecurityID: security,
		Side:       Buy,
		Type:       LimitOrder,
		Price:      decimal.NewFromFloat(50.0),
		Quantity:   0,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = eng.Submit(NewOrder{
		SecurityID: security,
		Side:       Buy,
		Type:       LimitOrder,
		Quantity:   10,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	// Nothing was mutated: the security still has no book.
	_, err = eng.Depth(security, 1)
	assert.ErrorIs(t, err, ErrUnknownSecurity)
}

func TestSubmit_SecuritiesAreIndependent(t *testing.T) {
	eng, security := newTestEngine()
	other := uuid.New()

	submitLimit(t, eng, security, Buy, 51.0, 100)
	submitLimit(t, eng, other, Buy, 52.0, 50)

	depth := depthOf(t, eng, security, 1)
	assert.Equal(t, []LevelDepth{level(51.0, 100)}, depth.Bids)

	depth = depthOf(t, eng, other, 1)
	assert.Equal(t, []LevelDepth{level(52.0, 50)}, depth.Bids)
}

// --- Market orders ----------------------------------------------------------

func TestMarketOrder_NeverRests(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Sell, 100.0, 30)

	// Market buy for more than the book holds: fills what exists, discards
	// the rest.
	buy := submitMarket(t, eng, security, Buy, 50)
	require.Len(t, buy.Fills, 1)
	assert.Equal(t, uint64(30), buy.Fills[0].Quantity)
	assert.Equal(t, Filled, buy.Status)
	assert.Nil(t, buy.Resting)

	depth := depthOf(t, eng, security, 10)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestMarketOrder_NoLiquidityIsCancelled(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Buy, 50.0, 10)

	// Market buy with only bid-side liquidity present.
	buy := submitMarket(t, eng, security, Buy, 50)
	assert.Empty(t, buy.Fills)
	assert.Equal(t, Cancelled, buy.Status)
	assert.Nil(t, buy.Resting)
}

func TestMarketOrder_CrossesEveryLevel(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Sell, 100.0, 10)
	submitLimit(t, eng, security, Sell, 200.0, 10)
	submitLimit(t, eng, security, Sell, 300.0, 10)

	buy := submitMarket(t, eng, security, Buy, 30)
	require.Len(t, buy.Fills, 3)
	assert.True(t, buy.Fills[2].Price.Equal(decimal.NewFromFloat(300.0)))
	assert.Equal(t, Filled, buy.Status)
}

// --- Cancel -----------------------------------------------------------------

func TestCancel_RemovesFromDepth(t *testing.T) {
	eng, security := newTestEngine()
	result := submitLimit(t, eng, security, Buy, 50.0, 50)

	cancelled, err := eng.Cancel(security, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cancelled.Remaining)

	depth := depthOf(t, eng, security, 10)
	assert.Empty(t, depth.Bids)

	// Second cancel of the same id deterministically fails.
	_, err = eng.Cancel(security, result.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancel_FilledOrderNotFound(t *testing.T) {
	eng, security := newTestEngine()
	buy := submitLimit(t, eng, security, Buy, 50.0, 100)
	submitLimit(t, eng, security, Sell, 50.0, 100)

	_, err := eng.Cancel(security, buy.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancel_UnknownSecurityOrOrder(t *testing.T) {
	eng, security := newTestEngine()

	_, err := eng.Cancel(security, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	submitLimit(t, eng, security, Buy, 50.0, 100)
	_, err = eng.Cancel(security, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancel_PreservesLevelFIFO(t *testing.T) {
	eng, security := newTestEngine()
	first := submitLimit(t, eng, security, Buy, 50.0, 10)
	second := submitLimit(t, eng, security, Buy, 50.0, 20)
	third := submitLimit(t, eng, security, Buy, 50.0, 30)

	_, err := eng.Cancel(security, second.OrderID)
	require.NoError(t, err)

	// The remaining orders keep their relative order: first still matches
	// ahead of third.
	sell := submitLimit(t, eng, security, Sell, 50.0, 40)
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, first.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, third.OrderID, sell.Fills[1].RestingOrderID)
}

// --- Modify -----------------------------------------------------------------

func TestModify_DecreaseKeepsPriority(t *testing.T) {
	eng, security := newTestEngine()
	first := submitLimit(t, eng, security, Buy, 50.0, 100)
	second := submitLimit(t, eng, security, Buy, 50.0, 100)

	result, err := eng.Modify(security, first.OrderID, decimal.NewFromFloat(50.0), 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), result.Remaining)
	assert.Nil(t, result.Match)

	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(50.0, 140)}, depth.Bids)

	// First is still first in the queue.
	sell := submitLimit(t, eng, security, Sell, 50.0, 50)
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, first.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, uint64(40), sell.Fills[0].Quantity)
	assert.Equal(t, second.OrderID, sell.Fills[1].RestingOrderID)
}

func TestModify_PriceChangeLosesPriority(t *testing.T) {
	eng, security := newTestEngine()
	first := submitLimit(t, eng, security, Buy, 50.0, 100)
	second := submitLimit(t, eng, security, Buy, 51.0, 100)

	// Repricing first to 51 puts it behind second at the new level.
	result, err := eng.Modify(security, first.OrderID, decimal.NewFromFloat(51.0), 100)
	require.NoError(t, err)
	require.NotNil(t, result.Match)
	assert.Empty(t, result.Match.Fills)

	sell := submitLimit(t, eng, security, Sell, 51.0, 150)
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, second.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, first.OrderID, sell.Fills[1].RestingOrderID)
}

func TestModify_IncreaseLosesPriority(t *testing.T) {
	eng, security := newTestEngine()
	first := submitLimit(t, eng, security, Buy, 50.0, 100)
	second := submitLimit(t, eng, security, Buy, 50.0, 100)

	result, err := eng.Modify(security, first.OrderID, decimal.NewFromFloat(50.0), 150)
	require.NoError(t, err)
	require.NotNil(t, result.Match)

	sell := submitLimit(t, eng, security, Sell, 50.0, 120)
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, second.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, first.OrderID, sell.Fills[1].RestingOrderID)
}

func TestModify_RepriceCanMatchImmediately(t *testing.T) {
	eng, security := newTestEngine()
	buy := submitLimit(t, eng, security, Buy, 50.0, 100)
	submitLimit(t, eng, security, Sell, 55.0, 60)

	// Repricing the bid through the ask crosses at once, exactly like a new
	// order would.
	result, err := eng.Modify(security, buy.OrderID, decimal.NewFromFloat(55.0), 100)
	require.NoError(t, err)
	require.NotNil(t, result.Match)
	require.Len(t, result.Match.Fills, 1)
	assert.Equal(t, uint64(60), result.Match.Fills[0].Quantity)
	assert.True(t, result.Match.Fills[0].Price.Equal(decimal.NewFromFloat(55.0)))
	assert.Equal(t, uint64(40), result.Remaining)
	assert.Equal(t, PartiallyFilled, result.Status)
}

func TestModify_NotFoundAndInvalid(t *testing.T) {
	eng, security := newTestEngine()

	_, err := eng.Modify(security, uuid.New(), decimal.NewFromFloat(50.0), 10)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	result := submitLimit(t, eng, security, Buy, 50.0, 100)
	_, err = eng.Modify(security, result.OrderID, decimal.NewFromFloat(50.0), 0)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestModify_InvalidPriceLeavesBookUntouched(t *testing.T) {
	eng, security := newTestEngine()
	buy := submitLimit(t, eng, security, Buy, 50.0, 100)
	submitLimit(t, eng, security, Sell, 60.0, 30)

	// The amended terms face the same validation a new submission would: a
	// limit order cannot be repriced to zero.
	_, err := eng.Modify(security, buy.OrderID, decimal.Zero, 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = eng.Modify(security, buy.OrderID, decimal.NewFromFloat(-1.0), 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	// Nothing moved: the order still rests at its original price with its
	// original priority, and the ask side was never swept.
	depth := depthOf(t, eng, security, 10)
	assert.Equal(t, []LevelDepth{level(50.0, 100)}, depth.Bids)
	assert.Equal(t, []LevelDepth{level(60.0, 30)}, depth.Asks)

	cancelled, err := eng.Cancel(security, buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cancelled.Remaining)
}

// --- Depth ------------------------------------------------------------------

func TestDepth_UnknownSecurity(t *testing.T) {
	eng, _ := newTestEngine()

	_, err := eng.Depth(uuid.New(), 10)
	assert.ErrorIs(t, err, ErrUnknownSecurity)
}

func TestDepth_LevelCountLimitsSides(t *testing.T) {
	eng, security := newTestEngine()
	submitLimit(t, eng, security, Buy, 51.0, 100)
	submitLimit(t, eng, security, Buy, 52.0, 50)
	submitLimit(t, eng, security, Sell, 60.0, 10)
	submitLimit(t, eng, security, Sell, 61.0, 20)

	depth := depthOf(t, eng, security, 1)
	assert.Equal(t, []LevelDepth{level(52.0, 50)}, depth.Bids)
	assert.Equal(t, []LevelDepth{level(60.0, 10)}, depth.Asks)

	// Zero levels is a valid request for nothing.
	depth = depthOf(t, eng, security, 0)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

// --- Engine-wide properties -------------------------------------------------

func TestPriority_SamePriceFIFO(t *testing.T) {
	eng, security := newTestEngine()
	a := submitLimit(t, eng, security, Buy, 50.0, 100)
	b := submitLimit(t, eng, security, Buy, 50.0, 100)

	// A must fully match before B sees any quantity.
	sell := submitLimit(t, eng, security, Sell, 50.0, 150)
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, a.OrderID, sell.Fills[0].RestingOrderID)
	assert.Equal(t, uint64(100), sell.Fills[0].Quantity)
	assert.Equal(t, b.OrderID, sell.Fills[1].RestingOrderID)
	assert.Equal(t, uint64(50), sell.Fills[1].Quantity)
}

func TestNoCross_AfterEverySubmit(t *testing.T) {
	eng, security := newTestEngine()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		side := Buy
		if rng.Intn(2) == 1 {
			side = Sell
		}
		price := float64(90 + rng.Intn(21)) // 90..110, guaranteed overlap
		submitLimit(t, eng, security, side, price, uint64(1+rng.Intn(50)))

		depth := depthOf(t, eng, security, 1)
		if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
			assert.True(t, depth.Bids[0].Price.LessThan(depth.Asks[0].Price),
				"book crossed: bid %s >= ask %s", depth.Bids[0].Price, depth.Asks[0].Price)
		}
	}
}

func TestConservation_QuantityNeitherCreatedNorDestroyed(t *testing.T) {
	eng, security := newTestEngine()
	rng := rand.New(rand.NewSource(42))

	var submitted, matched uint64
	for i := 0; i < 5000; i++ {
		side := Buy
		if rng.Intn(2) == 1 {
			side = Sell
		}
		qty := uint64(1 + rng.Intn(100))
		result := submitLimit(t, eng, security, side, float64(95+rng.Intn(11)), qty)

		submitted += qty
		for _, fill := range result.Fills {
			matched += fill.Quantity
		}
	}

	var resting uint64
	depth := depthOf(t, eng, security, ^uint32(0))
	for _, l := range append(depth.Bids, depth.Asks...) {
		resting += l.Quantity
	}

	// Every fill removes equal quantity from exactly two orders.
	assert.Equal(t, submitted, resting+2*matched)
}

func TestDeterminism_SameInputSameBook(t *testing.T) {
	run := func() ([]MatchResult, BookDepth) {
		eng, security := newTestEngine()
		results := []MatchResult{
			submitLimit(t, eng, security, Buy, 50.0, 100),
			submitLimit(t, eng, security, Buy, 51.0, 80),
			submitLimit(t, eng, security, Sell, 50.0, 120),
			submitLimit(t, eng, security, Sell, 49.0, 90),
			submitLimit(t, eng, security, Buy, 52.0, 30),
		}
		return results, depthOf(t, eng, security, 10)
	}

	first, firstDepth := run()
	second, secondDepth := run()

	require.Len(t, second, len(first))
	for i := range first {
		require.Len(t, second[i].Fills, len(first[i].Fills))
		for j := range first[i].Fills {
			assert.Equal(t, first[i].Fills[j].Quantity, second[i].Fills[j].Quantity)
			assert.True(t, first[i].Fills[j].Price.Equal(second[i].Fills[j].Price))
		}
		assert.Equal(t, first[i].Status, second[i].Status)
	}
	assert.Equal(t, firstDepth, secondDepth)
}
