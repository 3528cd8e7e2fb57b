package orderbook

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/exchangecore/matching-engine/internal/decimal"
	"github.com/exchangecore/matching-engine/internal/store"
)

func newTestBook(t *testing.T, symbol string) *OrderBook {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(symbol, store.NewFromClient(client))
}

func limitOrder(id string, side Side, price, amount string) *Order {
	return &Order{
		ID:       id,
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     Limit,
		Price:    decimal.MustNew(price),
		HasPrice: true,
		Amount:   decimal.MustNew(amount),
	}
}

// Scenario 1: partial fill, price-time priority isn't yet tested (single
// order per side).
func TestScenario1_PartialFill(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	b1 := limitOrder("b1", Buy, "30000.0", "1.5")
	require.NoError(t, book.AddLimit(ctx, b1))

	s1 := limitOrder("s1", Sell, "30000.0", "1.0")
	require.NoError(t, book.AddLimit(ctx, s1))

	trades, err := book.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "30000.0", trades[0].Price.String())
	require.Equal(t, "1.0", trades[0].Amount.String())
	require.Equal(t, "b1", trades[0].BidOrderID)
	require.Equal(t, "s1", trades[0].AskOrderID)

	gotB1, err := book.GetOrder(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyFilled, gotB1.Status)
	require.Equal(t, "0.5", gotB1.Remaining.String())

	gotS1, err := book.GetOrder(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, gotS1.Status)

	askCard, err := book.st.ZCard(ctx, SellOrdersKey("BTCUSDT"))
	require.NoError(t, err)
	require.Zero(t, askCard, "filled ask must be removed from the price index")
}

// Scenario 2: price priority — the higher bid matches first even though
// it was inserted second.
func TestScenario2_PricePriority(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("b1", Buy, "30000.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("b2", Buy, "30100.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("s1", Sell, "30000.0", "1.0")))

	trades, err := book.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "30000.0", trades[0].Price.String())
	require.Equal(t, "b2", trades[0].BidOrderID)

	gotB2, err := book.GetOrder(ctx, "b2")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, gotB2.Status)

	gotB1, err := book.GetOrder(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, gotB1.Status)
	require.Equal(t, "1.0", gotB1.Remaining.String())
}

// Scenario 3: cancel removes a resting order; a later crossing order
// finds no liquidity and rests instead.
func TestScenario3_Cancel(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("b1", Buy, "30000.0", "1.0")))

	ok, err := book.Cancel(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)

	gotB1, err := book.GetOrder(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, gotB1.Status)

	bidCard, err := book.st.ZCard(ctx, BuyOrdersKey("BTCUSDT"))
	require.NoError(t, err)
	require.Zero(t, bidCard)

	require.NoError(t, book.AddLimit(ctx, limitOrder("s1", Sell, "30000.0", "1.0")))
	gotS1, err := book.GetOrder(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, gotS1.Status, "should rest, no liquidity to match against")
}

// Scenario 4: market buy against an empty book fails with no trade.
func TestScenario4_MarketNoLiquidity(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	order := &Order{ID: "m1", Symbol: "BTCUSDT", Side: Buy, Type: Market, Amount: decimal.MustNew("1.0")}
	ok, err := book.AddMarket(ctx, order)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := book.GetOrder(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ErrNoLiquidity, got.Error)

	trades, err := book.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, trades)
}

// Scenario 5: market sell sweeps two price levels with slippage.
func TestScenario5_MarketSweepsLevels(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("buy1", Buy, "49900.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("buy2", Buy, "49800.0", "2.0")))

	order := &Order{ID: "m1", Symbol: "BTCUSDT", Side: Sell, Type: Market, Amount: decimal.MustNew("1.5")}
	ok, err := book.AddMarket(ctx, order)
	require.NoError(t, err)
	require.True(t, ok)

	trades, err := book.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// newest-first: the 49800 fill happened second.
	require.Equal(t, "49800.0", trades[0].Price.String())
	require.Equal(t, "0.5", trades[0].Amount.String())
	require.Equal(t, "49900.0", trades[1].Price.String())
	require.Equal(t, "1.0", trades[1].Amount.String())

	gotBuy1, err := book.GetOrder(ctx, "buy1")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, gotBuy1.Status)

	gotBuy2, err := book.GetOrder(ctx, "buy2")
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyFilled, gotBuy2.Status)
	require.Equal(t, "1.5", gotBuy2.Remaining.String())

	gotM1, err := book.GetOrder(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, gotM1.Status)
}

// TestCancelAlreadyFilledIsIdempotent covers the boundary from §8:
// cancelling an already-filled order returns false and changes nothing.
func TestCancelAlreadyFilledIsIdempotent(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("s1", Sell, "30000.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("b1", Buy, "30000.0", "1.0")))

	gotS1, err := book.GetOrder(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, gotS1.Status)

	ok, err := book.Cancel(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	stillS1, err := book.GetOrder(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusFilled, stillS1.Status)
}

// TestCancelUnknownOrder covers the not-found boundary (§7, §8).
func TestCancelUnknownOrder(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	ok, err := book.Cancel(ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestMarketPartialFillTracksRemaining covers the boundary in §8: a
// market order exceeding total opposing liquidity ends partially_filled
// with the correct remaining.
func TestMarketPartialFillTracksRemaining(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("s1", Sell, "30000.0", "1.0")))

	order := &Order{ID: "m1", Symbol: "BTCUSDT", Side: Buy, Type: Market, Amount: decimal.MustNew("5.0")}
	ok, err := book.AddMarket(ctx, order)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := book.GetOrder(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyFilled, got.Status)
	require.Equal(t, "4.0", got.Remaining.String())
}

// TestBookNeverCrosses is a small property check: after a sequence of
// inserts the best bid is never >= the best ask while both sides are
// non-empty.
func TestBookNeverCrosses(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("b1", Buy, "100.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("s1", Sell, "105.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("b2", Buy, "101.0", "1.0")))

	bid, hasBid, err := book.bestResting(ctx, Buy)
	require.NoError(t, err)
	ask, hasAsk, err := book.bestResting(ctx, Sell)
	require.NoError(t, err)
	require.True(t, hasBid)
	require.True(t, hasAsk)
	require.True(t, bid.Price.LessThan(ask.Price))
}

// TestDepthAggregatesByPrice checks Depth groups remaining amounts by
// price, best first.
func TestDepthAggregatesByPrice(t *testing.T) {
	ctx := context.Background()
	book := newTestBook(t, "BTCUSDT")

	require.NoError(t, book.AddLimit(ctx, limitOrder("b1", Buy, "100.0", "1.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("b2", Buy, "100.0", "2.0")))
	require.NoError(t, book.AddLimit(ctx, limitOrder("b3", Buy, "99.0", "5.0")))

	bids, asks, err := book.Depth(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, asks)
	require.Len(t, bids, 2)
	require.Equal(t, "100.0", bids[0].Price.String())
	require.Equal(t, "3.0", bids[0].Quantity.String())
	require.Equal(t, "99.0", bids[1].Price.String())
}
