package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/exchangecore/matching-engine/internal/decimal"
	"github.com/exchangecore/matching-engine/internal/journal"
	"github.com/exchangecore/matching-engine/internal/store"
)

// ErrNoLiquidity is recorded on a market order that finds the opposite
// side empty (§4.4 step 1).
const ErrNoLiquidity = "No matching orders available"

// OrderBook is the matching engine for a single symbol. It holds no
// in-memory resting state of its own (unlike the teacher, which keeps an
// in-memory book backed by MySQL as system of record) — every resting
// order lives in the store's price indices, per §4.1. OrderBook is safe
// for use by exactly one goroutine at a time; the single-writer-per-
// symbol invariant (§5, §9) is enforced by its caller (internal/processor),
// not by OrderBook itself.
type OrderBook struct {
	Symbol string
	st     store.Store

	seq int64 // atomic; see Order.Seq

	// onTrade, if set, is invoked after each trade is durably persisted
	// to the journal. Used to fan a trade out to the optional archival
	// sink without the book depending on it directly.
	onTrade func(Trade)
}

// New constructs an OrderBook for symbol backed by st.
func New(symbol string, st store.Store) *OrderBook {
	return &OrderBook{Symbol: symbol, st: st}
}

// OnTrade registers a callback invoked after each trade this book
// executes is durably persisted. Not safe to call concurrently with
// matching; call once during setup.
func (b *OrderBook) OnTrade(fn func(Trade)) {
	b.onTrade = fn
}

// Recover seeds the in-process sequence counter from the highest Seq
// among currently-resting orders, so that time priority for orders
// accepted after a restart continues strictly after whatever was
// already resting. Call once before a processor begins consuming the
// pending list for this symbol.
func (b *OrderBook) Recover(ctx context.Context) error {
	var maxSeq int64
	for _, side := range []Side{Buy, Sell} {
		ids, err := b.st.ZRange(ctx, priceIndexKey(b.Symbol, side), 0, -1, true)
		if err != nil {
			return fmt.Errorf("orderbook: recover %s: %w", b.Symbol, err)
		}
		for _, id := range ids {
			fields, err := b.st.HashGetAll(ctx, OrderKey(b.Symbol, id))
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("orderbook: recover %s order %s: %w", b.Symbol, id, err)
			}
			o, err := fromHash(fields)
			if err != nil {
				continue
			}
			if o.Seq > maxSeq {
				maxSeq = o.Seq
			}
		}
	}
	atomic.StoreInt64(&b.seq, maxSeq)
	return nil
}

func (b *OrderBook) nextSeq() int64 {
	return atomic.AddInt64(&b.seq, 1)
}

// AddLimit inserts order into the book and runs the matching loop (§4.2).
func (b *OrderBook) AddLimit(ctx context.Context, order *Order) error {
	if !order.HasPrice || !order.Price.IsPositive() {
		return fmt.Errorf("orderbook: limit order requires a positive price")
	}
	if !order.Amount.IsPositive() {
		return fmt.Errorf("orderbook: order amount must be positive")
	}

	order.Seq = b.nextSeq()
	order.Status = StatusOpen
	order.Remaining = order.Amount

	if err := b.st.Txn(ctx, func(tx store.Tx) error {
		tx.HashSet(OrderKey(order.Symbol, order.ID), toHash(order))
		tx.ZAdd(priceIndexKey(order.Symbol, order.Side), order.Price.Float64(), order.ID)
		return nil
	}); err != nil {
		return fmt.Errorf("orderbook: insert limit order %s: %w", order.ID, err)
	}

	return b.match(ctx)
}

// match drains crossable price levels until the book no longer crosses,
// per the loop in §4.2.
func (b *OrderBook) match(ctx context.Context) error {
	for {
		bid, hasBid, err := b.bestResting(ctx, Buy)
		if err != nil {
			return err
		}
		ask, hasAsk, err := b.bestResting(ctx, Sell)
		if err != nil {
			return err
		}
		if !hasBid || !hasAsk {
			return nil
		}
		if bid.Price.LessThan(ask.Price) {
			return nil
		}

		tradeAmount := bid.Remaining
		if ask.Remaining.LessThan(tradeAmount) {
			tradeAmount = ask.Remaining
		}

		// Trade price is always the resting ask's price, per §4.2.
		tradePrice := ask.Price

		trade := Trade{
			ID:         tradeID(),
			Symbol:     b.Symbol,
			Price:      tradePrice,
			Amount:     tradeAmount,
			BidOrderID: bid.ID,
			AskOrderID: ask.ID,
			Timestamp:  nowUnix(),
		}

		bid.Remaining = bid.Remaining.Sub(tradeAmount)
		ask.Remaining = ask.Remaining.Sub(tradeAmount)
		settleStatus(bid)
		settleStatus(ask)

		if err := b.applyStep(ctx, trade, bid, ask); err != nil {
			return err
		}
	}
}

// settleStatus sets o.Status to filled or partially_filled based on its
// (already decremented) Remaining.
func settleStatus(o *Order) {
	if o.Remaining.IsZero() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// applyStep atomically appends trade to the journal and persists both
// updated orders, removing either side from its price index if it is
// now filled. This is "every matching step" in §5's atomicity guarantee.
func (b *OrderBook) applyStep(ctx context.Context, trade Trade, bid, ask *Order) error {
	encoded, err := encodeTrade(trade)
	if err != nil {
		return fmt.Errorf("orderbook: encode trade: %w", err)
	}

	if err := b.st.Txn(ctx, func(tx store.Tx) error {
		journal.Append(tx, TradesKey(b.Symbol), encoded)

		tx.HashSet(OrderKey(b.Symbol, bid.ID), toHash(bid))
		if bid.Status == StatusFilled {
			tx.ZRem(priceIndexKey(b.Symbol, Buy), bid.ID)
		}

		tx.HashSet(OrderKey(b.Symbol, ask.ID), toHash(ask))
		if ask.Status == StatusFilled {
			tx.ZRem(priceIndexKey(b.Symbol, Sell), ask.ID)
		}
		return nil
	}); err != nil {
		return err
	}
	if b.onTrade != nil {
		b.onTrade(trade)
	}
	return nil
}

// AddMarket consumes the book across price levels (§4.4). Returns false
// when the order ends in failed status (no liquidity at all), true
// otherwise (filled or partially_filled).
func (b *OrderBook) AddMarket(ctx context.Context, order *Order) (bool, error) {
	if !order.Amount.IsPositive() {
		return false, fmt.Errorf("orderbook: order amount must be positive")
	}

	order.Seq = b.nextSeq()
	order.HasPrice = false
	order.Remaining = order.Amount
	opposite := oppositeSide(order.Side)

	hasLiquidity, err := b.hasResting(ctx, opposite)
	if err != nil {
		return false, err
	}
	if !hasLiquidity {
		order.Status = StatusFailed
		order.Error = ErrNoLiquidity
		if err := b.st.HashSet(ctx, OrderKey(order.Symbol, order.ID), toHash(order)); err != nil {
			return false, fmt.Errorf("orderbook: persist failed market order %s: %w", order.ID, err)
		}
		return false, nil
	}

	order.Status = StatusOpen
	if err := b.st.HashSet(ctx, OrderKey(order.Symbol, order.ID), toHash(order)); err != nil {
		return false, fmt.Errorf("orderbook: persist market order %s: %w", order.ID, err)
	}

	traded := false
	for !order.Remaining.IsZero() {
		counter, ok, err := b.bestResting(ctx, opposite)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}

		tradeAmount := order.Remaining
		if counter.Remaining.LessThan(tradeAmount) {
			tradeAmount = counter.Remaining
		}

		trade := Trade{
			ID:        tradeID(),
			Symbol:    order.Symbol,
			Price:     counter.Price,
			Amount:    tradeAmount,
			Timestamp: nowUnix(),
		}
		if order.Side == Buy {
			trade.BidOrderID, trade.AskOrderID = order.ID, counter.ID
		} else {
			trade.BidOrderID, trade.AskOrderID = counter.ID, order.ID
		}

		order.Remaining = order.Remaining.Sub(tradeAmount)
		counter.Remaining = counter.Remaining.Sub(tradeAmount)
		settleStatus(counter)
		if order.Remaining.IsZero() {
			order.Status = StatusFilled
		} else {
			order.Status = StatusPartiallyFilled
		}
		traded = true

		if err := b.applyMarketStep(ctx, trade, order, counter, opposite); err != nil {
			return false, err
		}
	}

	if order.Remaining.IsZero() {
		order.Status = StatusFilled
	} else if traded {
		order.Status = StatusPartiallyFilled
	} else {
		order.Status = StatusFailed
		order.Error = ErrNoLiquidity
	}
	if err := b.st.HashSet(ctx, OrderKey(order.Symbol, order.ID), toHash(order)); err != nil {
		return false, fmt.Errorf("orderbook: persist final market order %s: %w", order.ID, err)
	}

	return order.Status != StatusFailed, nil
}

func (b *OrderBook) applyMarketStep(ctx context.Context, trade Trade, market, counter *Order, counterSide Side) error {
	encoded, err := encodeTrade(trade)
	if err != nil {
		return fmt.Errorf("orderbook: encode trade: %w", err)
	}
	if err := b.st.Txn(ctx, func(tx store.Tx) error {
		journal.Append(tx, TradesKey(b.Symbol), encoded)

		tx.HashSet(OrderKey(b.Symbol, market.ID), toHash(market))

		tx.HashSet(OrderKey(b.Symbol, counter.ID), toHash(counter))
		if counter.Status == StatusFilled {
			tx.ZRem(priceIndexKey(b.Symbol, counterSide), counter.ID)
		}
		return nil
	}); err != nil {
		return err
	}
	if b.onTrade != nil {
		b.onTrade(trade)
	}
	return nil
}

// Cancel transitions a resting order to cancelled (§4.3). Returns false
// with no side effects if the order does not exist or is already
// terminal (idempotent per §8).
func (b *OrderBook) Cancel(ctx context.Context, id string) (bool, error) {
	fields, err := b.st.HashGetAll(ctx, OrderKey(b.Symbol, id))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("orderbook: load order %s for cancel: %w", id, err)
	}
	order, err := fromHash(fields)
	if err != nil {
		return false, fmt.Errorf("orderbook: decode order %s: %w", id, err)
	}
	if order.Status.IsTerminal() {
		return false, nil
	}

	order.Status = StatusCancelled
	err = b.st.Txn(ctx, func(tx store.Tx) error {
		tx.HashSet(OrderKey(b.Symbol, id), toHash(order))
		if order.HasPrice {
			tx.ZRem(priceIndexKey(b.Symbol, order.Side), id)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("orderbook: cancel order %s: %w", id, err)
	}
	return true, nil
}

// hasResting reports whether side has any resting order.
func (b *OrderBook) hasResting(ctx context.Context, side Side) (bool, error) {
	n, err := b.st.ZCard(ctx, priceIndexKey(b.Symbol, side))
	if err != nil {
		return false, fmt.Errorf("orderbook: zcard %s: %w", priceIndexKey(b.Symbol, side), err)
	}
	return n > 0, nil
}

// bestResting returns the oldest valid order at the best price on side,
// repairing (silently removing) any price-index entries whose backing
// hash is missing or no longer open/partially_filled (§4.2 edge cases).
//
// The zset score is only an approximate secondary index (§9 design
// note): once the best price is identified, every candidate id at that
// exact decimal price is loaded and compared by Seq to find the true
// oldest, since a real sorted set breaks score ties by member byte order,
// not by insertion order.
func (b *OrderBook) bestResting(ctx context.Context, side Side) (*Order, bool, error) {
	key := priceIndexKey(b.Symbol, side)
	ascending := side == Sell // lowest ask first, highest bid first

	for {
		top, err := b.st.ZRange(ctx, key, 0, 0, ascending)
		if err != nil {
			return nil, false, fmt.Errorf("orderbook: zrange %s: %w", key, err)
		}
		if len(top) == 0 {
			return nil, false, nil
		}

		candidate, ok, err := b.loadValid(ctx, key, top[0])
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue // repaired away; best price may have changed, retry
		}

		ids, err := b.st.ZRangeByScore(ctx, key, candidate.Price.Float64(), candidate.Price.Float64())
		if err != nil {
			return nil, false, fmt.Errorf("orderbook: zrangebyscore %s: %w", key, err)
		}

		var oldest *Order
		for _, id := range ids {
			o, ok, err := b.loadValid(ctx, key, id)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			if !o.Price.Equal(candidate.Price) {
				// Float score collision between two distinct decimal
				// prices; not this level, skip.
				continue
			}
			if oldest == nil || o.Seq < oldest.Seq {
				oldest = o
			}
		}
		if oldest == nil {
			continue // every candidate at this price was repaired away
		}
		return oldest, true, nil
	}
}

// loadValid loads the order at id, silently removing it from key's
// index (and reporting ok=false) if its hash is missing or its status
// is no longer open/partially_filled.
func (b *OrderBook) loadValid(ctx context.Context, key, id string) (*Order, bool, error) {
	fields, err := b.st.HashGetAll(ctx, OrderKey(b.Symbol, id))
	if errors.Is(err, store.ErrNotFound) {
		_ = b.st.ZRem(ctx, key, id)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("orderbook: load order %s: %w", id, err)
	}
	o, err := fromHash(fields)
	if err != nil {
		_ = b.st.ZRem(ctx, key, id)
		return nil, false, nil
	}
	if o.Status != StatusOpen && o.Status != StatusPartiallyFilled {
		_ = b.st.ZRem(ctx, key, id)
		return nil, false, nil
	}
	return o, true, nil
}

// Depth aggregates remaining amounts by price, best to worst, up to
// levels entries per side (§4.11).
func (b *OrderBook) Depth(ctx context.Context, levels int) (bids, asks []Level, err error) {
	bids, err = b.depthSide(ctx, Buy, levels)
	if err != nil {
		return nil, nil, err
	}
	asks, err = b.depthSide(ctx, Sell, levels)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (b *OrderBook) depthSide(ctx context.Context, side Side, levels int) ([]Level, error) {
	key := priceIndexKey(b.Symbol, side)
	ids, err := b.st.ZRange(ctx, key, 0, -1, true)
	if err != nil {
		return nil, fmt.Errorf("orderbook: depth %s: %w", key, err)
	}

	totals := map[string]decimal.Decimal{}
	order := []string{} // price strings in first-seen order; re-sorted below
	for _, id := range ids {
		o, ok, err := b.loadValid(ctx, key, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ps := o.Price.String()
		if existing, found := totals[ps]; found {
			totals[ps] = existing.Add(o.Remaining)
		} else {
			totals[ps] = o.Remaining
			order = append(order, ps)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		pi, pj := decimal.MustNew(order[i]), decimal.MustNew(order[j])
		if side == Buy {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})

	if levels > 0 && len(order) > levels {
		order = order[:levels]
	}

	out := make([]Level, 0, len(order))
	for _, ps := range order {
		out = append(out, Level{Price: decimal.MustNew(ps), Quantity: totals[ps]})
	}
	return out, nil
}

// RecentTrades returns the n newest trades for the symbol, newest-first.
func (b *OrderBook) RecentTrades(ctx context.Context, n int) ([]Trade, error) {
	raw, err := journal.Recent(ctx, b.st, TradesKey(b.Symbol), n)
	if err != nil {
		return nil, fmt.Errorf("orderbook: recent trades: %w", err)
	}
	trades := make([]Trade, 0, len(raw))
	for _, r := range raw {
		t, err := decodeTrade(r)
		if err != nil {
			continue // corrupted journal entry; skip rather than fail the read
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// GetOrder loads a single order's current state. The HTTP ingress's
// GET /api/v1/orders/{id} reads the order hash from the store directly
// and does not go through it.
func (b *OrderBook) GetOrder(ctx context.Context, id string) (*Order, error) {
	fields, err := b.st.HashGetAll(ctx, OrderKey(b.Symbol, id))
	if err != nil {
		return nil, err
	}
	return fromHash(fields)
}

// RestingCounts returns the number of resting orders on each side, used
// by the performance monitor's per-symbol gauges (§4.8).
func (b *OrderBook) RestingCounts(ctx context.Context) (bidCount, askCount int64, err error) {
	bidCount, err = b.st.ZCard(ctx, BuyOrdersKey(b.Symbol))
	if err != nil {
		return 0, 0, err
	}
	askCount, err = b.st.ZCard(ctx, SellOrdersKey(b.Symbol))
	if err != nil {
		return 0, 0, err
	}
	return bidCount, askCount, nil
}
