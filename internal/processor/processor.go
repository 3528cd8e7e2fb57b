// Package processor implements the per-symbol single-consumer loop (§4.6):
// it drains pending:{symbol}, validates and normalizes each payload, and
// dispatches it to that symbol's order book. It is the only writer of its
// symbol's order hashes, price indices, and trade journal.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/decimal"
	"github.com/exchangecore/matching-engine/internal/monitor"
	"github.com/exchangecore/matching-engine/internal/orderbook"
	"github.com/exchangecore/matching-engine/internal/store"
)

// popTimeout bounds each blocking pop so stop() is checked at least this
// often even when the pending list is empty.
const popTimeout = 1 * time.Second

// idleSpin is the short yield between iterations that prevents tight
// spinning if the blocking pop returns spuriously.
const idleSpin = 1 * time.Millisecond

// payload is the loosely-typed wire form read off the pending list.
type payload struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	TradingPair   string `json:"trading_pair"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
}

// failedRecord is what gets pushed onto failed_orders:{symbol}. Order is
// kept as a plain string (not json.RawMessage) because the original
// payload may itself be malformed JSON, which RawMessage would embed
// verbatim and break the record's own validity.
type failedRecord struct {
	Order string `json:"order"`
	Error string `json:"error"`
}

// Processor owns one symbol's order book and is the single writer of its
// state, per the concurrency model's central isolation invariant.
type Processor struct {
	Symbol string

	st   store.Store
	book *orderbook.OrderBook
	mon  *monitor.Monitor
	log  *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Processor for symbol. Call Recover once before Run to
// seed the order book's sequence counter from any resting state.
func New(symbol string, st store.Store, mon *monitor.Monitor, log *zap.Logger) *Processor {
	return &Processor{
		Symbol: symbol,
		st:     st,
		book:   orderbook.New(symbol, st),
		mon:    mon,
		log:    log.With(zap.String("symbol", symbol)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Recover seeds the order book's time-priority counter from store state.
func (p *Processor) Recover(ctx context.Context) error {
	return p.book.Recover(ctx)
}

// OnTrade registers fn to be called with every trade this processor's
// order book executes. Used to fan trades out to the optional archival
// sink. Not safe to call once Run has started.
func (p *Processor) OnTrade(fn func(symbol string, trade orderbook.Trade)) {
	p.book.OnTrade(func(t orderbook.Trade) {
		fn(p.Symbol, t)
	})
}

// Run drains the pending list until Stop is called or ctx is cancelled.
// A panic from a single iteration is recovered, logged, and terminates
// the loop without affecting any other symbol's processor (§4.7, §7).
func (p *Processor) Run(ctx context.Context) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor terminated by panic", zap.Any("panic", r))
		}
	}()

	key := orderbook.PendingKey(p.Symbol)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		raw, ok, err := p.st.ListBPopRight(ctx, key, popTimeout)
		if err != nil {
			p.log.Error("pending list pop failed", zap.Error(err))
			time.Sleep(idleSpin)
			continue
		}
		if !ok {
			continue // timed out, loop back to check stop/ctx
		}

		p.handle(ctx, raw)
		time.Sleep(idleSpin)
	}
}

// Stop signals Run to drain and exit at its next loop check, then blocks
// until it has (or ctx is done).
func (p *Processor) Stop(ctx context.Context) {
	close(p.stop)
	select {
	case <-p.done:
	case <-ctx.Done():
	}
}

// handle implements one iteration of the processor loop (§4.6, steps 2-7).
func (p *Processor) handle(ctx context.Context, raw string) {
	started := time.Now()
	op := "unknown"
	defer func() {
		p.mon.Record(op, time.Since(started), p.Symbol)
	}()

	var pl payload
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		p.fail(ctx, p.Symbol, raw, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	op = pl.Type

	if pl.TradingPair == "" || pl.Type == "" {
		p.fail(ctx, p.Symbol, raw, "trading_pair and type are required")
		return
	}

	if pl.TradingPair != p.Symbol {
		// Misroute repair: push the untouched raw payload to the owning
		// symbol's pending list. Not a failure of this symbol.
		if err := p.st.ListPushLeft(ctx, orderbook.PendingKey(pl.TradingPair), raw); err != nil {
			p.log.Error("misroute repair failed", zap.String("target_symbol", pl.TradingPair), zap.Error(err))
		}
		return
	}

	switch pl.Type {
	case "limit":
		p.handleLimit(ctx, pl, raw)
	case "market":
		p.handleMarket(ctx, pl, raw)
	case "cancel":
		p.handleCancel(ctx, pl, raw)
	default:
		p.fail(ctx, p.Symbol, raw, fmt.Sprintf("unknown order type %q", pl.Type))
	}
}

func (p *Processor) handleLimit(ctx context.Context, pl payload, raw string) {
	price, err := decimal.New(pl.Price)
	if err != nil || !price.IsPositive() {
		p.fail(ctx, p.Symbol, raw, "limit order requires a positive price")
		return
	}
	amount, err := decimal.New(pl.Amount)
	if err != nil || !amount.IsPositive() {
		p.fail(ctx, p.Symbol, raw, "order amount must be positive")
		return
	}
	side, err := parseSide(pl.Side)
	if err != nil {
		p.fail(ctx, p.Symbol, raw, err.Error())
		return
	}

	order := &orderbook.Order{
		ID:            pl.ID,
		ClientOrderID: pl.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          side,
		Type:          orderbook.Limit,
		Price:         price,
		HasPrice:      true,
		Amount:        amount,
		Timestamp:     time.Now().Unix(),
	}
	if err := p.book.AddLimit(ctx, order); err != nil {
		p.fail(ctx, p.Symbol, raw, err.Error())
	}
}

func (p *Processor) handleMarket(ctx context.Context, pl payload, raw string) {
	amount, err := decimal.New(pl.Amount)
	if err != nil || !amount.IsPositive() {
		p.fail(ctx, p.Symbol, raw, "order amount must be positive")
		return
	}
	side, err := parseSide(pl.Side)
	if err != nil {
		p.fail(ctx, p.Symbol, raw, err.Error())
		return
	}

	order := &orderbook.Order{
		ID:            pl.ID,
		ClientOrderID: pl.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          side,
		Type:          orderbook.Market,
		Amount:        amount,
		Timestamp:     time.Now().Unix(),
	}
	if _, err := p.book.AddMarket(ctx, order); err != nil {
		p.fail(ctx, p.Symbol, raw, err.Error())
	}
}

func (p *Processor) handleCancel(ctx context.Context, pl payload, raw string) {
	if pl.ID == "" {
		p.fail(ctx, p.Symbol, raw, "cancel requires an order id")
		return
	}
	if _, err := p.book.Cancel(ctx, pl.ID); err != nil {
		p.fail(ctx, p.Symbol, raw, err.Error())
	}
}

// fail records a diagnostic entry on failed_orders:{symbol} without
// ever propagating the error back out of the loop (§4.6 step 7, §7).
func (p *Processor) fail(ctx context.Context, symbol, raw, reason string) {
	rec := failedRecord{Order: raw, Error: reason}
	encoded, err := json.Marshal(rec)
	if err != nil {
		p.log.Error("failed to encode failed-order record", zap.Error(err))
		return
	}
	if err := p.st.ListPushLeft(ctx, orderbook.FailedOrdersKey(symbol), string(encoded)); err != nil {
		p.log.Error("failed to record failed order", zap.Error(err))
	}
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	default:
		return "", errors.New("side must be \"buy\" or \"sell\"")
	}
}
