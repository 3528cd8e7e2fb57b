// Package manager implements the processor manager (§4.7): it starts one
// processor per registered symbol, isolates failures between them, and
// drains all of them cleanly on shutdown. It also composes the full
// metrics() report (§4.8) from the monitor's latency stats plus each
// symbol's live queue length and resting-order counts.
package manager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/monitor"
	"github.com/exchangecore/matching-engine/internal/orderbook"
	"github.com/exchangecore/matching-engine/internal/processor"
	"github.com/exchangecore/matching-engine/internal/store"
)

// TradeArchiver is the subset of archival.Sink the manager depends on.
// Kept as an interface so tests and deployments without archival enabled
// never need to import database/sql.
type TradeArchiver interface {
	Append(symbol string, trade orderbook.Trade)
}

// Manager owns one Processor per registered symbol.
type Manager struct {
	st       store.Store
	mon      *monitor.Monitor
	log      *zap.Logger
	archiver TradeArchiver

	mu         sync.RWMutex
	processors map[string]*processor.Processor
	books      map[string]*orderbook.OrderBook
	wg         sync.WaitGroup
}

// New constructs a Manager for the given symbol registry. It does not
// start any processors; call Start for that.
func New(st store.Store, mon *monitor.Monitor, log *zap.Logger) *Manager {
	return &Manager{
		st:         st,
		mon:        mon,
		log:        log,
		processors: make(map[string]*processor.Processor),
		books:      make(map[string]*orderbook.OrderBook),
	}
}

// WithArchiver registers an optional, non-authoritative trade archival
// sink. Every trade executed by any symbol's processor is fanned out to
// it after the matching step's own transaction commits. Must be called
// before Start.
func (m *Manager) WithArchiver(archiver TradeArchiver) {
	m.archiver = archiver
}

// Start reconciles the configured symbol list into the store's
// trading_pairs registry (§3, §6) — the authoritative set of active
// symbols — then launches one processor per registered member, each on
// its own goroutine. A processor that later panics is logged and
// terminates without affecting its siblings (§4.7, §7); Start itself
// fails fast if recovery from the store fails for any symbol, since
// that indicates the store is unreachable rather than a symbol-local
// problem.
func (m *Manager) Start(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, symbol := range symbols {
		if err := m.st.SetAdd(ctx, orderbook.TradingPairsKey, symbol); err != nil {
			return fmt.Errorf("manager: register %s in trading_pairs: %w", symbol, err)
		}
	}

	registered, err := m.st.SetMembers(ctx, orderbook.TradingPairsKey)
	if err != nil {
		return fmt.Errorf("manager: read trading_pairs registry: %w", err)
	}

	for _, symbol := range registered {
		p := processor.New(symbol, m.st, m.mon, m.log)
		if err := p.Recover(ctx); err != nil {
			return fmt.Errorf("manager: recover %s: %w", symbol, err)
		}
		if m.archiver != nil {
			p.OnTrade(func(sym string, trade orderbook.Trade) {
				m.archiver.Append(sym, trade)
			})
		}
		m.processors[symbol] = p
		m.books[symbol] = orderbook.New(symbol, m.st)

		m.wg.Add(1)
		go func(sym string, proc *processor.Processor) {
			defer m.wg.Done()
			m.log.Info("processor started", zap.String("symbol", sym))
			proc.Run(ctx)
			m.log.Info("processor stopped", zap.String("symbol", sym))
		}(symbol, p)
	}
	return nil
}

// Stop signals every processor to drain and exit, then waits for all of
// them to finish (or ctx to expire).
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	processors := make([]*processor.Processor, 0, len(m.processors))
	for _, p := range m.processors {
		processors = append(processors, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range processors {
		wg.Add(1)
		go func(proc *processor.Processor) {
			defer wg.Done()
			proc.Stop(ctx)
		}(p)
	}
	wg.Wait()
}

// Book returns the order book for symbol, if it is registered.
func (m *Manager) Book(symbol string) (*orderbook.OrderBook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[symbol]
	return b, ok
}

// Symbols returns the currently registered symbol list.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.processors))
	for symbol := range m.processors {
		out = append(out, symbol)
	}
	return out
}

// SymbolReport is one symbol's full metrics() entry (§4.8).
type SymbolReport struct {
	Ops         map[string]monitor.OpStats
	QueueLength int64
	BidCount    int64
	AskCount    int64
}

// Metrics composes the full metrics() report: per-symbol, per-operation
// latency stats from the monitor, plus each symbol's live queue length
// and resting-order counts read straight from the store.
func (m *Manager) Metrics(ctx context.Context) (map[string]SymbolReport, error) {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.processors))
	for symbol := range m.processors {
		symbols = append(symbols, symbol)
	}
	books := make(map[string]*orderbook.OrderBook, len(m.books))
	for symbol, b := range m.books {
		books[symbol] = b
	}
	m.mu.RUnlock()

	out := make(map[string]SymbolReport, len(symbols))
	for _, symbol := range symbols {
		queueLen, err := m.st.ListLen(ctx, orderbook.PendingKey(symbol))
		if err != nil {
			return nil, fmt.Errorf("manager: queue length for %s: %w", symbol, err)
		}
		bidCount, askCount, err := books[symbol].RestingCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("manager: resting counts for %s: %w", symbol, err)
		}

		m.mon.SetQueueLength(symbol, queueLen)
		m.mon.SetRestingCounts(symbol, bidCount, askCount)

		out[symbol] = SymbolReport{
			Ops:         m.mon.Snapshot(symbol),
			QueueLength: queueLen,
			BidCount:    bidCount,
			AskCount:    askCount,
		}
	}
	return out, nil
}
