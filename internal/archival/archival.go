// Package archival implements an optional, non-authoritative trade
// archival sink: a fire-and-forget copy of every executed trade into
// MySQL for downstream reporting. The store's trade journal (§4.9)
// remains the system of record for matching; a failure here is logged
// and never blocks or retries a matching step.
package archival

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/orderbook"
)

// Sink writes executed trades to MySQL on a buffered channel, decoupled
// from the processor goroutine that produced them.
type Sink struct {
	db  *sql.DB
	log *zap.Logger

	trades chan archivedTrade
	done   chan struct{}
}

type archivedTrade struct {
	symbol string
	trade  orderbook.Trade
}

// Connect opens and pings the archival database; the schema is created by
// New. An empty dsn means archival is disabled; callers should check for
// ErrDisabled.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrDisabled
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("archival: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archival: ping: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// ErrDisabled is returned by Connect when no DSN is configured.
var ErrDisabled = fmt.Errorf("archival: disabled (no DSN configured)")

const schema = `
CREATE TABLE IF NOT EXISTS archived_trades (
	id VARCHAR(128) PRIMARY KEY,
	symbol VARCHAR(32) NOT NULL,
	price VARCHAR(64) NOT NULL,
	amount VARCHAR(64) NOT NULL,
	bid_order_id VARCHAR(128) NOT NULL,
	ask_order_id VARCHAR(128) NOT NULL,
	executed_at BIGINT NOT NULL,
	archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// New constructs a Sink backed by db and starts its background writer.
// bufferSize bounds how many trades may be queued before Append starts
// dropping (logging a warning) rather than blocking the caller.
func New(db *sql.DB, log *zap.Logger, bufferSize int) (*Sink, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("archival: create schema: %w", err)
	}
	s := &Sink{
		db:     db,
		log:    log,
		trades: make(chan archivedTrade, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Append queues a trade for archival. Never blocks the caller (the
// matching step that produced the trade) beyond a full buffer check;
// a full buffer drops the trade and logs a warning rather than applying
// backpressure to matching.
func (s *Sink) Append(symbol string, trade orderbook.Trade) {
	select {
	case s.trades <- archivedTrade{symbol: symbol, trade: trade}:
	default:
		s.log.Warn("archival buffer full, dropping trade", zap.String("trade_id", trade.ID))
	}
}

func (s *Sink) run() {
	defer close(s.done)
	stmt, err := s.db.Prepare(`
		INSERT INTO archived_trades (id, symbol, price, amount, bid_order_id, ask_order_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`)
	if err != nil {
		s.log.Error("archival: prepare insert statement", zap.Error(err))
		return
	}
	defer stmt.Close()

	for at := range s.trades {
		t := at.trade
		_, err := stmt.ExecContext(context.Background(),
			t.ID, at.symbol, t.Price.String(), t.Amount.String(), t.BidOrderID, t.AskOrderID, t.Timestamp)
		if err != nil {
			s.log.Error("archival: insert trade failed", zap.String("trade_id", t.ID), zap.Error(err))
		}
	}
}

// Close stops accepting new trades and waits for the writer to drain.
func (s *Sink) Close() error {
	close(s.trades)
	<-s.done
	return s.db.Close()
}
