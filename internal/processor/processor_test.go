package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/monitor"
	"github.com/exchangecore/matching-engine/internal/orderbook"
	"github.com/exchangecore/matching-engine/internal/store"
)

func newTestProcessor(t *testing.T, symbol string) (*Processor, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewFromClient(client)
	mon := monitor.New(prometheus.NewRegistry())
	p := New(symbol, st, mon, zap.NewNop())
	return p, st
}

func runOneIteration(t *testing.T, p *Processor, st store.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, ok, err := st.ListBPopRight(ctx, orderbook.PendingKey(p.Symbol), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	p.handle(ctx, raw)
}

func TestProcessorAcceptsLimitOrder(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	enqueue(t, st, "BTCUSDT", payload{ID: "b1", TradingPair: "BTCUSDT", Type: "limit", Side: "buy", Price: "30000.0", Amount: "1.0"})
	runOneIteration(t, p, st)

	fields, err := st.HashGetAll(ctx, orderbook.OrderKey("BTCUSDT", "b1"))
	require.NoError(t, err)
	require.Equal(t, "open", fields["status"])
}

func TestProcessorRejectsInvalidPrice(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	enqueue(t, st, "BTCUSDT", payload{ID: "b1", TradingPair: "BTCUSDT", Type: "limit", Side: "buy", Price: "-1", Amount: "1.0"})
	runOneIteration(t, p, st)

	failed, err := st.ListRange(ctx, orderbook.FailedOrdersKey("BTCUSDT"), 0, -1)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	var rec failedRecord
	require.NoError(t, json.Unmarshal([]byte(failed[0]), &rec))
	require.Contains(t, rec.Error, "positive price")
}

func TestProcessorMisrouteRepair(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	enqueue(t, st, "BTCUSDT", payload{ID: "e1", TradingPair: "ETHUSDT", Type: "limit", Side: "buy", Price: "3000.0", Amount: "1.0"})
	runOneIteration(t, p, st)

	// Nothing should land in BTCUSDT's own state.
	_, err := st.HashGetAll(ctx, orderbook.OrderKey("BTCUSDT", "e1"))
	require.ErrorIs(t, err, store.ErrNotFound)

	rerouted, err := st.ListRange(ctx, orderbook.PendingKey("ETHUSDT"), 0, -1)
	require.NoError(t, err)
	require.Len(t, rerouted, 1)

	var pl payload
	require.NoError(t, json.Unmarshal([]byte(rerouted[0]), &pl))
	require.Equal(t, "e1", pl.ID)
	require.Equal(t, "ETHUSDT", pl.TradingPair)
}

func TestProcessorRejectsMissingTradingPair(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	enqueue(t, st, "BTCUSDT", payload{ID: "b1", Type: "limit", Side: "buy", Price: "30000.0", Amount: "1.0"})
	runOneIteration(t, p, st)

	// Must not silently adopt the consuming symbol.
	_, err := st.HashGetAll(ctx, orderbook.OrderKey("BTCUSDT", "b1"))
	require.ErrorIs(t, err, store.ErrNotFound)

	failed, err := st.ListRange(ctx, orderbook.FailedOrdersKey("BTCUSDT"), 0, -1)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	var rec failedRecord
	require.NoError(t, json.Unmarshal([]byte(failed[0]), &rec))
	require.Contains(t, rec.Error, "trading_pair")
}

func TestProcessorMalformedPayload(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	require.NoError(t, st.ListPushLeft(ctx, orderbook.PendingKey("BTCUSDT"), "not json"))
	runOneIteration(t, p, st)

	failed, err := st.ListRange(ctx, orderbook.FailedOrdersKey("BTCUSDT"), 0, -1)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestProcessorCancel(t *testing.T) {
	ctx := context.Background()
	p, st := newTestProcessor(t, "BTCUSDT")

	enqueue(t, st, "BTCUSDT", payload{ID: "b1", TradingPair: "BTCUSDT", Type: "limit", Side: "buy", Price: "30000.0", Amount: "1.0"})
	runOneIteration(t, p, st)

	enqueue(t, st, "BTCUSDT", payload{ID: "b1", TradingPair: "BTCUSDT", Type: "cancel"})
	runOneIteration(t, p, st)

	fields, err := st.HashGetAll(ctx, orderbook.OrderKey("BTCUSDT", "b1"))
	require.NoError(t, err)
	require.Equal(t, "cancelled", fields["status"])
}

func TestProcessorStopDrainsCleanly(t *testing.T) {
	p, _ := newTestProcessor(t, "BTCUSDT")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	p.Stop(stopCtx)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func enqueue(t *testing.T, st store.Store, symbol string, pl payload) {
	t.Helper()
	encoded, err := json.Marshal(pl)
	require.NoError(t, err)
	require.NoError(t, st.ListPushLeft(context.Background(), orderbook.PendingKey(symbol), string(encoded)))
}
