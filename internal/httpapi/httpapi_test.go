package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/manager"
	"github.com/exchangecore/matching-engine/internal/monitor"
	"github.com/exchangecore/matching-engine/internal/orderbook"
	"github.com/exchangecore/matching-engine/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewFromClient(client)
	mon := monitor.New(prometheus.NewRegistry())
	mgr := manager.New(st, mon, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, mgr.Start(ctx, []string{"BTCUSDT"}))

	srv := New(st, mgr, zap.NewNop(), 20)
	cleanup := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer stopCancel()
		mgr.Stop(stopCtx)
		cancel()
	}
	return srv, st, cleanup
}

func TestCreateOrderEnqueuesAndReturns202(t *testing.T) {
	srv, st, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(createOrderRequest{
		TradingPair: "BTCUSDT", Side: "buy", Type: "limit", Price: "30000.0", Amount: "1.0",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["order_id"])

	require.Eventually(t, func() bool {
		fields, err := st.HashGetAll(context.Background(), orderbook.OrderKey("BTCUSDT", resp["order_id"]))
		return err == nil && fields["status"] == "open"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateOrderRejectsUnknownSymbol(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(createOrderRequest{
		TradingPair: "DOGEUSDT", Side: "buy", Type: "limit", Price: "1.0", Amount: "1.0",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/does-not-exist?trading_pair=BTCUSDT", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrderEnqueuesCancel(t *testing.T) {
	srv, st, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(createOrderRequest{
		TradingPair: "BTCUSDT", Side: "buy", Type: "limit", Price: "30000.0", Amount: "1.0",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["order_id"]

	require.Eventually(t, func() bool {
		fields, err := st.HashGetAll(context.Background(), orderbook.OrderKey("BTCUSDT", id))
		return err == nil && fields["status"] == "open"
	}, 2*time.Second, 10*time.Millisecond)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/orders/"+id+"?trading_pair=BTCUSDT", nil)
	delRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusAccepted, delRec.Code)

	require.Eventually(t, func() bool {
		fields, err := st.HashGetAll(context.Background(), orderbook.OrderKey("BTCUSDT", id))
		return err == nil && fields["status"] == "cancelled"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthReportsStoreReachable(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, true, resp["store_reachable"])
}

func TestDepthEndpoint(t *testing.T) {
	srv, st, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(createOrderRequest{
		TradingPair: "BTCUSDT", Side: "buy", Type: "limit", Price: "30000.0", Amount: "1.0",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		fields, err := st.HashGetAll(context.Background(), orderbook.OrderKey("BTCUSDT", resp["order_id"]))
		return err == nil && fields["status"] == "open"
	}, 2*time.Second, 10*time.Millisecond)

	depthReq := httptest.NewRequest(http.MethodGet, "/api/v1/orderbook?trading_pair=BTCUSDT", nil)
	depthRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(depthRec, depthReq)
	require.Equal(t, http.StatusOK, depthRec.Code)

	var depth map[string]interface{}
	require.NoError(t, json.Unmarshal(depthRec.Body.Bytes(), &depth))
	bids, ok := depth["bids"].([]interface{})
	require.True(t, ok)
	require.Len(t, bids, 1)
}
