// Package httpapi implements the HTTP ingress (§6): accepting order
// intents onto the pending list, reading back order state, listing
// failed orders, a health check, a depth view, and the Prometheus scrape
// endpoint. Handlers never touch an order book directly for writes — an
// accepted request is enqueued and returns 202 immediately, matching
// latency is never observed by the caller.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/exchangecore/matching-engine/internal/manager"
	"github.com/exchangecore/matching-engine/internal/orderbook"
	"github.com/exchangecore/matching-engine/internal/store"
)

// Server wires the HTTP ingress to the store and processor manager.
type Server struct {
	st          store.Store
	mgr         *manager.Manager
	log         *zap.Logger
	depthLevels int
}

// New constructs the HTTP ingress.
func New(st store.Store, mgr *manager.Manager, log *zap.Logger, depthLevels int) *Server {
	return &Server{st: st, mgr: mgr, log: log, depthLevels: depthLevels}
}

// Router builds the gorilla/mux router for all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/failed_orders", s.handleFailedOrders).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orderbook", s.handleDepth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type createOrderRequest struct {
	TradingPair   string `json:"trading_pair"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
}

type pendingPayload struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	TradingPair   string `json:"trading_pair"`
	Type          string `json:"type"`
	Side          string `json:"side,omitempty"`
	Price         string `json:"price,omitempty"`
	Amount        string `json:"amount"`
}

// handleCreateOrder implements POST /api/v1/orders.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.TradingPair == "" {
		writeError(w, http.StatusBadRequest, "trading_pair is required")
		return
	}
	if !s.isRegistered(req.TradingPair) {
		writeError(w, http.StatusBadRequest, "unknown trading_pair")
		return
	}
	if req.Side != "buy" && req.Side != "sell" {
		writeError(w, http.StatusBadRequest, "side must be \"buy\" or \"sell\"")
		return
	}
	orderType := req.Type
	if orderType == "" {
		orderType = "limit"
	}
	if orderType != "limit" && orderType != "market" {
		writeError(w, http.StatusBadRequest, "type must be \"limit\" or \"market\"")
		return
	}
	if req.Amount == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	if orderType == "limit" && req.Price == "" {
		writeError(w, http.StatusBadRequest, "price is required for limit orders")
		return
	}

	id := orderID()
	payload := pendingPayload{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		TradingPair:   req.TradingPair,
		Type:          orderType,
		Side:          req.Side,
		Price:         req.Price,
		Amount:        req.Amount,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode order")
		return
	}

	if err := s.st.ListPushLeft(r.Context(), orderbook.PendingKey(req.TradingPair), string(encoded)); err != nil {
		s.log.Error("failed to enqueue order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": id})
}

// handleGetOrder implements GET /api/v1/orders/{id}?trading_pair=X.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("trading_pair")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "trading_pair query parameter is required")
		return
	}

	fields, err := s.st.HashGetAll(r.Context(), orderbook.OrderKey(symbol, id))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// handleCancelOrder implements DELETE /api/v1/orders/{id}?trading_pair=X.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("trading_pair")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "trading_pair query parameter is required")
		return
	}
	if !s.isRegistered(symbol) {
		writeError(w, http.StatusBadRequest, "unknown trading_pair")
		return
	}

	payload := pendingPayload{ID: id, TradingPair: symbol, Type: "cancel"}
	encoded, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode cancel")
		return
	}
	if err := s.st.ListPushLeft(r.Context(), orderbook.PendingKey(symbol), string(encoded)); err != nil {
		s.log.Error("failed to enqueue cancel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": id})
}

// handleFailedOrders implements GET /api/v1/failed_orders: at most 50
// entries in total, taken newest-first from each registered symbol's
// failed queue in turn. Entries of different symbols are not interleaved
// by time.
func (s *Server) handleFailedOrders(w http.ResponseWriter, r *http.Request) {
	const limit = 50
	var all []json.RawMessage
	for _, symbol := range s.mgr.Symbols() {
		entries, err := s.st.ListRange(r.Context(), orderbook.FailedOrdersKey(symbol), 0, limit-1)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		for _, e := range entries {
			all = append(all, json.RawMessage(e))
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failed_orders": all})
}

// handleDepth implements GET /api/v1/orderbook?trading_pair=X&depth=N.
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("trading_pair")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "trading_pair query parameter is required")
		return
	}
	book, ok := s.mgr.Book(symbol)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown trading_pair")
		return
	}

	levels := s.depthLevels
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		levels = n
	}

	bids, asks, err := book.Depth(r.Context(), levels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading_pair": symbol,
		"bids":         bids,
		"asks":         asks,
	})
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reachable := s.st.Ping(r.Context()) == nil
	status := "ok"
	if !reachable {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"time":            time.Now().UTC().Format(time.RFC3339),
		"symbols":         s.mgr.Symbols(),
		"store_reachable": reachable,
	})
}

func (s *Server) isRegistered(symbol string) bool {
	for _, sym := range s.mgr.Symbols() {
		if sym == symbol {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// orderID mints an order:{unix_ts}:{rand_hex} identifier (§6).
func orderID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return "order:" + strconv.FormatInt(time.Now().Unix(), 10) + ":" + suffix
}
