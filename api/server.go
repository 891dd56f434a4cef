// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package api exposes the indexed DEX state over HTTP: market listings,
// order book depth, trades, per-account aggregates, plus health, stats
// and Prometheus metrics for the indexer itself.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/opendex/indexer/indexer"
	"github.com/opendex/indexer/storage"
)

// Server serves the REST API over the storage read surface.
type Server struct {
	addr     string
	store    storage.Store
	counters *indexer.Counters
	router   *mux.Router
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Message string `json:"message"`
}

func NewServer(addr string, store storage.Store, counters *indexer.Counters) *Server {
	s := &Server{
		addr:     addr,
		store:    store,
		counters: counters,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleMarkets).Methods("GET")
	api.HandleFunc("/markets/{market}", s.handleMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/depth", s.handleDepth).Methods("GET")
	api.HandleFunc("/markets/{market}/book", s.handleBook).Methods("GET")
	api.HandleFunc("/markets/{market}/trades", s.handleTrades).Methods("GET")

	api.HandleFunc("/accounts/{address}/orders", s.handleAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/open-orders", s.handleAccountOpenOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/trades", s.handleAccountTrades).Methods("GET")
	api.HandleFunc("/accounts/{address}/volume", s.handleAccountVolume).Methods("GET")
	api.HandleFunc("/accounts/{address}/open-order-value", s.handleAccountOpenOrderValue).Methods("GET")
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("[API] Server starting on %s", s.addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Message: message})
}

func limitParam(r *http.Request, def int64) int64 {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.counters.Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP indexer_events_processed Total program events processed\n")
	fmt.Fprintf(w, "# TYPE indexer_events_processed counter\n")
	fmt.Fprintf(w, "indexer_events_processed %d\n", snap.EventsProcessed)

	fmt.Fprintf(w, "# HELP indexer_blocks_indexed Total blocks observed on the live feed\n")
	fmt.Fprintf(w, "# TYPE indexer_blocks_indexed counter\n")
	fmt.Fprintf(w, "indexer_blocks_indexed %d\n", snap.BlocksIndexed)

	fmt.Fprintf(w, "# HELP indexer_txs_processed Total transactions fetched and decoded\n")
	fmt.Fprintf(w, "# TYPE indexer_txs_processed counter\n")
	fmt.Fprintf(w, "indexer_txs_processed %d\n", snap.TxsProcessed)

	fmt.Fprintf(w, "# HELP indexer_orders_recorded Total orders recorded\n")
	fmt.Fprintf(w, "# TYPE indexer_orders_recorded counter\n")
	fmt.Fprintf(w, "indexer_orders_recorded %d\n", snap.OrdersRecorded)

	fmt.Fprintf(w, "# HELP indexer_trades_recorded Total trades recorded\n")
	fmt.Fprintf(w, "# TYPE indexer_trades_recorded counter\n")
	fmt.Fprintf(w, "indexer_trades_recorded %d\n", snap.TradesRecorded)

	fmt.Fprintf(w, "# HELP indexer_errors Total processing errors\n")
	fmt.Fprintf(w, "# TYPE indexer_errors counter\n")
	fmt.Fprintf(w, "indexer_errors %d\n", snap.Errors)

	fmt.Fprintf(w, "# HELP indexer_current_slot Most recent slot seen on the live feed\n")
	fmt.Fprintf(w, "# TYPE indexer_current_slot gauge\n")
	fmt.Fprintf(w, "indexer_current_slot %d\n", snap.CurrentSlot)

	fmt.Fprintf(w, "# HELP indexer_uptime_seconds Indexer uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE indexer_uptime_seconds gauge\n")
	fmt.Fprintf(w, "indexer_uptime_seconds %.0f\n", snap.UptimeSeconds)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.GetMarkets(r.Context(), limitParam(r, 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, markets)
}

// resolveMarket accepts either a market symbol or address.
func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) (*storage.Market, bool) {
	m, err := s.store.GetMarketBySymbolOrID(r.Context(), mux.Vars(r)["market"])
	if err == storage.ErrNotFound {
		s.writeError(w, http.StatusNotFound, "market not found")
		return nil, false
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return m, true
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveMarket(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveMarket(w, r)
	if !ok {
		return
	}
	depth, err := s.store.GetDepth(r.Context(), m.ID, limitParam(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, depth)
}

// bookSummary is the top-of-book view.
type bookSummary struct {
	Market       string `json:"market"`
	BestBid      *int64 `json:"best_bid"`
	BestAsk      *int64 `json:"best_ask"`
	BidLiquidity int64  `json:"bid_liquidity"`
	AskLiquidity int64  `json:"ask_liquidity"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveMarket(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	book := bookSummary{Market: m.ID}
	if bid, err := s.store.GetBestBid(ctx, m.ID); err == nil {
		book.BestBid = &bid
	} else if err != storage.ErrNotFound {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ask, err := s.store.GetBestAsk(ctx, m.ID); err == nil {
		book.BestAsk = &ask
	} else if err != storage.ErrNotFound {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var err error
	if book.BidLiquidity, err = s.store.GetBidLiquidity(ctx, m.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if book.AskLiquidity, err = s.store.GetAskLiquidity(ctx, m.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveMarket(w, r)
	if !ok {
		return
	}
	ascending := r.URL.Query().Get("order") == "asc"
	trades, err := s.store.GetTrades(r.Context(), m.ID, limitParam(r, 100), ascending)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAccountOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.GetUserOrders(r.Context(), mux.Vars(r)["address"], r.URL.Query().Get("market"), limitParam(r, 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleAccountOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.GetOpenOrders(r.Context(), r.URL.Query().Get("market"), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleAccountTrades(w http.ResponseWriter, r *http.Request) {
	ascending := r.URL.Query().Get("order") == "asc"
	trades, err := s.store.GetUserTrades(r.Context(), mux.Vars(r)["address"], r.URL.Query().Get("market"), limitParam(r, 100), ascending)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAccountVolume(w http.ResponseWriter, r *http.Request) {
	volume, err := s.store.GetUser24hVolume(r.Context(), mux.Vars(r)["address"], time.Now().UnixMilli())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"volume_24h": volume})
}

func (s *Server) handleAccountOpenOrderValue(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.GetUserOpenOrderValue(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}
