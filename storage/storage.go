// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package storage persists decoded DEX state (markets, orders, trades,
// raw events) behind a pluggable Store interface.
// Supported backends: PostgreSQL (default), SQLite
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend identifies the storage backend type
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Config for storage backend
type Config struct {
	Backend Backend
	URL     string // Connection URL (postgres://) or file path for SQLite
	DataDir string // For file-based backends (SQLite)
}

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("storage: not found")

// Order status lifecycle. Replays of the same fill or cancel are
// absorbed by the unique keys and the status transitions below.
const (
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
)

// Order book sides
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Market is an on-chain market account, keyed by its address.
type Market struct {
	ID            string `json:"id"`
	BaseMint      string `json:"base_mint"`
	QuoteMint     string `json:"quote_mint"`
	Symbol        string `json:"symbol"`
	BaseDecimals  int    `json:"base_decimals"`
	QuoteDecimals int    `json:"quote_decimals"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Order is a resting limit order. Price and Quantity are in lots.
type Order struct {
	ID          string `json:"id"`
	MarketID    string `json:"market_id"`
	OrderID     int64  `json:"order_id"`
	UserAddress string `json:"user_address"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	Filled      int64  `json:"filled"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Slot        int64  `json:"slot"`
	Signature   string `json:"signature"`
}

// Trade is an executed fill. Side is the taker side ("buy" or "sell").
type Trade struct {
	ID           string `json:"id"`
	MarketID     string `json:"market_id"`
	MakerAddress string `json:"maker_address"`
	TakerAddress string `json:"taker_address"`
	Side         string `json:"side"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
	Timestamp    int64  `json:"timestamp"`
	Slot         int64  `json:"slot"`
	Signature    string `json:"signature"`
}

// Event is a raw audit record of every recognized program event.
// MarketID, UserAddress and Data may be empty.
type Event struct {
	EventType   string `json:"event_type"`
	MarketID    string `json:"market_id,omitempty"`
	UserAddress string `json:"user_address,omitempty"`
	Signature   string `json:"signature"`
	Slot        int64  `json:"slot"`
	Timestamp   int64  `json:"timestamp"`
	Data        string `json:"data,omitempty"`
}

// PriceLevel is one aggregated level of the order book.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// Depth is the aggregated order book: bids highest first, asks lowest first.
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// OpenOrderValue is the per-market value locked in a user's open orders.
type OpenOrderValue struct {
	Symbol      string `json:"symbol"`
	LockedQuote int64  `json:"locked_quote"`
	LockedBase  int64  `json:"locked_base"`
}

// Store is the persistence interface for indexed DEX data.
// All write operations are idempotent: replaying the same transaction
// produces no duplicate rows and no double counting.
type Store interface {
	// Lifecycle
	InitSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Writes. The bool result reports whether the call changed a row
	// (false means the write was a replay absorbed by a unique key).
	UpsertMarket(ctx context.Context, m *Market) error
	InsertOrder(ctx context.Context, o *Order) (bool, error)
	ApplyFill(ctx context.Context, marketID, maker, takerSide string, price, quantity int64) (bool, error)
	CancelOrder(ctx context.Context, marketID, user string) (bool, error)
	InsertTrade(ctx context.Context, t *Trade) (bool, error)
	LogEvent(ctx context.Context, ev *Event) (bool, error)

	// Order book reads
	GetDepth(ctx context.Context, marketID string, limit int64) (*Depth, error)
	GetBestBid(ctx context.Context, marketID string) (int64, error)
	GetBestAsk(ctx context.Context, marketID string) (int64, error)
	GetBidLiquidity(ctx context.Context, marketID string) (int64, error)
	GetAskLiquidity(ctx context.Context, marketID string) (int64, error)

	// Order and trade reads
	GetUserOrders(ctx context.Context, user, marketID string, limit int64) ([]*Order, error)
	GetOpenOrders(ctx context.Context, marketID, user string) ([]*Order, error)
	GetTrades(ctx context.Context, marketID string, limit int64, ascending bool) ([]*Trade, error)
	GetUserTrades(ctx context.Context, user, marketID string, limit int64, ascending bool) ([]*Trade, error)
	GetLastTradePrice(ctx context.Context, marketID string) (int64, error)

	// Market reads
	GetMarkets(ctx context.Context, limit int64) ([]*Market, error)
	GetMarketBySymbolOrID(ctx context.Context, symbolOrID string) (*Market, error)
	GetMarketSymbol(ctx context.Context, marketID string) (string, error)

	// Account aggregates
	GetUserOpenOrderValue(ctx context.Context, user string) ([]*OpenOrderValue, error)
	GetUser24hVolume(ctx context.Context, user string, now int64) (int64, error)
}

// New creates a Store for the configured backend. When cfg.Backend is
// empty the backend is inferred from the URL scheme.
func New(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
			backend = BackendPostgres
		} else {
			backend = BackendSQLite
		}
	}

	switch backend {
	case BackendPostgres:
		return NewPostgres(cfg)
	case BackendSQLite:
		return NewSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}
