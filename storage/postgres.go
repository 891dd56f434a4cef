// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	sqlStore
	config Config
}

// NewPostgres creates a new PostgreSQL store
func NewPostgres(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		sqlStore: sqlStore{
			db:     db,
			bind:   bindPostgres,
			schema: postgresSchema,
		},
		config: cfg,
	}, nil
}

// bindPostgres rewrites ? placeholders to $1..$n.
func bindPostgres(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		id TEXT PRIMARY KEY,
		base_mint TEXT NOT NULL,
		quote_mint TEXT NOT NULL,
		symbol TEXT NOT NULL,
		base_decimals INTEGER NOT NULL,
		quote_decimals INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		order_id BIGINT NOT NULL,
		user_address TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		price BIGINT NOT NULL,
		quantity BIGINT NOT NULL,
		filled BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		slot BIGINT NOT NULL,
		signature TEXT NOT NULL,
		UNIQUE (market_id, order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		maker_address TEXT NOT NULL,
		taker_address TEXT NOT NULL,
		side TEXT NOT NULL,
		price BIGINT NOT NULL,
		quantity BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		slot BIGINT NOT NULL,
		signature TEXT NOT NULL,
		UNIQUE (signature, market_id, timestamp)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		market_id TEXT,
		user_address TEXT,
		signature TEXT NOT NULL,
		slot BIGINT NOT NULL,
		timestamp BIGINT NOT NULL,
		data TEXT,
		UNIQUE (signature, event_type, slot)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders (market_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_address)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_market_time ON trades (market_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_maker ON trades (maker_address)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_taker ON trades (taker_address)`,
	`CREATE INDEX IF NOT EXISTS idx_events_signature ON events (signature)`,
}
