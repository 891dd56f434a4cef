// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite, for local runs and tests.
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLite creates a new SQLite store. URL ":memory:" opens an
// in-memory database.
func NewSQLite(cfg Config) (*SQLiteStore, error) {
	path := cfg.URL
	if path == "" {
		path = filepath.Join(cfg.DataDir, "indexer.db")
	}

	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	} else {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// Open database with WAL mode and other optimizations
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&cache=shared", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteStore{
		sqlStore: sqlStore{
			db:     db,
			bind:   func(q string) string { return q },
			schema: sqliteSchema,
		},
		path: path,
	}, nil
}

// sqliteSchema mirrors the PostgreSQL schema with SQLite column types.
var sqliteSchema = func() []string {
	schema := make([]string, len(postgresSchema))
	r := strings.NewReplacer(
		"BIGSERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"BIGINT", "INTEGER",
	)
	for i, stmt := range postgresSchema {
		schema[i] = r.Replace(stmt)
	}
	return schema
}()
