// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package main runs the DEX activity indexer: it scans on-chain market
// accounts, backfills transaction history, then follows the live log
// feed, serving the indexed state over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opendex/indexer/api"
	"github.com/opendex/indexer/indexer"
	"github.com/opendex/indexer/solana"
	"github.com/opendex/indexer/storage"
)

var version = "dev"

func main() {
	var (
		configFile   = flag.String("config", "", "Path to YAML config file")
		rpcURL       = flag.String("rpc", "", "Solana RPC URL")
		wsURL        = flag.String("ws", "", "Solana WebSocket URL")
		programID    = flag.String("program", "", "DEX program ID")
		dbURL        = flag.String("db", "", "Database URL (postgres:// or SQLite path)")
		listenAddr   = flag.String("listen", "", "HTTP listen address")
		skipBackfill = flag.Bool("skip-backfill", false, "Skip historical backfill")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("opendex-indexer %s\n", version)
		os.Exit(0)
	}

	cfg := indexer.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = indexer.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Flags override config file values.
	if *rpcURL != "" {
		cfg.RPCURL = *rpcURL
	}
	if *wsURL != "" {
		cfg.WSURL = *wsURL
	}
	if *programID != "" {
		cfg.ProgramID = *programID
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *skipBackfill {
		cfg.SkipBackfill = true
	}

	log.Printf("OpenDEX indexer %s", version)
	log.Printf("RPC: %s", cfg.RPCURL)
	log.Printf("WebSocket: %s", cfg.WSURL)
	log.Printf("Program: %s", cfg.ProgramID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("Received %s, shutting down", sig)
		cancel()
	}()

	store, err := storage.New(storage.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		log.Fatalf("Storage unreachable: %v", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Printf("Storage ready")

	client := solana.NewClient(cfg.RPCURL)
	counters := indexer.NewCounters()
	router := indexer.NewRouter(store, counters)

	slot, err := client.GetSlot(ctx)
	if err != nil {
		log.Fatalf("Failed to reach RPC: %v", err)
	}
	counters.CurrentSlot.Store(slot)
	log.Printf("Connected, current slot %d", slot)

	var wg sync.WaitGroup

	// HTTP API.
	server := api.NewServer(cfg.ListenAddr, store, counters)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	// Periodic stats line.
	wg.Add(1)
	go func() {
		defer wg.Done()
		indexer.RunStatsReporter(ctx, client, counters, 10*time.Second)
	}()

	// Step 1: index existing markets from on-chain accounts.
	count, err := indexer.IndexMarkets(ctx, client, store, cfg.ProgramID)
	if err != nil {
		log.Printf("Market scan failed: %v (order attribution may suffer)", err)
	} else {
		log.Printf("Market scan complete: %d markets indexed", count)
	}

	// Step 2: backfill history.
	if !cfg.SkipBackfill {
		backfiller := indexer.NewBackfiller(client, store, router, counters, cfg.ProgramID)
		backfiller.BatchSize = cfg.BatchSize
		txs, err := backfiller.Run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("Backfill failed after %d transactions: %v (continuing live)", txs, err)
		}
	}

	// Step 3: follow the live feed until shutdown.
	if ctx.Err() == nil {
		live := indexer.NewLiveConsumer(
			indexer.WSSubscriber{Client: solana.NewLogsClient(cfg.WSURL)},
			client, store, router, counters, cfg.ProgramID,
		)
		if err := live.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Live consumer stopped: %v", err)
		}
	}

	cancel()
	wg.Wait()
	log.Printf("Shutdown complete")
}
