// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"log"
	"time"

	"github.com/opendex/indexer/solana"
	"github.com/opendex/indexer/storage"
)

const (
	defaultBackfillBatchSize = 100
	perTxDelay               = 10 * time.Millisecond
	perBatchDelay            = 100 * time.Millisecond
)

// txSource is the RPC surface the backfiller needs.
type txSource interface {
	GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Backfiller walks the program's transaction history from newest to
// oldest and replays every recognized event into storage. Replays of
// previously indexed history are harmless: all writes are idempotent.
type Backfiller struct {
	client    txSource
	store     storage.Store
	router    *Router
	counters  *Counters
	programID string

	// BatchSize is the signature page size requested per history fetch.
	BatchSize int

	// Set in tests to skip rate-limit sleeps.
	noDelay bool
}

func NewBackfiller(client txSource, store storage.Store, router *Router, counters *Counters, programID string) *Backfiller {
	return &Backfiller{
		client:    client,
		store:     store,
		router:    router,
		counters:  counters,
		programID: programID,
		BatchSize: defaultBackfillBatchSize,
	}
}

// Run backfills history until the oldest transaction is reached or ctx
// is cancelled. It returns the number of transactions processed.
func (b *Backfiller) Run(ctx context.Context) (uint64, error) {
	log.Printf("Starting historical backfill for program %s", short(b.programID))
	start := time.Now()

	var totalTxs, totalEvents uint64
	before := ""

	for {
		sigs, err := b.client.GetSignaturesForAddress(ctx, b.programID, before, b.BatchSize)
		if err != nil {
			return totalTxs, err
		}
		if len(sigs) == 0 {
			log.Printf("Reached end of transaction history")
			break
		}

		for _, sig := range sigs {
			if err := ctx.Err(); err != nil {
				return totalTxs, err
			}
			n, err := b.processSignature(ctx, sig)
			if err != nil {
				log.Printf("Failed to process transaction %s: %v", short(sig.Signature), err)
				b.counters.Errors.Add(1)
			} else {
				totalTxs++
				totalEvents += n
			}
			b.sleep(ctx, perTxDelay)
		}

		elapsed := time.Since(start).Seconds()
		if elapsed > 0 {
			log.Printf("Backfill progress: %d txs, %d events (%.1f tx/sec)", totalTxs, totalEvents, float64(totalTxs)/elapsed)
		}

		// Page backwards from the oldest signature seen.
		before = sigs[len(sigs)-1].Signature
		b.sleep(ctx, perBatchDelay)
	}

	log.Printf("Backfill complete: %d transactions, %d events in %.1fs", totalTxs, totalEvents, time.Since(start).Seconds())
	return totalTxs, nil
}

func (b *Backfiller) processSignature(ctx context.Context, sig solana.SignatureInfo) (uint64, error) {
	tx, err := b.client.GetTransaction(ctx, sig.Signature)
	if err != nil {
		return 0, err
	}
	b.counters.TxsProcessed.Add(1)

	events := ClassifyLogs(tx.LogMessages())
	if len(events) == 0 {
		return 0, nil
	}

	timestamp := sig.BlockTimeMillis()
	for _, event := range events {
		if _, err := b.store.LogEvent(ctx, &storage.Event{
			EventType: event,
			Signature: sig.Signature,
			Slot:      int64(sig.Slot),
			Timestamp: timestamp,
		}); err != nil {
			log.Printf("Failed to log event %s for %s: %v", event, short(sig.Signature), err)
		}

		if err := b.router.HandleEvent(ctx, event, tx, sig.Signature, sig.Slot, timestamp); err != nil {
			log.Printf("Failed to process event %s for %s: %v", event, short(sig.Signature), err)
			b.counters.Errors.Add(1)
		}
	}
	b.counters.EventsProcessed.Add(uint64(len(events)))
	return uint64(len(events)), nil
}

func (b *Backfiller) sleep(ctx context.Context, d time.Duration) {
	if b.noDelay {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
