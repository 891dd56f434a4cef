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
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// logStream is one live subscription.
type logStream interface {
	Recv() (*solana.LogsEvent, error)
	Close() error
}

// logSubscriber opens live log subscriptions.
type logSubscriber interface {
	Subscribe(ctx context.Context, program string) (logStream, error)
}

// WSSubscriber adapts the WebSocket logs client to the subscriber
// interface used by the consumer.
type WSSubscriber struct {
	Client *solana.LogsClient
}

func (s WSSubscriber) Subscribe(ctx context.Context, program string) (logStream, error) {
	return s.Client.Subscribe(ctx, program)
}

// LiveConsumer follows the program's log subscription and routes every
// recognized event into storage. The subscription overlaps with the
// backfill window; overlapping transactions are deduplicated by the
// storage unique keys.
type LiveConsumer struct {
	subscriber logSubscriber
	client     txSource
	store      storage.Store
	router     *Router
	counters   *Counters
	programID  string
}

func NewLiveConsumer(subscriber logSubscriber, client txSource, store storage.Store, router *Router, counters *Counters, programID string) *LiveConsumer {
	return &LiveConsumer{
		subscriber: subscriber,
		client:     client,
		store:      store,
		router:     router,
		counters:   counters,
		programID:  programID,
	}
}

// Run consumes the live feed until ctx is cancelled, reconnecting with
// exponential backoff when the stream drops.
func (l *LiveConsumer) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stream, err := l.subscriber.Subscribe(ctx, l.programID)
		if err != nil {
			log.Printf("Log subscription failed: %v (retrying in %s)", err, delay)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		log.Printf("Subscribed to program logs for %s", short(l.programID))
		delay = reconnectBaseDelay

		err = l.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Log stream ended: %v (reconnecting)", err)
	}
}

func (l *LiveConsumer) consume(ctx context.Context, stream logStream) error {
	var lastSlot uint64
	eventsInBlock := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := stream.Recv()
		if err != nil {
			return err
		}

		l.counters.CurrentSlot.Store(ev.Slot)
		if ev.Slot != lastSlot {
			if lastSlot != 0 {
				if eventsInBlock > 0 {
					log.Printf("Block %d indexed: %d notifications", lastSlot, eventsInBlock)
				}
				l.counters.BlocksIndexed.Add(1)
			}
			lastSlot = ev.Slot
			eventsInBlock = 0
		}
		eventsInBlock++

		// Skip failed transactions.
		if ev.Err != nil {
			continue
		}

		events := ClassifyLogs(ev.Logs)
		if len(events) == 0 {
			continue
		}

		tx, err := l.client.GetTransaction(ctx, ev.Signature)
		if err != nil {
			log.Printf("Failed to fetch transaction %s: %v", short(ev.Signature), err)
			l.counters.Errors.Add(1)
			continue
		}
		l.counters.TxsProcessed.Add(1)

		timestamp := tx.BlockTimeMillis()
		for _, event := range events {
			if _, err := l.store.LogEvent(ctx, &storage.Event{
				EventType: event,
				Signature: ev.Signature,
				Slot:      int64(ev.Slot),
				Timestamp: timestamp,
			}); err != nil {
				log.Printf("Failed to log event %s for %s: %v", event, short(ev.Signature), err)
			}
			if err := l.router.HandleEvent(ctx, event, tx, ev.Signature, ev.Slot, timestamp); err != nil {
				log.Printf("Failed to process event %s for %s: %v", event, short(ev.Signature), err)
				l.counters.Errors.Add(1)
			}
		}
		l.counters.EventsProcessed.Add(uint64(len(events)))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
