// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Counters is the shared set of ingestion statistics. All fields are
// updated atomically from the backfill and live paths.
type Counters struct {
	EventsProcessed atomic.Uint64
	BlocksIndexed   atomic.Uint64
	TxsProcessed    atomic.Uint64
	OrdersRecorded  atomic.Uint64
	TradesRecorded  atomic.Uint64
	Errors          atomic.Uint64
	CurrentSlot     atomic.Uint64

	StartTime time.Time
}

func NewCounters() *Counters {
	return &Counters{StartTime: time.Now()}
}

// Snapshot is a point-in-time copy of the counters for the stats API.
type Snapshot struct {
	EventsProcessed uint64  `json:"events_processed"`
	BlocksIndexed   uint64  `json:"blocks_indexed"`
	TxsProcessed    uint64  `json:"txs_processed"`
	OrdersRecorded  uint64  `json:"orders_recorded"`
	TradesRecorded  uint64  `json:"trades_recorded"`
	Errors          uint64  `json:"errors"`
	CurrentSlot     uint64  `json:"current_slot"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		EventsProcessed: c.EventsProcessed.Load(),
		BlocksIndexed:   c.BlocksIndexed.Load(),
		TxsProcessed:    c.TxsProcessed.Load(),
		OrdersRecorded:  c.OrdersRecorded.Load(),
		TradesRecorded:  c.TradesRecorded.Load(),
		Errors:          c.Errors.Load(),
		CurrentSlot:     c.CurrentSlot.Load(),
		UptimeSeconds:   time.Since(c.StartTime).Seconds(),
	}
}

// slotSource reports the current chain head slot.
type slotSource interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// RunStatsReporter logs a stats line every interval until ctx is
// cancelled, including slot lag against the chain head when available.
func RunStatsReporter(ctx context.Context, src slotSource, c *Counters, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			lag := ""
			if head, err := src.GetSlot(ctx); err == nil && head > s.CurrentSlot && s.CurrentSlot > 0 {
				lag = fmt.Sprintf(" (lag: %d slots)", head-s.CurrentSlot)
			}
			log.Printf("STATS: slot %d | %d blocks indexed | %d events | %d orders | %d trades | %d errors%s",
				s.CurrentSlot, s.BlocksIndexed, s.EventsProcessed, s.OrdersRecorded, s.TradesRecorded, s.Errors, lag)
		}
	}
}
