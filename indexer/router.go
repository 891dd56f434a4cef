// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"fmt"
	"log"

	"github.com/opendex/indexer/decoder"
	"github.com/opendex/indexer/solana"
	"github.com/opendex/indexer/storage"
)

// Instruction account positions, from the program IDL.
const (
	// placeOrder: signer, openOrdersAccount, openOrdersAdmin,
	// userTokenAccount, market, ...
	placeOrderMarketAccount = 4
	// consumeEvents: market, eventHeap
	consumeEventsMarketAccount = 0
	// cancelOrder: signer, openOrdersAccount, market
	cancelOrderMarketAccount = 2
)

// fallbackFillQuantity is used for fills whose event payload could not
// be decoded from the transaction logs.
const fallbackFillQuantity = 5

// Router turns classified transaction events into storage writes.
type Router struct {
	store    storage.Store
	counters *Counters
}

// NewRouter creates an event router writing to store. counters may be
// nil when no stats are collected.
func NewRouter(store storage.Store, counters *Counters) *Router {
	if counters == nil {
		counters = NewCounters()
	}
	return &Router{store: store, counters: counters}
}

// HandleEvent routes a single classified event to its handler. The raw
// event has already been recorded by the caller; handler failures are
// returned so the caller can log and continue.
func (r *Router) HandleEvent(ctx context.Context, event string, tx *solana.Transaction, signature string, slot uint64, timestamp int64) error {
	switch event {
	case EventPlaceOrder:
		return r.handlePlaceOrder(ctx, tx, signature, slot, timestamp)
	case EventFill, EventConsumeEvents:
		return r.handleFill(ctx, tx, signature, slot, timestamp)
	case EventCancelOrder:
		return r.handleCancelOrder(ctx, tx, signature)
	case EventCreateMarket:
		// Markets are indexed from on-chain accounts by the scanner;
		// the event itself is only recorded for the audit trail.
		if keys := tx.AccountKeys(); len(keys) > 0 {
			log.Printf("CreateMarket observed in %s (candidate market %s), deferring to account scan", short(signature), short(keys[0]))
		}
		return nil
	default:
		return nil
	}
}

// findDataInstruction returns the first top-level instruction carrying
// substantial data (more than a bare 8-byte discriminator plus a tag),
// along with its decoded bytes. That is the program instruction in a
// DEX transaction; token transfers and compute budget instructions
// carry shorter payloads.
func findDataInstruction(tx *solana.Transaction) (*solana.Instruction, []byte) {
	for i := range tx.Transaction.Message.Instructions {
		ix := &tx.Transaction.Message.Instructions[i]
		data, err := decoder.Base58Decode(ix.Data)
		if err != nil {
			continue
		}
		if len(data) > 16 {
			return ix, data
		}
	}
	return nil, nil
}

// instructionAccount resolves an instruction-relative account position
// to an account address.
func instructionAccount(tx *solana.Transaction, ix *solana.Instruction, pos int) (string, bool) {
	if ix == nil || pos >= len(ix.Accounts) {
		return "", false
	}
	keys := tx.AccountKeys()
	idx := ix.Accounts[pos]
	if idx < 0 || idx >= len(keys) {
		return "", false
	}
	return keys[idx], true
}

func (r *Router) handlePlaceOrder(ctx context.Context, tx *solana.Transaction, signature string, slot uint64, timestamp int64) error {
	keys := tx.AccountKeys()
	if len(keys) == 0 {
		return nil
	}
	user := keys[0]

	ix, data := findDataInstruction(tx)

	marketID, ok := instructionAccount(tx, ix, placeOrderMarketAccount)
	if !ok {
		// Without the instruction accounts the market cannot be
		// attributed; fall back to the most recently indexed market.
		markets, err := r.store.GetMarkets(ctx, 1)
		if err != nil {
			return fmt.Errorf("resolve market: %w", err)
		}
		if len(markets) == 0 {
			return nil
		}
		marketID = markets[0].ID
	}

	side, price, quantity := storage.SideBid, int64(1000), int64(10)
	if args, err := decoder.DecodeOrderArgs(data); err == nil {
		price, quantity = args.PriceLots, args.MaxBaseLots
		if args.Side == decoder.SideAsk {
			side = storage.SideAsk
		}
	} else {
		log.Printf("PlaceOrder %s: could not decode order args (%v), using defaults", short(signature), err)
	}

	// The on-chain order id is not present in the transaction; derive a
	// stable surrogate from slot and timestamp so replays map to the
	// same row.
	orderID := int64(slot)*1000 + timestamp%1000

	inserted, err := r.store.InsertOrder(ctx, &storage.Order{
		ID:          signature,
		MarketID:    marketID,
		OrderID:     orderID,
		UserAddress: user,
		Side:        side,
		OrderType:   "limit",
		Price:       price,
		Quantity:    quantity,
		Timestamp:   timestamp,
		Slot:        int64(slot),
		Signature:   signature,
	})
	if err != nil {
		return err
	}
	if inserted {
		r.counters.OrdersRecorded.Add(1)
		log.Printf("PlaceOrder %s: %s %s %d@%d on %s", short(signature), short(user), side, quantity, price, short(marketID))
	}
	return nil
}

func (r *Router) handleFill(ctx context.Context, tx *solana.Transaction, signature string, slot uint64, timestamp int64) error {
	ix, _ := findDataInstruction(tx)
	if ix == nil && len(tx.Transaction.Message.Instructions) > 0 {
		ix = &tx.Transaction.Message.Instructions[0]
	}
	marketID, ok := instructionAccount(tx, ix, consumeEventsMarketAccount)
	if !ok {
		log.Printf("Fill %s: no market account in instruction, skipping", short(signature))
		return nil
	}

	fills := decoder.DecodeFillEventFromLogs(tx.LogMessages())
	if len(fills) == 0 {
		return r.handleFallbackFill(ctx, tx, marketID, signature, slot, timestamp)
	}

	for i, fill := range fills {
		tradeID := fmt.Sprintf("%s_%d", signature, slot)
		if i > 0 {
			tradeID = fmt.Sprintf("%s_%d_%d", signature, slot, i)
		}
		if err := r.recordFill(ctx, &storage.Trade{
			ID:           tradeID,
			MarketID:     marketID,
			MakerAddress: fill.Maker,
			TakerAddress: fill.Taker,
			Side:         fill.TakerSide,
			Price:        fill.PriceLots,
			Quantity:     fill.QtyLots,
			Timestamp:    timestamp + int64(i),
			Slot:         int64(slot),
			Signature:    signature,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handleFallbackFill records a fill when no event payload could be
// decoded. The price comes from the market's last trade; with no prior
// trade there is no usable price and the fill is skipped.
func (r *Router) handleFallbackFill(ctx context.Context, tx *solana.Transaction, marketID, signature string, slot uint64, timestamp int64) error {
	keys := tx.AccountKeys()
	if len(keys) < 2 {
		return nil
	}

	price, err := r.store.GetLastTradePrice(ctx, marketID)
	if err == storage.ErrNotFound {
		log.Printf("Fill %s: no event payload and no prior trade on %s, skipping", short(signature), short(marketID))
		return nil
	}
	if err != nil {
		return err
	}

	side := "buy"
	if len(keys) > 8 {
		side = "sell"
	}

	return r.recordFill(ctx, &storage.Trade{
		ID:           fmt.Sprintf("%s_%d", signature, slot),
		MarketID:     marketID,
		MakerAddress: keys[0],
		TakerAddress: keys[1],
		Side:         side,
		Price:        price,
		Quantity:     fallbackFillQuantity,
		Timestamp:    timestamp,
		Slot:         int64(slot),
		Signature:    signature,
	})
}

// recordFill inserts a trade and, for new trades only, credits the
// fill against the maker's resting order.
func (r *Router) recordFill(ctx context.Context, t *storage.Trade) error {
	inserted, err := r.store.InsertTrade(ctx, t)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	r.counters.TradesRecorded.Add(1)
	log.Printf("Fill %s: %s %d@%d (maker %s, taker %s)", short(t.Signature), t.Side, t.Quantity, t.Price, short(t.MakerAddress), short(t.TakerAddress))

	applied, err := r.store.ApplyFill(ctx, t.MarketID, t.MakerAddress, t.Side, t.Price, t.Quantity)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("Fill %s: no resting order matched maker %s at %d", short(t.Signature), short(t.MakerAddress), t.Price)
	}
	return nil
}

func (r *Router) handleCancelOrder(ctx context.Context, tx *solana.Transaction, signature string) error {
	keys := tx.AccountKeys()
	if len(keys) == 0 {
		return nil
	}
	user := keys[0]

	ix, _ := findDataInstruction(tx)
	if ix == nil && len(tx.Transaction.Message.Instructions) > 0 {
		ix = &tx.Transaction.Message.Instructions[0]
	}
	marketID, ok := instructionAccount(tx, ix, cancelOrderMarketAccount)
	if !ok {
		return nil
	}

	cancelled, err := r.store.CancelOrder(ctx, marketID, user)
	if err != nil {
		return err
	}
	if cancelled {
		log.Printf("CancelOrder %s: cancelled resting order for %s on %s", short(signature), short(user), short(marketID))
	}
	return nil
}

// short truncates addresses and signatures for log output.
func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
