// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(Config{URL: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func testMarket(id string) *Market {
	return &Market{
		ID:            id,
		BaseMint:      "BaseMint111",
		QuoteMint:     "QuoteMint111",
		Symbol:        "BASE/QUOTE",
		BaseDecimals:  8,
		QuoteDecimals: 6,
		CreatedAt:     1000,
		UpdatedAt:     1000,
	}
}

func testOrder(marketID string, orderID int64, user, side string, price, qty, ts int64) *Order {
	return &Order{
		ID:          "sig_" + marketID,
		MarketID:    marketID,
		OrderID:     orderID,
		UserAddress: user,
		Side:        side,
		OrderType:   "limit",
		Price:       price,
		Quantity:    qty,
		Timestamp:   ts,
		Slot:        orderID / 1000,
		Signature:   "sig",
	}
}

func mustInsertOrder(t *testing.T, s Store, o *Order) {
	t.Helper()
	o.ID = o.ID + "_" + o.UserAddress + "_" + string(rune('0'+o.OrderID%10))
	inserted, err := s.InsertOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if !inserted {
		t.Fatalf("order %d not inserted", o.OrderID)
	}
}

func TestUpsertMarketIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMarket("Mkt1")
	if err := s.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Replaying the same market must not duplicate it and must only
	// advance updated_at.
	m.Symbol = "OTHER/PAIR"
	m.UpdatedAt = 2000
	if err := s.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	markets, err := s.GetMarkets(ctx, 10)
	if err != nil {
		t.Fatalf("get markets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(markets))
	}
	if markets[0].Symbol != "BASE/QUOTE" {
		t.Errorf("symbol overwritten on replay: %s", markets[0].Symbol)
	}
	if markets[0].UpdatedAt != 2000 {
		t.Errorf("updated_at = %d, want 2000", markets[0].UpdatedAt)
	}
}

func TestInsertOrderReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("Mkt1", 42001, "UserA", SideBid, 1000, 10, 100)
	inserted, err := s.InsertOrder(ctx, o)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Error("first insert reported duplicate")
	}

	inserted, err = s.InsertOrder(ctx, o)
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if inserted {
		t.Error("replay insert reported a new row")
	}

	orders, err := s.GetUserOrders(ctx, "UserA", "", 10)
	if err != nil {
		t.Fatalf("get user orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	if orders[0].Status != OrderStatusOpen || orders[0].Filled != 0 {
		t.Errorf("order = %+v", orders[0])
	}
}

func TestApplyFillLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Maker has a resting ask; taker buys against it.
	mustInsertOrder(t, s, testOrder("Mkt1", 1, "Maker", SideAsk, 1000, 10, 100))

	applied, err := s.ApplyFill(ctx, "Mkt1", "Maker", "buy", 1000, 4)
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if !applied {
		t.Fatal("first fill matched no order")
	}

	orders, _ := s.GetUserOrders(ctx, "Maker", "Mkt1", 10)
	if orders[0].Filled != 4 || orders[0].Status != OrderStatusPartiallyFilled {
		t.Errorf("after partial fill: filled=%d status=%s", orders[0].Filled, orders[0].Status)
	}

	// Oversized fill clamps at the order quantity.
	if _, err := s.ApplyFill(ctx, "Mkt1", "Maker", "buy", 1000, 100); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	orders, _ = s.GetUserOrders(ctx, "Maker", "Mkt1", 10)
	if orders[0].Filled != 10 || orders[0].Status != OrderStatusFilled {
		t.Errorf("after full fill: filled=%d status=%s", orders[0].Filled, orders[0].Status)
	}

	// A filled order no longer accepts fills.
	applied, err = s.ApplyFill(ctx, "Mkt1", "Maker", "buy", 1000, 1)
	if err != nil {
		t.Fatalf("third fill: %v", err)
	}
	if applied {
		t.Error("fill applied to a filled order")
	}
}

func TestApplyFillPicksOldestAtPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsertOrder(t, s, testOrder("Mkt1", 1, "Maker", SideAsk, 1000, 5, 100))
	mustInsertOrder(t, s, testOrder("Mkt1", 2, "Maker", SideAsk, 1000, 5, 200))

	if _, err := s.ApplyFill(ctx, "Mkt1", "Maker", "buy", 1000, 3); err != nil {
		t.Fatalf("fill: %v", err)
	}

	orders, _ := s.GetUserOrders(ctx, "Maker", "Mkt1", 10)
	// GetUserOrders is newest first.
	if orders[0].Filled != 0 {
		t.Errorf("newer order filled: %d", orders[0].Filled)
	}
	if orders[1].Filled != 3 {
		t.Errorf("oldest order filled = %d, want 3", orders[1].Filled)
	}
}

func TestCancelOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsertOrder(t, s, testOrder("Mkt1", 1, "UserA", SideBid, 900, 5, 100))
	mustInsertOrder(t, s, testOrder("Mkt1", 2, "UserA", SideBid, 950, 5, 200))

	cancelled, err := s.CancelOrder(ctx, "Mkt1", "UserA")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("cancel matched no order")
	}

	orders, _ := s.GetUserOrders(ctx, "UserA", "Mkt1", 10)
	if orders[0].Status != OrderStatusCancelled {
		t.Errorf("newest order status = %s, want cancelled", orders[0].Status)
	}
	if orders[1].Status != OrderStatusOpen {
		t.Errorf("older order status = %s, want open", orders[1].Status)
	}

	// Cancel the remaining order, then nothing is left to cancel.
	if _, err := s.CancelOrder(ctx, "Mkt1", "UserA"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	cancelled, err = s.CancelOrder(ctx, "Mkt1", "UserA")
	if err != nil {
		t.Fatalf("third cancel: %v", err)
	}
	if cancelled {
		t.Error("cancel succeeded with no open orders")
	}
}

func TestDepthAndLiquidity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsertOrder(t, s, testOrder("Mkt1", 1, "A", SideBid, 900, 10, 100))
	mustInsertOrder(t, s, testOrder("Mkt1", 2, "B", SideBid, 950, 20, 110))
	mustInsertOrder(t, s, testOrder("Mkt1", 3, "C", SideBid, 950, 5, 120))
	mustInsertOrder(t, s, testOrder("Mkt1", 4, "D", SideAsk, 1000, 8, 130))
	mustInsertOrder(t, s, testOrder("Mkt1", 5, "E", SideAsk, 1100, 4, 140))

	// Partially fill the 8-lot ask so depth reflects remaining size.
	if _, err := s.ApplyFill(ctx, "Mkt1", "D", "buy", 1000, 3); err != nil {
		t.Fatalf("fill: %v", err)
	}

	depth, err := s.GetDepth(ctx, "Mkt1", 10)
	if err != nil {
		t.Fatalf("get depth: %v", err)
	}

	wantBids := []PriceLevel{{Price: 950, Quantity: 25}, {Price: 900, Quantity: 10}}
	wantAsks := []PriceLevel{{Price: 1000, Quantity: 5}, {Price: 1100, Quantity: 4}}
	if len(depth.Bids) != len(wantBids) {
		t.Fatalf("bids = %+v", depth.Bids)
	}
	for i, want := range wantBids {
		if depth.Bids[i] != want {
			t.Errorf("bids[%d] = %+v, want %+v", i, depth.Bids[i], want)
		}
	}
	for i, want := range wantAsks {
		if depth.Asks[i] != want {
			t.Errorf("asks[%d] = %+v, want %+v", i, depth.Asks[i], want)
		}
	}

	if best, _ := s.GetBestBid(ctx, "Mkt1"); best != 950 {
		t.Errorf("best bid = %d, want 950", best)
	}
	if best, _ := s.GetBestAsk(ctx, "Mkt1"); best != 1000 {
		t.Errorf("best ask = %d, want 1000", best)
	}
	if liq, _ := s.GetBidLiquidity(ctx, "Mkt1"); liq != 35 {
		t.Errorf("bid liquidity = %d, want 35", liq)
	}
	if liq, _ := s.GetAskLiquidity(ctx, "Mkt1"); liq != 9 {
		t.Errorf("ask liquidity = %d, want 9", liq)
	}
}

func TestBestPriceEmptyBook(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetBestBid(context.Background(), "Mkt1"); err != ErrNotFound {
		t.Errorf("GetBestBid error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBestAsk(context.Background(), "Mkt1"); err != ErrNotFound {
		t.Errorf("GetBestAsk error = %v, want ErrNotFound", err)
	}
}

func testTrade(id, marketID string, price, qty, ts int64) *Trade {
	return &Trade{
		ID:           id,
		MarketID:     marketID,
		MakerAddress: "Maker",
		TakerAddress: "Taker",
		Side:         "buy",
		Price:        price,
		Quantity:     qty,
		Timestamp:    ts,
		Slot:         ts / 1000,
		Signature:    id,
	}
}

func TestInsertTradeReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := testTrade("sigA_100", "Mkt1", 1000, 5, 5000)
	inserted, err := s.InsertTrade(ctx, tr)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Error("first insert reported duplicate")
	}

	inserted, err = s.InsertTrade(ctx, tr)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted {
		t.Error("replay insert reported a new row")
	}

	trades, err := s.GetTrades(ctx, "Mkt1", 10, false)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
}

func TestGetUser24hVolume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := int64(100 * 24 * 60 * 60 * 1000)

	// Two trades inside the window: 10*30 + 20*30 = 900.
	if _, err := s.InsertTrade(ctx, testTrade("t1", "Mkt1", 10, 30, now-1000)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTrade(ctx, testTrade("t2", "Mkt1", 20, 30, now-2000)); err != nil {
		t.Fatal(err)
	}
	// One trade outside the window.
	if _, err := s.InsertTrade(ctx, testTrade("t3", "Mkt1", 50, 50, now-25*60*60*1000)); err != nil {
		t.Fatal(err)
	}

	vol, err := s.GetUser24hVolume(ctx, "Maker", now)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if vol != 900 {
		t.Errorf("volume = %d, want 900", vol)
	}

	vol, err = s.GetUser24hVolume(ctx, "Nobody", now)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if vol != 0 {
		t.Errorf("volume for unknown user = %d, want 0", vol)
	}
}

func TestGetLastTradePrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetLastTradePrice(ctx, "Mkt1"); err != ErrNotFound {
		t.Errorf("empty market error = %v, want ErrNotFound", err)
	}

	s.InsertTrade(ctx, testTrade("t1", "Mkt1", 1000, 5, 5000))
	s.InsertTrade(ctx, testTrade("t2", "Mkt1", 1050, 5, 6000))

	price, err := s.GetLastTradePrice(ctx, "Mkt1")
	if err != nil {
		t.Fatalf("last price: %v", err)
	}
	if price != 1050 {
		t.Errorf("last price = %d, want 1050", price)
	}
}

func TestGetMarketSymbolFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sym, err := s.GetMarketSymbol(ctx, "Missing")
	if err != nil {
		t.Fatalf("symbol: %v", err)
	}
	if sym != "UNKNOWN/UNKNOWN" {
		t.Errorf("symbol = %q, want UNKNOWN/UNKNOWN", sym)
	}

	s.UpsertMarket(ctx, testMarket("Mkt1"))
	sym, _ = s.GetMarketSymbol(ctx, "Mkt1")
	if sym != "BASE/QUOTE" {
		t.Errorf("symbol = %q, want BASE/QUOTE", sym)
	}
}

func TestGetMarketBySymbolOrID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertMarket(ctx, testMarket("Mkt1"))

	bySym, err := s.GetMarketBySymbolOrID(ctx, "BASE/QUOTE")
	if err != nil {
		t.Fatalf("by symbol: %v", err)
	}
	byID, err := s.GetMarketBySymbolOrID(ctx, "Mkt1")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if bySym.ID != byID.ID {
		t.Errorf("symbol and id lookups disagree: %s vs %s", bySym.ID, byID.ID)
	}

	if _, err := s.GetMarketBySymbolOrID(ctx, "nope"); err != ErrNotFound {
		t.Errorf("missing market error = %v, want ErrNotFound", err)
	}
}

func TestGetUserOpenOrderValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertMarket(ctx, testMarket("Mkt1"))

	// Bid locks quote (remaining * price); ask locks base (remaining).
	mustInsertOrder(t, s, testOrder("Mkt1", 1, "UserA", SideBid, 100, 10, 100))
	mustInsertOrder(t, s, testOrder("Mkt1", 2, "UserA", SideAsk, 120, 7, 110))

	values, err := s.GetUserOpenOrderValue(ctx, "UserA")
	if err != nil {
		t.Fatalf("open order value: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d rows, want 1", len(values))
	}
	if values[0].Symbol != "BASE/QUOTE" || values[0].LockedQuote != 1000 || values[0].LockedBase != 7 {
		t.Errorf("value = %+v", values[0])
	}
}

func TestGetUserTradesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.InsertTrade(ctx, testTrade("t1", "Mkt1", 10, 1, 1000))
	s.InsertTrade(ctx, testTrade("t2", "Mkt2", 20, 1, 2000))

	all, err := s.GetUserTrades(ctx, "Taker", "", 10, true)
	if err != nil {
		t.Fatalf("user trades: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d trades, want 2", len(all))
	}
	if all[0].Timestamp != 1000 {
		t.Errorf("ascending order broken: first ts = %d", all[0].Timestamp)
	}

	scoped, err := s.GetUserTrades(ctx, "Taker", "Mkt2", 10, false)
	if err != nil {
		t.Fatalf("scoped trades: %v", err)
	}
	if len(scoped) != 1 || scoped[0].MarketID != "Mkt2" {
		t.Errorf("scoped = %+v", scoped)
	}
}
