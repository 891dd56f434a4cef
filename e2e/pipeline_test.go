// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opendex/indexer/api"
	"github.com/opendex/indexer/indexer"
	"github.com/opendex/indexer/solana"
	"github.com/opendex/indexer/storage"
)

const programID = "opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"

var _ = Describe("Indexing pipeline", func() {
	var (
		rpc      *rpcFixture
		client   *solana.Client
		store    storage.Store
		counters *indexer.Counters
		router   *indexer.Router
		ctx      context.Context
		cancel   context.CancelFunc

		market string
		alice  string
		bob    string
	)

	// placeOrderTx builds a transaction whose program instruction carries
	// decodable order args with the market in the fifth account slot.
	placeOrderTx := func(user, market, data string) *solana.Transaction {
		return &solana.Transaction{
			Transaction: solana.TransactionBody{
				Message: solana.Message{
					AccountKeys: []string{user, pubkey(0x21), pubkey(0x22), pubkey(0x23), market, programID},
					Instructions: []solana.Instruction{
						{ProgramIDIndex: 5, Accounts: []int{0, 1, 2, 3, 4}, Data: data},
					},
				},
			},
			Meta: &solana.Meta{LogMessages: []string{
				"Program " + programID + " invoke [1]",
				"Program log: Instruction: PlaceOrder",
				"Program " + programID + " success",
			}},
		}
	}

	consumeEventsTx := func(market string, fillLog string) *solana.Transaction {
		return &solana.Transaction{
			Transaction: solana.TransactionBody{
				Message: solana.Message{
					AccountKeys: []string{market, pubkey(0x31), pubkey(0x32), programID},
					Instructions: []solana.Instruction{
						{ProgramIDIndex: 3, Accounts: []int{0, 1}, Data: "3Bxs46DNLk1oRbZx"},
					},
				},
			},
			Meta: &solana.Meta{LogMessages: []string{
				"Program " + programID + " invoke [1]",
				"Program log: Instruction: ConsumeEvents",
				fillLog,
				"Program " + programID + " success",
			}},
		}
	}

	cancelOrderTx := func(user, market string) *solana.Transaction {
		return &solana.Transaction{
			Transaction: solana.TransactionBody{
				Message: solana.Message{
					AccountKeys: []string{user, pubkey(0x41), market, programID},
					Instructions: []solana.Instruction{
						{ProgramIDIndex: 3, Accounts: []int{0, 1, 2}, Data: "3Bxs46DNLk1oRbZx"},
					},
				},
			},
			Meta: &solana.Meta{LogMessages: []string{
				"Program " + programID + " invoke [1]",
				"Program log: Instruction: CancelOrder",
				"Program " + programID + " success",
			}},
		}
	}

	runBackfill := func() {
		count, err := indexer.IndexMarkets(ctx, client, store, programID)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))

		backfiller := indexer.NewBackfiller(client, store, router, counters, programID)
		_, err = backfiller.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		rpc = newRPCFixture()
		rpc.slot = 9000
		client = solana.NewClient(rpc.URL())

		market = pubkey(0x11)
		alice = pubkey(0xA1)
		bob = pubkey(0xB0)

		rpc.addMarket(market, programID, "WETH/USDT")

		// History, newest first, split across two cursor pages: Alice
		// rests an ask, Bob rests a bid below it.
		rpc.addTx("", "sigAliceAsk", 120, 1700000120, placeOrderTx(alice, market, orderData(1, 1200, 10)))
		rpc.addTx("sigAliceAsk", "sigBobBid", 110, 1700000110, placeOrderTx(bob, market, orderData(0, 1100, 6)))

		dbPath := filepath.Join(GinkgoT().TempDir(), "e2e.db")
		var err error
		store, err = storage.New(storage.Config{URL: dbPath})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.InitSchema(ctx)).To(Succeed())

		counters = indexer.NewCounters()
		router = indexer.NewRouter(store, counters)
	})

	AfterEach(func() {
		cancel()
		if store != nil {
			store.Close()
		}
		rpc.Close()
	})

	It("backfills markets and resting orders from history", func() {
		runBackfill()

		markets, err := store.GetMarkets(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(markets).To(HaveLen(1))
		Expect(markets[0].ID).To(Equal(market))
		Expect(markets[0].Symbol).To(Equal("WETH/USDT"))

		depth, err := store.GetDepth(ctx, market, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth.Asks).To(HaveLen(1))
		Expect(depth.Asks[0].Price).To(Equal(int64(1200)))
		Expect(depth.Asks[0].Quantity).To(Equal(int64(10)))
		Expect(depth.Bids).To(HaveLen(1))
		Expect(depth.Bids[0].Price).To(Equal(int64(1100)))
		Expect(depth.Bids[0].Quantity).To(Equal(int64(6)))

		bestBid, err := store.GetBestBid(ctx, market)
		Expect(err).NotTo(HaveOccurred())
		Expect(bestBid).To(Equal(int64(1100)))

		Expect(counters.OrdersRecorded.Load()).To(Equal(uint64(2)))
		Expect(counters.TxsProcessed.Load()).To(Equal(uint64(2)))
	})

	It("absorbs a repeated backfill without duplicating rows", func() {
		runBackfill()
		runBackfill()

		aliceOrders, err := store.GetUserOrders(ctx, alice, market, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(aliceOrders).To(HaveLen(1))

		bobOrders, err := store.GetUserOrders(ctx, bob, market, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(bobOrders).To(HaveLen(1))

		Expect(counters.OrdersRecorded.Load()).To(Equal(uint64(2)))
	})

	It("applies live fills and cancels to resting orders", func() {
		runBackfill()

		ws := newWSFixture()
		defer ws.Close()

		// The live window overlaps the backfill: Alice's already indexed
		// placement arrives again over the subscription.
		ws.notify(120, "sigAliceAsk", placeOrderTx(alice, market, orderData(1, 1200, 10)).LogMessages())

		// Bob lifts 4 lots of Alice's ask, then cancels his own bid.
		fillTx := consumeEventsTx(market, fillEventLog(alice, bob, 1200, 4, "buy"))
		rpc.registerTx("sigFill", 200, 1700000200, fillTx)
		ws.notify(200, "sigFill", fillTx.LogMessages())

		cancelTx := cancelOrderTx(bob, market)
		rpc.registerTx("sigCancel", 201, 1700000201, cancelTx)
		ws.notify(201, "sigCancel", cancelTx.LogMessages())

		logsClient := solana.NewLogsClient(ws.URL())
		logsClient.ReadTimeout = 200 * time.Millisecond
		live := indexer.NewLiveConsumer(
			indexer.WSSubscriber{Client: logsClient},
			client, store, router, counters, programID,
		)

		done := make(chan struct{})
		go func() {
			defer close(done)
			live.Run(ctx)
		}()

		Eventually(func() ([]*storage.Trade, error) {
			return store.GetTrades(ctx, market, 10, false)
		}, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))

		Eventually(func() (string, error) {
			orders, err := store.GetUserOrders(ctx, bob, market, 10)
			if err != nil || len(orders) == 0 {
				return "", err
			}
			return orders[0].Status, nil
		}, 5*time.Second, 50*time.Millisecond).Should(Equal(storage.OrderStatusCancelled))

		cancel()
		Eventually(done, 5*time.Second).Should(BeClosed())

		// The pipeline context is cancelled; assertions use a fresh one.
		actx := context.Background()

		trades, err := store.GetTrades(actx, market, 10, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(trades[0].Price).To(Equal(int64(1200)))
		Expect(trades[0].Quantity).To(Equal(int64(4)))
		Expect(trades[0].MakerAddress).To(Equal(alice))
		Expect(trades[0].TakerAddress).To(Equal(bob))
		Expect(trades[0].Side).To(Equal("buy"))

		orders, err := store.GetUserOrders(actx, alice, market, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(orders).To(HaveLen(1))
		Expect(orders[0].Filled).To(Equal(int64(4)))
		Expect(orders[0].Status).To(Equal(storage.OrderStatusPartiallyFilled))

		// Bob's bid is cancelled, so the bid side is empty.
		_, err = store.GetBestBid(actx, market)
		Expect(err).To(MatchError(storage.ErrNotFound))

		last, err := store.GetLastTradePrice(actx, market)
		Expect(err).NotTo(HaveOccurred())
		Expect(last).To(Equal(int64(1200)))
	})

	It("serves the indexed book over the HTTP API", func() {
		runBackfill()

		server := api.NewServer(":0", store, counters)

		get := func(path string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			server.Router().ServeHTTP(rec, req)
			return rec
		}

		rec := get("/health")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = get("/api/v1/markets")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("WETH/USDT"))

		rec = get("/api/v1/markets/" + market + "/book")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"best_bid":1100`))
		Expect(rec.Body.String()).To(ContainSubstring(`"best_ask":1200`))

		rec = get("/api/v1/markets/nonexistent/depth")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
