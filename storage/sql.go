// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// sqlStore holds the query logic shared by the PostgreSQL and SQLite
// backends. Statements are written with ? placeholders; each backend
// supplies a bind function that rewrites them for its dialect.
type sqlStore struct {
	db     *sql.DB
	bind   func(string) string
	schema []string
}

func (s *sqlStore) InitSchema(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func (s *sqlStore) UpsertMarket(ctx context.Context, m *Market) error {
	_, err := s.exec(ctx,
		`INSERT INTO markets (id, base_mint, quote_mint, symbol, base_decimals, quote_decimals, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at`,
		m.ID, m.BaseMint, m.QuoteMint, m.Symbol, m.BaseDecimals, m.QuoteDecimals, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ID, err)
	}
	return nil
}

func (s *sqlStore) InsertOrder(ctx context.Context, o *Order) (bool, error) {
	n, err := s.exec(ctx,
		`INSERT INTO orders (id, market_id, order_id, user_address, side, order_type, price, quantity, filled, status, timestamp, slot, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		o.ID, o.MarketID, o.OrderID, o.UserAddress, o.Side, o.OrderType, o.Price, o.Quantity,
		OrderStatusOpen, o.Timestamp, o.Slot, o.Signature)
	if err != nil {
		return false, fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return n > 0, nil
}

// ApplyFill credits a fill against the oldest resting maker order that
// matches the maker address, price and side opposite the taker. The
// filled amount is clamped at the order quantity so replays of the same
// transaction cannot overfill.
func (s *sqlStore) ApplyFill(ctx context.Context, marketID, maker, takerSide string, price, quantity int64) (bool, error) {
	makerSide := SideAsk
	if takerSide == "sell" {
		makerSide = SideBid
	}

	n, err := s.exec(ctx,
		`UPDATE orders SET
		   status = CASE WHEN filled + ? >= quantity THEN 'filled' ELSE 'partially_filled' END,
		   filled = CASE WHEN filled + ? >= quantity THEN quantity ELSE filled + ? END
		 WHERE id = (
		   SELECT id FROM orders
		   WHERE market_id = ? AND user_address = ? AND side = ? AND price = ?
		     AND status IN ('open', 'partially_filled')
		   ORDER BY timestamp ASC, order_id ASC
		   LIMIT 1)`,
		quantity, quantity, quantity, marketID, maker, makerSide, price)
	if err != nil {
		return false, fmt.Errorf("apply fill market %s maker %s: %w", marketID, maker, err)
	}
	return n > 0, nil
}

// CancelOrder marks the user's most recent resting order in the market
// as cancelled. On-chain cancel instructions do not carry the order id,
// so the newest open order is the best available match.
func (s *sqlStore) CancelOrder(ctx context.Context, marketID, user string) (bool, error) {
	n, err := s.exec(ctx,
		`UPDATE orders SET status = 'cancelled'
		 WHERE id = (
		   SELECT id FROM orders
		   WHERE market_id = ? AND user_address = ?
		     AND status IN ('open', 'partially_filled')
		   ORDER BY timestamp DESC, order_id DESC
		   LIMIT 1)`,
		marketID, user)
	if err != nil {
		return false, fmt.Errorf("cancel order market %s user %s: %w", marketID, user, err)
	}
	return n > 0, nil
}

func (s *sqlStore) InsertTrade(ctx context.Context, t *Trade) (bool, error) {
	n, err := s.exec(ctx,
		`INSERT INTO trades (id, market_id, maker_address, taker_address, side, price, quantity, timestamp, slot, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (signature, market_id, timestamp) DO NOTHING`,
		t.ID, t.MarketID, t.MakerAddress, t.TakerAddress, t.Side, t.Price, t.Quantity,
		t.Timestamp, t.Slot, t.Signature)
	if err != nil {
		return false, fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return n > 0, nil
}

func (s *sqlStore) LogEvent(ctx context.Context, ev *Event) (bool, error) {
	n, err := s.exec(ctx,
		`INSERT INTO events (event_type, market_id, user_address, signature, slot, timestamp, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (signature, event_type, slot) DO NOTHING`,
		ev.EventType, nullString(ev.MarketID), nullString(ev.UserAddress),
		ev.Signature, ev.Slot, ev.Timestamp, nullString(ev.Data))
	if err != nil {
		return false, fmt.Errorf("log event %s: %w", ev.EventType, err)
	}
	return n > 0, nil
}

const restingStatuses = `('open', 'partially_filled')`

func (s *sqlStore) depthSide(ctx context.Context, marketID, side, direction string, limit int64) ([]PriceLevel, error) {
	query := `SELECT price, COALESCE(SUM(quantity - filled), 0)
		 FROM orders
		 WHERE market_id = ? AND status IN ` + restingStatuses + ` AND side = ?
		 GROUP BY price
		 ORDER BY price ` + direction + `
		 LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.bind(query), marketID, side, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []PriceLevel
	for rows.Next() {
		var lv PriceLevel
		if err := rows.Scan(&lv.Price, &lv.Quantity); err != nil {
			return nil, err
		}
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}

func (s *sqlStore) GetDepth(ctx context.Context, marketID string, limit int64) (*Depth, error) {
	bids, err := s.depthSide(ctx, marketID, SideBid, "DESC", limit)
	if err != nil {
		return nil, fmt.Errorf("get depth bids %s: %w", marketID, err)
	}
	asks, err := s.depthSide(ctx, marketID, SideAsk, "ASC", limit)
	if err != nil {
		return nil, fmt.Errorf("get depth asks %s: %w", marketID, err)
	}
	return &Depth{Bids: bids, Asks: asks}, nil
}

func (s *sqlStore) bestPrice(ctx context.Context, marketID, side, direction string) (int64, error) {
	query := `SELECT price FROM orders
		 WHERE market_id = ? AND status IN ` + restingStatuses + ` AND side = ?
		 ORDER BY price ` + direction + `
		 LIMIT 1`
	var price int64
	err := s.db.QueryRowContext(ctx, s.bind(query), marketID, side).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (s *sqlStore) GetBestBid(ctx context.Context, marketID string) (int64, error) {
	return s.bestPrice(ctx, marketID, SideBid, "DESC")
}

func (s *sqlStore) GetBestAsk(ctx context.Context, marketID string) (int64, error) {
	return s.bestPrice(ctx, marketID, SideAsk, "ASC")
}

func (s *sqlStore) liquidity(ctx context.Context, marketID, side string) (int64, error) {
	query := `SELECT COALESCE(SUM(quantity - filled), 0) FROM orders
		 WHERE market_id = ? AND status IN ` + restingStatuses + ` AND side = ?`
	var total int64
	if err := s.db.QueryRowContext(ctx, s.bind(query), marketID, side).Scan(&total); err != nil {
		return 0, fmt.Errorf("get %s liquidity %s: %w", side, marketID, err)
	}
	return total, nil
}

func (s *sqlStore) GetBidLiquidity(ctx context.Context, marketID string) (int64, error) {
	return s.liquidity(ctx, marketID, SideBid)
}

func (s *sqlStore) GetAskLiquidity(ctx context.Context, marketID string) (int64, error) {
	return s.liquidity(ctx, marketID, SideAsk)
}

const orderColumns = `id, market_id, order_id, user_address, side, order_type, price, quantity, filled, status, timestamp, slot, signature`

func (s *sqlStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o := &Order{}
		if err := rows.Scan(&o.ID, &o.MarketID, &o.OrderID, &o.UserAddress, &o.Side, &o.OrderType,
			&o.Price, &o.Quantity, &o.Filled, &o.Status, &o.Timestamp, &o.Slot, &o.Signature); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *sqlStore) GetUserOrders(ctx context.Context, user, marketID string, limit int64) ([]*Order, error) {
	if marketID != "" {
		return s.queryOrders(ctx,
			`SELECT `+orderColumns+` FROM orders
			 WHERE user_address = ? AND market_id = ?
			 ORDER BY timestamp DESC LIMIT ?`,
			user, marketID, limit)
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_address = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		user, limit)
}

func (s *sqlStore) GetOpenOrders(ctx context.Context, marketID, user string) ([]*Order, error) {
	base := `SELECT ` + orderColumns + ` FROM orders WHERE status IN ` + restingStatuses
	switch {
	case marketID != "" && user != "":
		return s.queryOrders(ctx, base+` AND market_id = ? AND user_address = ? ORDER BY timestamp DESC`, marketID, user)
	case marketID != "":
		return s.queryOrders(ctx, base+` AND market_id = ? ORDER BY timestamp DESC`, marketID)
	case user != "":
		return s.queryOrders(ctx, base+` AND user_address = ? ORDER BY timestamp DESC`, user)
	default:
		return s.queryOrders(ctx, base+` ORDER BY timestamp DESC LIMIT 1000`)
	}
}

const tradeColumns = `id, market_id, maker_address, taker_address, side, price, quantity, timestamp, slot, signature`

func (s *sqlStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(&t.ID, &t.MarketID, &t.MakerAddress, &t.TakerAddress, &t.Side,
			&t.Price, &t.Quantity, &t.Timestamp, &t.Slot, &t.Signature); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func orderClause(ascending bool) string {
	if ascending {
		return "ORDER BY timestamp ASC"
	}
	return "ORDER BY timestamp DESC"
}

func (s *sqlStore) GetTrades(ctx context.Context, marketID string, limit int64, ascending bool) ([]*Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = ? `+orderClause(ascending)+` LIMIT ?`,
		marketID, limit)
}

func (s *sqlStore) GetUserTrades(ctx context.Context, user, marketID string, limit int64, ascending bool) ([]*Trade, error) {
	if marketID != "" {
		return s.queryTrades(ctx,
			`SELECT `+tradeColumns+` FROM trades
			 WHERE (maker_address = ? OR taker_address = ?) AND market_id = ?
			 `+orderClause(ascending)+` LIMIT ?`,
			user, user, marketID, limit)
	}
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE maker_address = ? OR taker_address = ?
		 `+orderClause(ascending)+` LIMIT ?`,
		user, user, limit)
}

func (s *sqlStore) GetLastTradePrice(ctx context.Context, marketID string) (int64, error) {
	var price int64
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT price FROM trades WHERE market_id = ? ORDER BY timestamp DESC, slot DESC LIMIT 1`),
		marketID).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("last trade price %s: %w", marketID, err)
	}
	return price, nil
}

const marketColumns = `id, base_mint, quote_mint, symbol, base_decimals, quote_decimals, created_at, updated_at`

func scanMarket(row interface{ Scan(...interface{}) error }) (*Market, error) {
	m := &Market{}
	err := row.Scan(&m.ID, &m.BaseMint, &m.QuoteMint, &m.Symbol,
		&m.BaseDecimals, &m.QuoteDecimals, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *sqlStore) GetMarkets(ctx context.Context, limit int64) ([]*Market, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	defer rows.Close()

	var markets []*Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *sqlStore) GetMarketBySymbolOrID(ctx context.Context, symbolOrID string) (*Market, error) {
	row := s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+marketColumns+` FROM markets WHERE symbol = ? OR id = ? LIMIT 1`),
		symbolOrID, symbolOrID)
	m, err := scanMarket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", symbolOrID, err)
	}
	return m, nil
}

// GetMarketSymbol returns the symbol for a market id, or a placeholder
// when the market has not been indexed yet.
func (s *sqlStore) GetMarketSymbol(ctx context.Context, marketID string) (string, error) {
	var symbol string
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT symbol FROM markets WHERE id = ? LIMIT 1`), marketID).Scan(&symbol)
	if err == sql.ErrNoRows {
		return "UNKNOWN/UNKNOWN", nil
	}
	if err != nil {
		return "", fmt.Errorf("get market symbol %s: %w", marketID, err)
	}
	return symbol, nil
}

func (s *sqlStore) GetUserOpenOrderValue(ctx context.Context, user string) ([]*OpenOrderValue, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT
		   m.symbol,
		   COALESCE(SUM(CASE WHEN o.side = 'bid' THEN (o.quantity - o.filled) * o.price ELSE 0 END), 0) AS locked_quote,
		   COALESCE(SUM(CASE WHEN o.side = 'ask' THEN (o.quantity - o.filled) ELSE 0 END), 0) AS locked_base
		 FROM orders o
		 JOIN markets m ON o.market_id = m.id
		 WHERE o.user_address = ? AND o.status IN `+restingStatuses+`
		 GROUP BY m.symbol`), user)
	if err != nil {
		return nil, fmt.Errorf("open order value %s: %w", user, err)
	}
	defer rows.Close()

	var values []*OpenOrderValue
	for rows.Next() {
		v := &OpenOrderValue{}
		if err := rows.Scan(&v.Symbol, &v.LockedQuote, &v.LockedBase); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetUser24hVolume sums quantity*price over the user's trades in the
// 24 hours before now (milliseconds).
func (s *sqlStore) GetUser24hVolume(ctx context.Context, user string, now int64) (int64, error) {
	since := now - 24*60*60*1000
	var volume int64
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COALESCE(SUM(quantity * price), 0) FROM trades
		 WHERE (maker_address = ? OR taker_address = ?) AND timestamp >= ?`),
		user, user, since).Scan(&volume)
	if err != nil {
		return 0, fmt.Errorf("24h volume %s: %w", user, err)
	}
	return volume, nil
}
