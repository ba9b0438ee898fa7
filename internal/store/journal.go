package store

import (
	"database/sql"
	"fmt"
	"time"

	"futures-strategist/internal/order"
)

// Journal 把策略运行与订单流水写入 SQLite，按主键幂等覆盖。
type Journal struct {
	db *sql.DB
}

// NewJournal 建表并返回流水日志。
func NewJournal(store *Store) (*Journal, error) {
	j := &Journal{db: store.DB()}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS strategy_runs (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    state      TEXT NOT NULL,
    summary    TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS strategy_orders (
    exchange_order_id TEXT PRIMARY KEY,
    strategy_id       TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    type              TEXT NOT NULL,
    quantity          REAL NOT NULL,
    price             REAL NOT NULL,
    stop_price        REAL NOT NULL,
    status            TEXT NOT NULL,
    filled_quantity   REAL NOT NULL,
    updated_at        TIMESTAMP NOT NULL,
    FOREIGN KEY (strategy_id) REFERENCES strategy_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_strategy_orders_strategy ON strategy_orders(strategy_id);
`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化策略流水表失败: %w", err)
	}
	return nil
}

// RecordRun 写入或更新一条策略运行记录。
func (j *Journal) RecordRun(id, kind, symbol, state, summary string) error {
	const stmt = `
INSERT INTO strategy_runs (id, kind, symbol, state, summary, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    state = excluded.state,
    summary = excluded.summary,
    updated_at = excluded.updated_at
`
	if _, err := j.db.Exec(stmt, id, kind, symbol, state, summary, time.Now().UTC()); err != nil {
		return fmt.Errorf("写入策略运行记录失败: %w", err)
	}
	return nil
}

// RecordOrder 写入或更新一条策略订单流水。
func (j *Journal) RecordOrder(strategyID string, rec order.Record) error {
	const stmt = `
INSERT INTO strategy_orders
    (exchange_order_id, strategy_id, symbol, side, type, quantity, price, stop_price, status, filled_quantity, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(exchange_order_id) DO UPDATE SET
    status = excluded.status,
    filled_quantity = excluded.filled_quantity,
    updated_at = excluded.updated_at
`
	_, err := j.db.Exec(stmt,
		rec.ExchangeOrderID, strategyID,
		rec.Intent.Symbol, string(rec.Intent.Side), string(rec.Intent.Type),
		rec.Intent.Quantity, rec.Intent.Price, rec.Intent.StopPrice,
		string(rec.Status), rec.FilledQuantity, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("写入策略订单流水失败: %w", err)
	}
	return nil
}

// RunRow 为查询返回的策略运行记录。
type RunRow struct {
	ID        string
	Kind      string
	Symbol    string
	State     string
	Summary   string
	UpdatedAt time.Time
}

// ListRuns 按更新时间倒序返回最近的策略运行记录。
func (j *Journal) ListRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT id, kind, symbol, state, summary, updated_at FROM strategy_runs ORDER BY updated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查询策略运行记录失败: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.Symbol, &r.State, &r.Summary, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析策略运行记录失败: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OrderRow 为查询返回的订单流水。
type OrderRow struct {
	ExchangeOrderID string
	StrategyID      string
	Symbol          string
	Side            string
	Type            string
	Quantity        float64
	Price           float64
	StopPrice       float64
	Status          string
	FilledQuantity  float64
	UpdatedAt       time.Time
}

// ListOrders 返回指定策略的全部订单流水。
func (j *Journal) ListOrders(strategyID string) ([]OrderRow, error) {
	rows, err := j.db.Query(
		`SELECT exchange_order_id, strategy_id, symbol, side, type, quantity, price, stop_price, status, filled_quantity, updated_at
         FROM strategy_orders WHERE strategy_id = ? ORDER BY updated_at`,
		strategyID,
	)
	if err != nil {
		return nil, fmt.Errorf("查询策略订单流水失败: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var r OrderRow
		if err := rows.Scan(
			&r.ExchangeOrderID, &r.StrategyID, &r.Symbol, &r.Side, &r.Type,
			&r.Quantity, &r.Price, &r.StopPrice, &r.Status, &r.FilledQuantity, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("解析策略订单流水失败: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
