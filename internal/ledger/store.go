package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// 中文说明：
// SQLite 持久层。WAL + busy_timeout，账本写入全部经由事务。
// 表结构：accounts / positions / trades / account_value_history /
// daily_closes / conversations / cycles。

type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库并建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("设置 pragma %s 失败: %w", p, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id TEXT NOT NULL UNIQUE,
			initial_capital REAL NOT NULL,
			cash REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			account_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			avg_price REAL NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (account_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			fee REAL NOT NULL,
			gross REAL NOT NULL,
			net REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS account_value_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			total_value REAL NOT NULL,
			cash REAL NOT NULL,
			positions_value REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_closes (
			symbol TEXT NOT NULL,
			day TEXT NOT NULL,
			close REAL NOT NULL,
			PRIMARY KEY (symbol, day)
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			cot TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			raw_payload TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}

// EnsureAccount 按模型 ID 取账户，不存在则以初始资金创建
func (s *Store) EnsureAccount(ctx context.Context, modelID string, initialCapital float64) (Account, error) {
	acc, err := s.accountByModel(ctx, modelID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (model_id, initial_capital, cash, created_at) VALUES (?, ?, ?, ?)`,
		modelID, initialCapital, initialCapital, now)
	if err != nil {
		return Account{}, fmt.Errorf("创建账户失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Account{}, err
	}
	return Account{ID: id, ModelID: modelID, InitialCapital: initialCapital, Cash: initialCapital, CreatedAt: now}, nil
}

func (s *Store) accountByModel(ctx context.Context, modelID string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_id, initial_capital, cash, created_at FROM accounts WHERE model_id = ?`, modelID)
	return scanAccount(row)
}

// GetAccount 按主键取账户
func (s *Store) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_id, initial_capital, cash, created_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.ModelID, &a.InitialCapital, &a.Cash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("读取账户失败: %w", err)
	}
	return a, nil
}

// ListAccounts 返回全部账户
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, initial_capital, cash, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("读取账户列表失败: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.ModelID, &a.InitialCapital, &a.Cash, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Positions 返回账户当前持仓
func (s *Store) Positions(ctx context.Context, accountID int64) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, symbol, quantity, avg_price, updated_at FROM positions WHERE account_id = ? ORDER BY symbol`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("读取持仓失败: %w", err)
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Trades 返回流水，时间倒序
func (s *Store) Trades(ctx context.Context, accountID int64, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, symbol, side, quantity, price, fee, gross, net, created_at
		 FROM trades WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("读取流水失败: %w", err)
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Fee, &t.Gross, &t.Net, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ValueHistory 返回净值采样，时间升序（供绩效曲线）
func (s *Store) ValueHistory(ctx context.Context, accountID int64, limit int) ([]ValuePoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, total_value, cash, positions_value, created_at FROM (
			SELECT account_id, total_value, cash, positions_value, created_at, id
			FROM account_value_history WHERE account_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("读取净值历史失败: %w", err)
	}
	defer rows.Close()
	var out []ValuePoint
	for rows.Next() {
		var v ValuePoint
		if err := rows.Scan(&v.AccountID, &v.TotalValue, &v.Cash, &v.PositionsValue, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertDailyClose 落库当日收盘价（同日重复写覆盖）
func (s *Store) UpsertDailyClose(ctx context.Context, symbol string, close float64, day string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_closes (symbol, day, close) VALUES (?, ?, ?)
		 ON CONFLICT(symbol, day) DO UPDATE SET close = excluded.close`,
		symbol, day, close)
	if err != nil {
		return fmt.Errorf("写入收盘价失败: %w", err)
	}
	return nil
}

// LatestDailyClose 最近一条收盘记录
func (s *Store) LatestDailyClose(ctx context.Context, symbol string) (float64, string, error) {
	var close float64
	var day string
	err := s.db.QueryRowContext(ctx,
		`SELECT close, day FROM daily_closes WHERE symbol = ? ORDER BY day DESC LIMIT 1`, symbol).
		Scan(&close, &day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("标的 %s 无收盘记录", symbol)
	}
	return close, day, err
}

// AddConversation 记录一次模型交互
func (s *Store) AddConversation(ctx context.Context, accountID int64, prompt, response, cot string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (account_id, prompt, response, cot, created_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, prompt, response, cot, time.Now())
	if err != nil {
		return fmt.Errorf("写入对话记录失败: %w", err)
	}
	return nil
}

// RecordCycle 记录周期结果；校验失败时 raw 保留模型原文
func (s *Store) RecordCycle(ctx context.Context, accountID int64, status, detail, raw string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (account_id, status, detail, raw_payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, status, detail, raw, time.Now())
	if err != nil {
		return fmt.Errorf("写入周期记录失败: %w", err)
	}
	return nil
}

// Cycles 返回周期记录，时间倒序
func (s *Store) Cycles(ctx context.Context, accountID int64, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, status, detail, raw_payload, created_at
		 FROM cycles WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("读取周期记录失败: %w", err)
	}
	defer rows.Close()
	var out []CycleRecord
	for rows.Next() {
		var c CycleRecord
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Status, &c.Detail, &c.RawPayload, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
