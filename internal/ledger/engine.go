package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"atrader/internal/logger"
)

// 中文说明：
// 执行引擎：账本状态的唯一修改入口。
// 一笔订单 = 一个 SQLite 事务：对照最新账户状态复核 → 现金进出 →
// 持仓增删 → 追加流水 → 追加净值采样，任一步失败整体回滚，不留半笔。
// 同账户的写入通过每账户互斥锁串行化；跨账户互不阻塞。

const qtyEpsilon = 1e-9

type Engine struct {
	store *Store
	locks sync.Map // account id -> *sync.Mutex
}

func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) lockFor(accountID int64) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(accountID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Execute 将订单原子地落到账本。marks 为各标的现价，用于事后净值采样。
func (e *Engine) Execute(ctx context.Context, accountID int64, ord Order, marks map[string]float64) (*Trade, error) {
	if ord.Quantity <= 0 || ord.Price <= 0 {
		return nil, fmt.Errorf("非法订单: qty=%v price=%v", ord.Quantity, ord.Price)
	}
	mu := e.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	var cash float64
	err = tx.QueryRowContext(ctx, `SELECT cash FROM accounts WHERE id = ?`, accountID).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取账户现金失败: %w", err)
	}

	now := time.Now()
	gross := ord.Quantity * ord.Price
	trade := Trade{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Symbol:    ord.Symbol,
		Side:      ord.Side,
		Quantity:  ord.Quantity,
		Price:     ord.Price,
		Fee:       ord.Fee,
		Gross:     gross,
		CreatedAt: now,
	}

	switch ord.Side {
	case SideBuy:
		total := gross + ord.Fee
		// 对照最新状态复核，防止定量与执行之间的状态漂移
		if cash < total {
			return nil, ErrInsufficientFunds
		}
		cash -= total
		trade.Net = total
		if err := applyBuy(ctx, tx, accountID, ord, now); err != nil {
			return nil, err
		}
	case SideSell:
		held, err := positionQty(ctx, tx, accountID, ord.Symbol)
		if err != nil {
			return nil, err
		}
		if held+qtyEpsilon < ord.Quantity {
			return nil, ErrInsufficientPosition
		}
		cash += gross - ord.Fee
		trade.Net = gross - ord.Fee
		if err := applySell(ctx, tx, accountID, ord, held, now); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("未知订单方向: %s", ord.Side)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET cash = ? WHERE id = ?`, cash, accountID); err != nil {
		return nil, fmt.Errorf("更新现金失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trades (id, account_id, symbol, side, quantity, price, fee, gross, net, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.AccountID, trade.Symbol, trade.Side, trade.Quantity, trade.Price, trade.Fee, trade.Gross, trade.Net, trade.CreatedAt); err != nil {
		return nil, fmt.Errorf("写入流水失败: %w", err)
	}
	if err := appendValuePoint(ctx, tx, accountID, cash, marks, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交交易失败: %w", err)
	}
	logger.Infof("账户 %d %s %s %.0f股 @ %.2f 手续费 %.2f", accountID, ord.Side, ord.Symbol, ord.Quantity, ord.Price, ord.Fee)
	return &trade, nil
}

func applyBuy(ctx context.Context, tx *sql.Tx, accountID int64, ord Order, now time.Time) error {
	var qty, avg float64
	err := tx.QueryRowContext(ctx,
		`SELECT quantity, avg_price FROM positions WHERE account_id = ? AND symbol = ?`,
		accountID, ord.Symbol).Scan(&qty, &avg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, avg_price, updated_at) VALUES (?, ?, ?, ?, ?)`,
			accountID, ord.Symbol, ord.Quantity, ord.Price, now)
	case err == nil:
		newQty := qty + ord.Quantity
		newAvg := (qty*avg + ord.Quantity*ord.Price) / newQty
		_, err = tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, avg_price = ?, updated_at = ? WHERE account_id = ? AND symbol = ?`,
			newQty, newAvg, now, accountID, ord.Symbol)
	}
	if err != nil {
		return fmt.Errorf("更新持仓失败: %w", err)
	}
	return nil
}

func applySell(ctx context.Context, tx *sql.Tx, accountID int64, ord Order, held float64, now time.Time) error {
	remaining := held - ord.Quantity
	var err error
	if remaining <= qtyEpsilon {
		// 数量归零即删除整行，而非留下零持仓
		_, err = tx.ExecContext(ctx,
			`DELETE FROM positions WHERE account_id = ? AND symbol = ?`, accountID, ord.Symbol)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, updated_at = ? WHERE account_id = ? AND symbol = ?`,
			remaining, now, accountID, ord.Symbol)
	}
	if err != nil {
		return fmt.Errorf("更新持仓失败: %w", err)
	}
	return nil
}

func positionQty(ctx context.Context, tx *sql.Tx, accountID int64, symbol string) (float64, error) {
	var qty float64
	err := tx.QueryRowContext(ctx,
		`SELECT quantity FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("读取持仓失败: %w", err)
	}
	return qty, nil
}

// appendValuePoint 按现价对持仓做 mark-to-market 后追加净值采样
func appendValuePoint(ctx context.Context, tx *sql.Tx, accountID int64, cash float64, marks map[string]float64, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT symbol, quantity, avg_price FROM positions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("读取持仓失败: %w", err)
	}
	defer rows.Close()
	posValue := 0.0
	for rows.Next() {
		var symbol string
		var qty, avg float64
		if err := rows.Scan(&symbol, &qty, &avg); err != nil {
			return err
		}
		price, ok := marks[symbol]
		if !ok || price <= 0 {
			price = avg // 无现价时退回成本价
		}
		posValue += qty * price
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO account_value_history (account_id, total_value, cash, positions_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		accountID, cash+posValue, cash, posValue, now)
	if err != nil {
		return fmt.Errorf("写入净值采样失败: %w", err)
	}
	return nil
}

// RecordValue 为未产生成交的已完成周期追加一次净值采样
func (e *Engine) RecordValue(ctx context.Context, accountID int64, marks map[string]float64) (ValuePoint, error) {
	mu := e.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	state, err := e.AccountState(ctx, accountID, marks)
	if err != nil {
		return ValuePoint{}, err
	}
	v := ValuePoint{
		AccountID:      accountID,
		TotalValue:     state.TotalValue,
		Cash:           state.Account.Cash,
		PositionsValue: state.PositionsValue,
		CreatedAt:      time.Now(),
	}
	_, err = e.store.db.ExecContext(ctx,
		`INSERT INTO account_value_history (account_id, total_value, cash, positions_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.AccountID, v.TotalValue, v.Cash, v.PositionsValue, v.CreatedAt)
	if err != nil {
		return ValuePoint{}, fmt.Errorf("写入净值采样失败: %w", err)
	}
	return v, nil
}

// AccountState 账户当前视图；marks 缺失的标的按成本价估值
func (e *Engine) AccountState(ctx context.Context, accountID int64, marks map[string]float64) (AccountState, error) {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return AccountState{}, err
	}
	positions, err := e.store.Positions(ctx, accountID)
	if err != nil {
		return AccountState{}, err
	}
	posValue := 0.0
	for _, p := range positions {
		price, ok := marks[p.Symbol]
		if !ok || price <= 0 {
			price = p.AvgPrice
		}
		posValue += p.Quantity * price
	}
	return AccountState{
		Account:        acc,
		Positions:      positions,
		PositionsValue: posValue,
		TotalValue:     acc.Cash + posValue,
	}, nil
}

// TradeHistory 账户流水，时间倒序
func (e *Engine) TradeHistory(ctx context.Context, accountID int64, limit int) ([]Trade, error) {
	return e.store.Trades(ctx, accountID, limit)
}
