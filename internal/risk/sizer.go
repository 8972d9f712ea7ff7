package risk

import (
	"errors"
	"fmt"
	"math"

	"atrader/internal/decision"
	"atrader/internal/ledger"
)

// 中文说明：
// 风控定量器：把已校验决策 + 账户现状 + 现价换算成可执行订单。
// 纯函数，不做任何修改，方便确定性测试。
// 买入：目标金额 = min(fraction×现金, 最大仓位比例×总值)，
//       数量 = floor(目标金额×(1−费率)/现价)，整数股。
// 卖出：数量 = min(持仓, 提示数量或 fraction×持仓)。

type Config struct {
	FeeRate             float64 // 双向费率
	MaxPositionFraction float64 // 单标的目标金额占账户总值上限
	MinOrderValue       float64 // 低于该金额的买单按 skip 处理
	MaxPositions        int     // 最大同时持仓数（0 表示不限制）
}

// AccountView 定量所需的账户切面
type AccountView struct {
	Cash          float64
	TotalValue    float64
	PositionQty   float64 // 目标标的当前持仓数量
	OpenPositions int     // 当前持仓标的数
}

var (
	// ErrOrderTooSmall 买单金额低于下限；属业务性跳过而非故障
	ErrOrderTooSmall = errors.New("订单金额低于下限")
	// ErrNoPositionToSell 无持仓可卖；属业务性跳过而非故障
	ErrNoPositionToSell = errors.New("无持仓可卖")
	// ErrTooManyPositions 已达最大持仓数，不再开新仓
	ErrTooManyPositions = errors.New("已达最大持仓数量")
)

// Size 换算订单。hold 返回 (nil, nil)，显式无操作而非失败。
func Size(dec *decision.Decision, view AccountView, price float64, cfg Config) (*ledger.Order, error) {
	if dec == nil {
		return nil, fmt.Errorf("nil decision")
	}
	if dec.Signal == decision.SignalHold {
		return nil, nil
	}
	if price <= 0 {
		return nil, fmt.Errorf("非法现价: %v", price)
	}

	switch dec.Signal {
	case decision.SignalBuy:
		return sizeBuy(dec, view, price, cfg)
	case decision.SignalSell:
		return sizeSell(dec, view, price, cfg)
	}
	return nil, fmt.Errorf("未知信号: %s", dec.Signal)
}

func sizeBuy(dec *decision.Decision, view AccountView, price float64, cfg Config) (*ledger.Order, error) {
	if cfg.MaxPositions > 0 && view.PositionQty <= 0 && view.OpenPositions >= cfg.MaxPositions {
		return nil, ErrTooManyPositions
	}

	var notional float64
	if dec.Fraction > 0 {
		notional = dec.Fraction * view.Cash
		if cap := cfg.MaxPositionFraction * view.TotalValue; cfg.MaxPositionFraction > 0 && notional > cap {
			notional = cap
		}
	} else {
		notional = dec.Quantity * price
	}
	if notional < cfg.MinOrderValue {
		return nil, ErrOrderTooSmall
	}

	qty := math.Floor(notional * (1 - cfg.FeeRate) / price)
	if qty <= 0 {
		return nil, ErrOrderTooSmall
	}
	return &ledger.Order{
		Symbol:   dec.Symbol,
		Side:     ledger.SideBuy,
		Quantity: qty,
		Price:    price,
		Fee:      qty * price * cfg.FeeRate,
	}, nil
}

func sizeSell(dec *decision.Decision, view AccountView, price float64, cfg Config) (*ledger.Order, error) {
	if view.PositionQty <= 0 {
		return nil, ErrNoPositionToSell
	}
	hint := dec.Quantity
	if hint <= 0 {
		hint = dec.Fraction * view.PositionQty
	}
	qty := math.Min(view.PositionQty, hint)
	if qty <= 0 {
		return nil, ErrNoPositionToSell
	}
	return &ledger.Order{
		Symbol:   dec.Symbol,
		Side:     ledger.SideSell,
		Quantity: qty,
		Price:    price,
		Fee:      qty * price * cfg.FeeRate,
	}, nil
}
