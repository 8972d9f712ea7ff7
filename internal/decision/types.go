package decision

import (
	"errors"
	"fmt"
)

// 中文说明：
// 模型输出经校验后的结构化决策。Decision 一经产出不可修改，
// 由风控定量器消费一次。

type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Decision 单账户单周期的已校验决策
type Decision struct {
	Symbol       string  // 目标标的
	Signal       Signal  // buy / sell / hold
	Fraction     float64 // 可用资金占比 (0,1]，与 Quantity 二选一
	Quantity     float64 // 绝对数量 > 0
	Confidence   float64 // 可选：模型置信度
	StopLoss     float64 // 可选：止损位
	ProfitTarget float64 // 可选：止盈位
	Rationale    string  // 决策理由
	CoT          string  // 推理轨迹（拼接为多行文本）
	Raw          string  // 原始负载，仅用于审计
}

// ErrInvalidDecision 字段越界（如 fraction > 1），拒绝而非截断
var ErrInvalidDecision = errors.New("决策字段越界")

// ValidationError 解析/校验失败；原始负载原样保留，供调用方落库审计
type ValidationError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("决策校验失败: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("决策校验失败: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(raw, reason string) *ValidationError {
	return &ValidationError{Raw: raw, Reason: reason, Err: ErrInvalidDecision}
}

func malformed(raw, reason string, err error) *ValidationError {
	return &ValidationError{Raw: raw, Reason: reason, Err: err}
}
