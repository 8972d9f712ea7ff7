package ledger

import (
	"errors"
	"time"
)

// 中文说明：
// 账本领域类型。Account/Position 由执行引擎独占修改；
// Trade 与 ValuePoint 只追加，落库后不再变更。

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order 定量后的可执行指令，由执行引擎消费一次
type Order struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"` // 定量时的估计价
	Fee      float64 `json:"fee"`   // 估计手续费
}

// Account 一个（提供方, 模型, 资金池）三元组
type Account struct {
	ID             int64     `json:"id"`
	ModelID        string    `json:"model_id"`
	InitialCapital float64   `json:"initial_capital"`
	Cash           float64   `json:"cash"`
	CreatedAt      time.Time `json:"created_at"`
}

// Position 某账户对某标的的持仓；数量归零即整行删除
type Position struct {
	AccountID int64     `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trade 成交流水（只追加）
type Trade struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Gross     float64   `json:"gross"` // 数量 × 成交价
	Net       float64   `json:"net"`   // 买入: 总支出(含费)；卖出: 净回款(扣费)
	CreatedAt time.Time `json:"created_at"`
}

// ValuePoint 账户净值采样，用于绩效曲线
type ValuePoint struct {
	AccountID      int64     `json:"account_id"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccountState 账户当前视图（现金 + 持仓市值）
type AccountState struct {
	Account        Account    `json:"account"`
	Positions      []Position `json:"positions"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
}

// Conversation 一次模型交互的审计记录
type Conversation struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CoT       string    `json:"cot"`
	CreatedAt time.Time `json:"created_at"`
}

// CycleRecord 单个交易周期的结果记录；校验失败时 RawPayload 保留原文
type CycleRecord struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"account_id"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail"`
	RawPayload string    `json:"raw_payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	// ErrInsufficientFunds 现金不足以覆盖成本+手续费
	ErrInsufficientFunds = errors.New("可用资金不足（含手续费）")
	// ErrInsufficientPosition 持仓数量不足以卖出
	ErrInsufficientPosition = errors.New("持仓数量不足")
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("账户不存在")
)
