package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// 中文说明：
// 行情快照与错误类型。Snapshot 一经生成不再修改，被新快照整体替换。

// Indicators 基于日线收盘价计算的技术指标
type Indicators struct {
	SMA5      float64 `json:"sma_5"`
	SMA20     float64 `json:"sma_20"`
	RSI14     float64 `json:"rsi_14"`
	Change5d  float64 `json:"change_5d"`  // 5 日涨跌幅（%）
	Change20d float64 `json:"change_20d"` // 20 日涨跌幅（%）
}

// Snapshot 单只标的的一次行情读数
type Snapshot struct {
	Symbol     string      `json:"symbol"`
	Name       string      `json:"name"`
	Price      float64     `json:"price"`
	PrevClose  float64     `json:"prev_close"`
	ChangePct  float64     `json:"change_pct"` // 相对昨收涨跌幅（%）
	Indicators *Indicators `json:"indicators,omitempty"`
	Source     string      `json:"source"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// Age 快照距 now 的时长
func (s Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.FetchedAt) }

// ErrDataUnavailable 提供方出错或未返回该标的数据
var ErrDataUnavailable = errors.New("行情数据不可用")

// ProviderError 行情提供方传输/供应商层错误
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("行情提供方 %s 调用失败: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PartialDataError 批量获取时部分标的缺数据；可用部分仍随结果返回，
// 是否继续由调用方决定。
type PartialDataError struct {
	Missing []string
}

func (e *PartialDataError) Error() string {
	ms := append([]string(nil), e.Missing...)
	sort.Strings(ms)
	return fmt.Sprintf("部分标的缺少行情: %s", strings.Join(ms, ","))
}
