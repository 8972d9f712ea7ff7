package market

import "context"

// Quote 提供方返回的即时报价
type Quote struct {
	Symbol    string
	Name      string
	Price     float64
	PrevClose float64
	ChangePct float64
}

// Provider 行情提供方抽象：不同供应商（新浪/币安）各自实现，
// 缓存与核心回路对供应商无感知，由配置选择具体实现。
type Provider interface {
	Name() string
	// Quotes 拉取一批标的的即时报价；缺失的标的不出现在返回映射中
	Quotes(ctx context.Context, symbols []string) (map[string]Quote, error)
	// DailyCloses 返回最近 limit 根日线收盘价（按时间升序）
	DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
}
