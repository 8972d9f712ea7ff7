package market

import (
	"context"
	"fmt"
	"strconv"

	binance "github.com/adshao/go-binance/v2"
)

// 中文说明：
// 币安现货行情适配：24h 行情接口取报价，1d K 线取收盘序列。
// 仅使用公共端点，无需 API Key。

type BinanceProvider struct {
	client *binance.Client
}

func NewBinanceProvider(baseURL string) *BinanceProvider {
	c := binance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &BinanceProvider{client: c}
}

func (p *BinanceProvider) Name() string { return "binance" }

func (p *BinanceProvider) Quotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		stats, err := p.client.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
		if err != nil {
			return nil, &ProviderError{Provider: p.Name(), Err: err}
		}
		for _, st := range stats {
			price, err := strconv.ParseFloat(st.LastPrice, 64)
			if err != nil || price <= 0 {
				continue
			}
			prev, _ := strconv.ParseFloat(st.PrevClosePrice, 64)
			pct, _ := strconv.ParseFloat(st.PriceChangePercent, 64)
			out[sym] = Quote{
				Symbol:    sym,
				Name:      sym,
				Price:     price,
				PrevClose: prev,
				ChangePct: pct,
			}
		}
	}
	return out, nil
}

func (p *BinanceProvider) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 60
	}
	klines, err := p.client.NewKlinesService().Symbol(symbol).Interval("1d").Limit(limit).Do(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		v, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("非法收盘价 %q: %w", k.Close, err)}
		}
		closes = append(closes, v)
	}
	return closes, nil
}
