package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// 中文说明：
// TOML 配置：应用/行情/交易/模型四大块。加载后填充默认值并做基础校验，
// 运行期各周期读取的是启动时的不可变快照，避免并发修改造成撕裂读。

type Config struct {
	App struct {
		Env      string `toml:"env"`
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Server struct {
		Enabled bool   `toml:"enabled"`
		Host    string `toml:"host"`
		Port    int    `toml:"port"`
	} `toml:"server"`

	DB struct {
		Path string `toml:"path"`
	} `toml:"db"`

	Market struct {
		Provider       string  `toml:"provider"`         // sina | binance
		CacheTTLSecs   int     `toml:"cache_ttl_seconds"`
		TimeoutSecs    int     `toml:"timeout_seconds"`
		HistoryDays    int     `toml:"history_days"` // 指标计算所需的日线数量
		BinanceBaseURL string  `toml:"binance_base_url"`
		Stocks         []Stock `toml:"stocks"`
	} `toml:"market"`

	Trading struct {
		WindowStart          string  `toml:"window_start"` // HH:MM:SS
		WindowEnd            string  `toml:"window_end"`
		IntervalSeconds      int     `toml:"interval_seconds"`
		MinIntervalSeconds   int     `toml:"min_interval_seconds"`
		FeeRate              float64 `toml:"fee_rate"`
		MaxPositionFraction  float64 `toml:"max_position_fraction"`
		MinOrderValue        float64 `toml:"min_order_value"`
		MaxPositions         int     `toml:"max_positions"`
		SkipAdvancesInterval *bool   `toml:"skip_advances_interval"` // 缺省 true
	} `toml:"trading"`

	AI struct {
		TimeoutSeconds int `toml:"timeout_seconds"`
		// 模型即账户：每个启用的模型条目拥有一个独立资金池
		Models []Model `toml:"models"`
	} `toml:"ai"`
}

// Stock 跟踪标的（代码/名称/交易所）
type Stock struct {
	Symbol   string `toml:"symbol"`
	Name     string `toml:"name"`
	Exchange string `toml:"exchange"`
}

// Model 单个决策模型及其资金池配置
type Model struct {
	ID             string            `toml:"id"`
	Provider       string            `toml:"provider"` // openai | deepseek | qwen（均按 OpenAI 兼容接口调用）
	Enabled        bool              `toml:"enabled"`
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	InitialCapital float64           `toml:"initial_capital"`
	Headers        map[string]string `toml:"headers"`
}

// Load 读取并解析 TOML 配置文件，并设置缺省值与基本校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 5000
	}
	if c.DB.Path == "" {
		c.DB.Path = "atrader.db"
	}
	if c.Market.Provider == "" {
		c.Market.Provider = "sina"
	}
	if c.Market.CacheTTLSecs <= 0 {
		c.Market.CacheTTLSecs = 5
	}
	if c.Market.TimeoutSecs <= 0 {
		c.Market.TimeoutSecs = 10
	}
	if c.Market.HistoryDays <= 0 {
		c.Market.HistoryDays = 60
	}
	if c.Trading.WindowStart == "" {
		c.Trading.WindowStart = "09:30:00"
	}
	if c.Trading.WindowEnd == "" {
		c.Trading.WindowEnd = "15:00:00"
	}
	if c.Trading.IntervalSeconds <= 0 {
		c.Trading.IntervalSeconds = 180
	}
	if c.Trading.MinIntervalSeconds <= 0 {
		c.Trading.MinIntervalSeconds = 60
	}
	if c.Trading.FeeRate <= 0 {
		c.Trading.FeeRate = 0.001
	}
	if c.Trading.MaxPositionFraction <= 0 || c.Trading.MaxPositionFraction > 1 {
		c.Trading.MaxPositionFraction = 1.0
	}
	if c.Trading.MinOrderValue <= 0 {
		c.Trading.MinOrderValue = 100
	}
	if c.Trading.MaxPositions <= 0 {
		c.Trading.MaxPositions = 3
	}
	if c.Trading.SkipAdvancesInterval == nil {
		v := true
		c.Trading.SkipAdvancesInterval = &v
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 120
	}
}

func validate(c *Config) error {
	switch c.Market.Provider {
	case "sina", "binance":
	default:
		return fmt.Errorf("不支持的行情提供方: %s", c.Market.Provider)
	}
	if len(c.Market.Stocks) == 0 {
		return fmt.Errorf("market.stocks 不能为空")
	}
	for _, s := range c.Market.Stocks {
		if strings.TrimSpace(s.Symbol) == "" {
			return fmt.Errorf("market.stocks 存在空 symbol")
		}
	}
	if c.Trading.FeeRate >= 0.1 {
		return fmt.Errorf("trading.fee_rate 过大: %v", c.Trading.FeeRate)
	}
	enabled := 0
	seen := map[string]bool{}
	for _, m := range c.AI.Models {
		if seen[m.ID] {
			return fmt.Errorf("ai.models 存在重复 id: %s", m.ID)
		}
		seen[m.ID] = true
		if !m.Enabled {
			continue
		}
		enabled++
		if m.ID == "" || m.Model == "" {
			return fmt.Errorf("启用的模型必须提供 id 与 model")
		}
		if m.InitialCapital <= 0 {
			return fmt.Errorf("模型 %s 的 initial_capital 必须为正", m.ID)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("至少需要启用一个 ai.models 条目")
	}
	return nil
}

// Symbols 返回全部跟踪标的代码
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Market.Stocks))
	for _, s := range c.Market.Stocks {
		out = append(out, s.Symbol)
	}
	return out
}
