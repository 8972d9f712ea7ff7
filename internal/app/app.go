package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"atrader/internal/config"
	"atrader/internal/decision"
	"atrader/internal/ledger"
	"atrader/internal/logger"
	"atrader/internal/market"
	aiprov "atrader/internal/provider"
	"atrader/internal/risk"
	"atrader/internal/scheduler"
	"atrader/internal/web"
)

// 中文说明：
// 应用编排：配置 → 持久层 → 行情缓存 → 账户回路 → HTTP。
// 每个启用的模型条目对应一个独立资金池账户与一条调度回路。

type App struct {
	cfg   *config.Config
	store *ledger.Store
	sched *scheduler.Scheduler
	web   *web.Server
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// AppBuilder 汇集各组件的装配逻辑，供 wire 绑定
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	store, err := ledger.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	mp, err := buildMarketProvider(cfg)
	if err != nil {
		return nil, err
	}
	cache := market.NewCache(mp, cfg.Market.HistoryDays)
	cache.SetRecorder(store)
	logger.Infof("✓ 行情提供方: %s，跟踪 %d 个标的", mp.Name(), len(cfg.Market.Stocks))

	engine := ledger.NewEngine(store)

	window, err := scheduler.ParseWindow(cfg.Trading.WindowStart, cfg.Trading.WindowEnd)
	if err != nil {
		return nil, err
	}
	opts := scheduler.Options{
		Window:               window,
		Interval:             time.Duration(cfg.Trading.IntervalSeconds) * time.Second,
		MinInterval:          time.Duration(cfg.Trading.MinIntervalSeconds) * time.Second,
		SnapshotMaxAge:       time.Duration(cfg.Market.CacheTTLSecs) * time.Second,
		MarketTimeout:        time.Duration(cfg.Market.TimeoutSecs) * time.Second,
		DecisionTimeout:      time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		SkipAdvancesInterval: *cfg.Trading.SkipAdvancesInterval,
		Symbols:              cfg.Symbols(),
		Sizer: risk.Config{
			FeeRate:             cfg.Trading.FeeRate,
			MaxPositionFraction: cfg.Trading.MaxPositionFraction,
			MinOrderValue:       cfg.Trading.MinOrderValue,
			MaxPositions:        cfg.Trading.MaxPositions,
		},
	}
	sched := scheduler.New(opts, cache, engine, store)

	registered := 0
	for _, m := range cfg.AI.Models {
		if !m.Enabled {
			continue
		}
		acc, err := store.EnsureAccount(ctx, m.ID, m.InitialCapital)
		if err != nil {
			return nil, fmt.Errorf("初始化模型 %s 的账户失败: %w", m.ID, err)
		}
		client := &aiprov.OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			Timeout:      time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
			ExtraHeaders: m.Headers,
		}
		sched.Register(scheduler.AccountRuntime{
			ID:             acc.ID,
			ModelName:      m.Model,
			InitialCapital: acc.InitialCapital,
			Source:         decision.NewLLMSource(m.Model, client),
		})
		registered++
		logger.Infof("✓ 账户 %d ← 模型 %s (%s)，初始资金 ¥%.2f", acc.ID, m.ID, m.Model, acc.InitialCapital)
	}
	if registered == 0 {
		return nil, fmt.Errorf("没有可用的模型账户")
	}

	a := &App{cfg: cfg, store: store, sched: sched}
	if cfg.Server.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		a.web = web.NewServer(addr, engine, store, sched, cache, cfg.Symbols())
	}
	return a, nil
}

func buildMarketProvider(cfg *config.Config) (market.Provider, error) {
	switch cfg.Market.Provider {
	case "sina":
		stocks := make([]market.SinaStock, 0, len(cfg.Market.Stocks))
		for _, s := range cfg.Market.Stocks {
			stocks = append(stocks, market.SinaStock{Symbol: s.Symbol, Name: s.Name, Exchange: s.Exchange})
		}
		return market.NewSinaProvider(stocks), nil
	case "binance":
		return market.NewBinanceProvider(cfg.Market.BinanceBaseURL), nil
	}
	return nil, fmt.Errorf("不支持的行情提供方: %s", cfg.Market.Provider)
}

// Run 启动调度回路与 HTTP 服务，阻塞直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.sched == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.web != nil {
		group.Go(func() error {
			if err := a.web.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("HTTP 服务停止: %v", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.sched.Start(ctx)
	})

	return group.Wait()
}

// Close 释放持久层资源
func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
