package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"atrader/internal/app"
	"atrader/internal/config"
	"atrader/internal/logger"
)

// 入口程序：
// 1) 加载 TOML 配置
// 2) 装配持久层/行情缓存/执行引擎/调度器
// 3) 启动各账户交易回路与 HTTP 服务，等待退出信号
func main() {
	cfgPath := os.Getenv("ATRADER_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，行情=%s，窗口=%s-%s，周期=%ds）",
		cfg.App.Env, cfg.Market.Provider, cfg.Trading.WindowStart, cfg.Trading.WindowEnd, cfg.Trading.IntervalSeconds)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("已退出")
}
