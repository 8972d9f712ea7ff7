package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"atrader/internal/ledger"
	"atrader/internal/logger"
	"atrader/internal/market"
	"atrader/internal/scheduler"
)

// 中文说明：
// 只读视图 + 人工触发入口的 HTTP 层。核心回路不依赖本包，
// 这里只是把调度器/引擎已暴露的操作映射为 JSON 端点。

type Server struct {
	addr    string
	engine  *ledger.Engine
	store   *ledger.Store
	sched   *scheduler.Scheduler
	cache   *market.Cache
	symbols []string
}

func NewServer(addr string, engine *ledger.Engine, store *ledger.Store, sched *scheduler.Scheduler, cache *market.Cache, symbols []string) *Server {
	return &Server{addr: addr, engine: engine, store: store, sched: sched, cache: cache, symbols: symbols}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/accounts", s.listAccounts)
	api.GET("/accounts/:id", s.accountState)
	api.GET("/accounts/:id/trades", s.tradeHistory)
	api.GET("/accounts/:id/cycles", s.cycleHistory)
	api.POST("/accounts/:id/cycles", s.runCycle)
	api.GET("/market", s.marketState)

	r.GET("/accounts/:id/equity.html", s.equityChart)
	return r
}

// Start 启动 HTTP 服务，ctx 取消时优雅退出
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("✓ HTTP 服务监听 %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) accountState(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	state, err := s.engine.AccountState(c.Request.Context(), id, s.lastMarks())
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status, lastRun, _ := s.sched.LastStatus(id)
	c.JSON(http.StatusOK, gin.H{
		"cash":            state.Account.Cash,
		"positions":       state.Positions,
		"positions_value": state.PositionsValue,
		"total_value":     state.TotalValue,
		"initial_capital": state.Account.InitialCapital,
		"last_status":     status,
		"last_run":        lastRun,
	})
}

func (s *Server) tradeHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.engine.TradeHistory(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) cycleHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	cycles, err := s.store.Cycles(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

// runCycle 人工触发一个周期；进行中的账户返回 409，不排队
func (s *Server) runCycle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := s.sched.RunCycle(c.Request.Context(), id)
	switch {
	case errors.Is(err, scheduler.ErrCycleAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, scheduler.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"status": res.Status, "detail": res.Detail}
	if res.Order != nil {
		body["order"] = res.Order
	}
	if res.Trade != nil {
		body["trade"] = res.Trade
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) marketState(c *gin.Context) {
	out := make(map[string]market.Snapshot, len(s.symbols))
	for _, sym := range s.symbols {
		if snap, ok := s.cache.Last(sym); ok {
			out[sym] = snap
		}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}

func (s *Server) equityChart(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	acc, err := s.store.GetAccount(c.Request.Context(), id)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points, err := s.store.ValueHistory(c.Request.Context(), id, 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := renderEquityChart(c.Writer, acc.ModelID, points); err != nil {
		logger.Warnf("渲染净值曲线失败: %v", err)
	}
}

// lastMarks 用最后已知快照估值（显式降级，不触发刷新）
func (s *Server) lastMarks() map[string]float64 {
	marks := make(map[string]float64, len(s.symbols))
	for _, sym := range s.symbols {
		if snap, ok := s.cache.Last(sym); ok {
			marks[sym] = snap.Price
		}
	}
	return marks
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法账户 id"})
		return 0, false
	}
	return id, true
}
