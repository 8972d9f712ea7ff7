package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"atrader/internal/decision"
	"atrader/internal/ledger"
	"atrader/internal/logger"
	"atrader/internal/market"
	"atrader/internal/risk"
)

// 中文说明：
// 周期调度器：每个账户一条独立定时回路，人工触发复用同一路径。
// 每账户状态机 Idle → Running → (Idle | Failed)，注册表是 CycleLock
// 唯一的获取/释放点；同账户并发触发直接拒绝（ErrCycleAlreadyRunning），
// 不排队。故障不粘滞：失败周期在下一个符合条件的 tick 自动重试。

type Status string

const (
	StatusExecuted Status = "executed"
	StatusHeld     Status = "held"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// CycleResult 一个周期的结果
type CycleResult struct {
	AccountID int64          `json:"account_id"`
	Status    Status         `json:"status"`
	Order     *ledger.Order  `json:"order,omitempty"`
	Trade     *ledger.Trade  `json:"trade,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Err       error          `json:"-"`
}

var (
	// ErrCycleAlreadyRunning 同账户已有进行中的周期；同步返回给触发方，不排队
	ErrCycleAlreadyRunning = errors.New("该账户已有交易周期进行中")
	// ErrUnknownAccount 账户未注册到调度器
	ErrUnknownAccount = errors.New("账户未注册")
)

// Options 调度参数，周期开始时读取的不可变快照
type Options struct {
	Window               Window
	Interval             time.Duration // 定时触发周期
	MinInterval          time.Duration // 两个周期之间的最小间隔
	SnapshotMaxAge       time.Duration // 行情快照新鲜度
	MarketTimeout        time.Duration // 行情拉取限时
	DecisionTimeout      time.Duration // 模型调用限时
	SkipAdvancesInterval bool          // 业务性跳过是否推进最小间隔计时
	Symbols              []string
	Sizer                risk.Config
}

// AccountRuntime 调度器视角下的账户：资金池 + 决策来源
type AccountRuntime struct {
	ID             int64
	ModelName      string
	InitialCapital float64
	Source         decision.Source
}

type accountState struct {
	runtime    AccountRuntime
	running    bool
	lastRun    time.Time
	lastStatus Status
}

type Scheduler struct {
	opts   Options
	cache  *market.Cache
	engine *ledger.Engine
	store  *ledger.Store
	now    func() time.Time

	mu       sync.Mutex
	accounts map[int64]*accountState
}

func New(opts Options, cache *market.Cache, engine *ledger.Engine, store *ledger.Store) *Scheduler {
	return &Scheduler{
		opts:     opts,
		cache:    cache,
		engine:   engine,
		store:    store,
		now:      time.Now,
		accounts: make(map[int64]*accountState),
	}
}

// Register 注册账户回路
func (s *Scheduler) Register(rt AccountRuntime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[rt.ID] = &accountState{runtime: rt}
}

// Start 为每个账户启动定时回路，阻塞直到 ctx 取消
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	runtimes := make([]AccountRuntime, 0, len(s.accounts))
	for _, st := range s.accounts {
		runtimes = append(runtimes, st.runtime)
	}
	s.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		rt := rt
		group.Go(func() error {
			ticker := time.NewTicker(s.opts.Interval)
			defer ticker.Stop()
			logger.Infof("✓ 账户 %d(%s) 交易回路启动，周期 %v，窗口 %s", rt.ID, rt.ModelName, s.opts.Interval, s.opts.Window)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					res, err := s.RunCycle(ctx, rt.ID)
					switch {
					case errors.Is(err, ErrCycleAlreadyRunning):
						// 上个周期未结束，本 tick 直接让行
					case err != nil:
						logger.Warnf("账户 %d 周期触发失败: %v", rt.ID, err)
					case res.Status == StatusFailed:
						logger.Warnf("账户 %d 周期失败: %v", rt.ID, res.Err)
					default:
						logger.Debugf("账户 %d 周期结束: %s %s", rt.ID, res.Status, res.Detail)
					}
				}
			}
		})
	}
	return group.Wait()
}

// RunCycle 执行一个完整周期；人工触发与定时触发共用。
// 窗口外与最小间隔内的触发返回 skipped（不取锁、不记录）。
func (s *Scheduler) RunCycle(ctx context.Context, accountID int64) (CycleResult, error) {
	now := s.now()

	s.mu.Lock()
	st, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return CycleResult{}, fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}
	if !s.opts.Window.Contains(now) {
		s.mu.Unlock()
		// 窗口外属预期行为：不取锁、不记账、不算错误
		return CycleResult{AccountID: accountID, Status: StatusSkipped, Detail: "当前不在交易时间窗口"}, nil
	}
	if st.running {
		s.mu.Unlock()
		return CycleResult{}, ErrCycleAlreadyRunning
	}
	if !st.lastRun.IsZero() && now.Sub(st.lastRun) < s.opts.MinInterval {
		s.mu.Unlock()
		return CycleResult{AccountID: accountID, Status: StatusSkipped, Detail: "距上次周期不足最小间隔"}, nil
	}
	st.running = true
	rt := st.runtime
	s.mu.Unlock()

	res := s.runPipeline(ctx, rt)

	s.mu.Lock()
	st.running = false
	st.lastStatus = res.Status
	switch res.Status {
	case StatusExecuted, StatusHeld:
		st.lastRun = now
	case StatusSkipped:
		// 业务性跳过是否推进间隔计时由配置决定（见 trading.skip_advances_interval）
		if s.opts.SkipAdvancesInterval {
			st.lastRun = now
		}
	case StatusFailed:
		// 失败不推进计时，下一个 tick 即可重试
	}
	s.mu.Unlock()

	s.recordCycle(res)
	return res, nil
}

// LastStatus 账户最近一次周期状态（供 API 展示）
func (s *Scheduler) LastStatus(accountID int64) (Status, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	if !ok {
		return "", time.Time{}, false
	}
	return st.lastStatus, st.lastRun, true
}

func (s *Scheduler) runPipeline(ctx context.Context, rt AccountRuntime) CycleResult {
	res := CycleResult{AccountID: rt.ID}

	// 行情：限时拉取，部分缺失可继续，全部缺失按不可用处理
	mctx, cancel := context.WithTimeout(ctx, s.opts.MarketTimeout)
	snaps, err := s.cache.GetAll(mctx, s.opts.Symbols, s.opts.SnapshotMaxAge)
	cancel()
	if err != nil {
		var pErr *market.PartialDataError
		if errors.As(err, &pErr) && len(snaps) > 0 {
			logger.Warnf("账户 %d: %v，继续使用可用行情", rt.ID, pErr)
		} else {
			return s.fail(res, fmt.Errorf("%w: %v", market.ErrDataUnavailable, err))
		}
	}
	marks := marksOf(snaps)

	state, err := s.engine.AccountState(ctx, rt.ID, marks)
	if err != nil {
		return s.fail(res, err)
	}

	// 模型决策：限时调用，输出永远视作不可信文本
	dctx, cancel := context.WithTimeout(ctx, s.opts.DecisionTimeout)
	raw, prompt, err := rt.Source.Decide(dctx, buildAccountContext(rt, state), snaps)
	cancel()
	if err != nil {
		return s.fail(res, err)
	}

	dec, perr := decision.Parse(raw)
	cot := ""
	if dec != nil {
		cot = dec.CoT
	}
	if err := s.store.AddConversation(ctx, rt.ID, prompt, raw, cot); err != nil {
		logger.Warnf("账户 %d 对话记录落库失败: %v", rt.ID, err)
	}
	if perr != nil {
		// 原始负载随周期记录保留，便于事后审计坏输出
		res.Status = StatusFailed
		res.Err = perr
		res.Detail = perr.Error()
		return res
	}

	if dec.Signal == decision.SignalHold {
		res.Status = StatusHeld
		res.Detail = "模型选择观望"
		if _, err := s.engine.RecordValue(ctx, rt.ID, marks); err != nil {
			logger.Warnf("账户 %d 净值采样失败: %v", rt.ID, err)
		}
		return res
	}

	snap, ok := snaps[dec.Symbol]
	if !ok {
		return s.fail(res, fmt.Errorf("%w: 决策标的 %s 无行情", market.ErrDataUnavailable, dec.Symbol))
	}

	view := risk.AccountView{
		Cash:          state.Account.Cash,
		TotalValue:    state.TotalValue,
		PositionQty:   positionQtyOf(state, dec.Symbol),
		OpenPositions: len(state.Positions),
	}
	ord, err := risk.Size(dec, view, snap.Price, s.opts.Sizer)
	if err != nil {
		if isSizingRejection(err) {
			// 合法业务状态（无货可卖/单太小），按 skipped 记录而非报错
			res.Status = StatusSkipped
			res.Detail = err.Error()
			if _, rerr := s.engine.RecordValue(ctx, rt.ID, marks); rerr != nil {
				logger.Warnf("账户 %d 净值采样失败: %v", rt.ID, rerr)
			}
			return res
		}
		return s.fail(res, err)
	}

	trade, err := s.engine.Execute(ctx, rt.ID, *ord, marks)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInsufficientPosition) {
			// 定量与执行之间状态漂移，下一周期以新状态重试
			logger.Errorf("账户 %d 执行复核未通过: %v (order=%+v)", rt.ID, err, *ord)
		}
		res.Order = ord
		return s.fail(res, err)
	}

	res.Status = StatusExecuted
	res.Order = ord
	res.Trade = trade
	res.Detail = fmt.Sprintf("%s %s %.0f股 @ %.2f", ord.Side, ord.Symbol, ord.Quantity, ord.Price)
	return res
}

func (s *Scheduler) fail(res CycleResult, err error) CycleResult {
	res.Status = StatusFailed
	res.Err = err
	res.Detail = err.Error()
	return res
}

// recordCycle 周期结果落库；校验失败时保留模型原文
func (s *Scheduler) recordCycle(res CycleResult) {
	raw := ""
	var vErr *decision.ValidationError
	if errors.As(res.Err, &vErr) {
		raw = vErr.Raw
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordCycle(ctx, res.AccountID, string(res.Status), res.Detail, raw); err != nil {
		logger.Warnf("账户 %d 周期记录落库失败: %v", res.AccountID, err)
	}
}

func buildAccountContext(rt AccountRuntime, state ledger.AccountState) decision.AccountContext {
	acct := decision.AccountContext{
		AccountID:      rt.ID,
		ModelName:      rt.ModelName,
		InitialCapital: state.Account.InitialCapital,
		Cash:           state.Account.Cash,
		TotalValue:     state.TotalValue,
	}
	if state.Account.InitialCapital > 0 {
		acct.TotalReturnPct = (state.TotalValue - state.Account.InitialCapital) / state.Account.InitialCapital * 100
	}
	for _, p := range state.Positions {
		acct.Positions = append(acct.Positions, decision.PositionBrief{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgPrice: p.AvgPrice,
		})
	}
	return acct
}

func positionQtyOf(state ledger.AccountState, symbol string) float64 {
	for _, p := range state.Positions {
		if p.Symbol == symbol {
			return p.Quantity
		}
	}
	return 0
}

func marksOf(snaps map[string]market.Snapshot) map[string]float64 {
	marks := make(map[string]float64, len(snaps))
	for sym, snap := range snaps {
		marks[sym] = snap.Price
	}
	return marks
}

func isSizingRejection(err error) bool {
	return errors.Is(err, risk.ErrOrderTooSmall) ||
		errors.Is(err, risk.ErrNoPositionToSell) ||
		errors.Is(err, risk.ErrTooManyPositions)
}
