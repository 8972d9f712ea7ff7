package scheduler

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"atrader/internal/decision"
	"atrader/internal/ledger"
	"atrader/internal/market"
	"atrader/internal/risk"
)

// stubProvider 固定报价，供调度器端到端测试
type stubProvider struct {
	price float64
	fail  bool
}

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Quotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	if p.fail {
		return nil, errors.New("上游故障")
	}
	out := make(map[string]market.Quote, len(symbols))
	for _, sym := range symbols {
		out[sym] = market.Quote{Symbol: sym, Name: "测试" + sym, Price: p.price, PrevClose: p.price}
	}
	return out, nil
}

func (p stubProvider) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	return nil, nil
}

// fakeSource 固定返回的决策来源；enter/gate 用于并发时序控制
type fakeSource struct {
	raw   string
	err   error
	enter chan struct{}
	gate  chan struct{}
}

func (f *fakeSource) Decide(ctx context.Context, acct decision.AccountContext, snaps map[string]market.Snapshot) (string, string, error) {
	if f.enter != nil {
		f.enter <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.raw, "测试提示词", f.err
}

func newTestScheduler(t *testing.T, src decision.Source, provider market.Provider) (*Scheduler, *ledger.Store, ledger.Account) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	engine := ledger.NewEngine(store)
	cache := market.NewCache(provider, 30)

	win, err := ParseWindow("00:00:00", "23:59:59")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	opts := Options{
		Window:          win,
		Interval:        time.Minute,
		MinInterval:     0,
		SnapshotMaxAge:  time.Minute,
		MarketTimeout:   5 * time.Second,
		DecisionTimeout: 5 * time.Second,
		Symbols:         []string{"600519"},
		Sizer: risk.Config{
			FeeRate:             0.001,
			MaxPositionFraction: 1.0,
			MinOrderValue:       100,
			MaxPositions:        3,
		},
		SkipAdvancesInterval: true,
	}

	acc, err := store.EnsureAccount(context.Background(), "model-a", 10000)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	sched := New(opts, cache, engine, store)
	sched.Register(AccountRuntime{ID: acc.ID, ModelName: "model-a", InitialCapital: 10000, Source: src})
	return sched, store, acc
}

func TestRunCycle_ExecutesBuy(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"symbol": "600519", "signal": "buy", "fraction": 0.5, "confidence": 0.9, "justification": "测试买入"}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusExecuted {
		t.Fatalf("status = %s (%v)", res.Status, res.Err)
	}
	if res.Trade == nil || res.Trade.Quantity != 49 {
		t.Errorf("trade = %+v, want 49 股", res.Trade)
	}

	got, _ := store.GetAccount(ctx, acc.ID)
	if math.Abs(got.Cash-5095.1) > 1e-6 {
		t.Errorf("cash = %v, want 5095.1", got.Cash)
	}

	cycles, _ := store.Cycles(ctx, acc.ID, 10)
	if len(cycles) != 1 || cycles[0].Status != string(StatusExecuted) {
		t.Errorf("cycles = %+v", cycles)
	}
	if cycles[0].RawPayload != "" {
		t.Errorf("成功周期不应携带原始负载: %q", cycles[0].RawPayload)
	}
}

func TestRunCycle_HoldRecordsValue(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"signal": "hold", "justification": "观望"}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusHeld {
		t.Fatalf("status = %s (%v)", res.Status, res.Err)
	}
	if res.Order != nil || res.Trade != nil {
		t.Errorf("hold 不应产生订单/成交")
	}
	history, _ := store.ValueHistory(ctx, acc.ID, 10)
	if len(history) != 1 {
		t.Errorf("观望周期也应采样净值: %+v", history)
	}
}

func TestRunCycle_ValidationFailurePreservesRaw(t *testing.T) {
	ctx := context.Background()
	raw := "市场不错，建议买点茅台。"
	src := &fakeSource{raw: raw}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	var vErr *decision.ValidationError
	if !errors.As(res.Err, &vErr) {
		t.Fatalf("want *ValidationError, got %v", res.Err)
	}

	cycles, _ := store.Cycles(ctx, acc.ID, 10)
	if len(cycles) != 1 || cycles[0].RawPayload != raw {
		t.Errorf("原始负载未保留: %+v", cycles)
	}

	// 失败周期不得动账
	got, _ := store.GetAccount(ctx, acc.ID)
	if got.Cash != 10000 {
		t.Errorf("cash 被改动: %v", got.Cash)
	}
}

func TestRunCycle_ConcurrentTriggerRejected(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		raw:   `{"signal": "hold"}`,
		enter: make(chan struct{}),
		gate:  make(chan struct{}),
	}
	sched, _, acc := newTestScheduler(t, src, stubProvider{price: 100})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstRes CycleResult
	var firstErr error
	go func() {
		defer wg.Done()
		firstRes, firstErr = sched.RunCycle(ctx, acc.ID)
	}()

	<-src.enter // 第一个周期已进入决策阶段，仍持有周期锁
	if _, err := sched.RunCycle(ctx, acc.ID); !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Errorf("并发触发应拒绝, got %v", err)
	}
	close(src.gate)
	wg.Wait()

	if firstErr != nil || firstRes.Status != StatusHeld {
		t.Errorf("第一个周期 = %s, %v", firstRes.Status, firstErr)
	}
}

func TestRunCycle_OutsideWindowSkipped(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"signal": "hold"}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})

	win, _ := ParseWindow("09:30:00", "15:00:00")
	sched.opts.Window = win
	sched.now = func() time.Time { return time.Date(2026, 8, 28, 3, 0, 0, 0, time.Local) }

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Errorf("status = %s", res.Status)
	}
	// 窗口外跳过不取锁、不记录
	if cycles, _ := store.Cycles(ctx, acc.ID, 10); len(cycles) != 0 {
		t.Errorf("窗口外不应落周期记录: %+v", cycles)
	}
}

func TestRunCycle_MinIntervalGate(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"signal": "hold"}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})
	sched.opts.MinInterval = time.Hour

	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local)
	sched.now = func() time.Time { return fixed }

	if res, err := sched.RunCycle(ctx, acc.ID); err != nil || res.Status != StatusHeld {
		t.Fatalf("首个周期 = %v, %v", res.Status, err)
	}
	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Errorf("最小间隔内应跳过, got %s", res.Status)
	}
	if cycles, _ := store.Cycles(ctx, acc.ID, 10); len(cycles) != 1 {
		t.Errorf("间隔内跳过不应落记录: %+v", cycles)
	}
}

func TestRunCycle_SellWithoutPositionSkipped(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"symbol": "600519", "signal": "sell", "quantity": 10}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{price: 100})

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("status = %s (%v)", res.Status, res.Err)
	}
	cycles, _ := store.Cycles(ctx, acc.ID, 10)
	if len(cycles) != 1 || cycles[0].Status != string(StatusSkipped) {
		t.Errorf("cycles = %+v", cycles)
	}
	// 业务性跳过照常采样净值
	if history, _ := store.ValueHistory(ctx, acc.ID, 10); len(history) != 1 {
		t.Errorf("value history = %+v", history)
	}
}

func TestRunCycle_MarketUnavailableFails(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raw: `{"signal": "hold"}`}
	sched, store, acc := newTestScheduler(t, src, stubProvider{fail: true})

	res, err := sched.RunCycle(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, market.ErrDataUnavailable) {
		t.Errorf("want ErrDataUnavailable, got %v", res.Err)
	}
	// 失败不动账
	got, _ := store.GetAccount(ctx, acc.ID)
	if got.Cash != 10000 {
		t.Errorf("cash 被改动: %v", got.Cash)
	}
}

func TestRunCycle_UnknownAccount(t *testing.T) {
	src := &fakeSource{raw: `{"signal": "hold"}`}
	sched, _, _ := newTestScheduler(t, src, stubProvider{price: 100})

	if _, err := sched.RunCycle(context.Background(), 9999); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("want ErrUnknownAccount, got %v", err)
	}
}
