package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) (*Store, *Engine) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, NewEngine(store)
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestExecute_Buy(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, err := store.EnsureAccount(ctx, "model-a", 10000)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	ord := Order{Symbol: "600519", Side: SideBuy, Quantity: 49, Price: 100, Fee: 4.9}
	trade, err := engine.Execute(ctx, acc.ID, ord, map[string]float64{"600519": 100})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !almostEqual(trade.Gross, 4900) || !almostEqual(trade.Net, 4904.9) {
		t.Errorf("gross/net = %v/%v", trade.Gross, trade.Net)
	}

	got, err := store.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !almostEqual(got.Cash, 5095.1) {
		t.Errorf("cash = %v, want 5095.1", got.Cash)
	}

	positions, err := store.Positions(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 49 || !almostEqual(positions[0].AvgPrice, 100) {
		t.Errorf("positions = %+v", positions)
	}

	history, err := store.ValueHistory(ctx, acc.ID, 10)
	if err != nil {
		t.Fatalf("ValueHistory: %v", err)
	}
	if len(history) != 1 || !almostEqual(history[0].TotalValue, 9995.1) {
		t.Errorf("value history = %+v", history)
	}
}

func TestExecute_InsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 1000)

	ord := Order{Symbol: "600519", Side: SideBuy, Quantity: 100, Price: 100, Fee: 10}
	_, err := engine.Execute(ctx, acc.ID, ord, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	// 失败订单不得留下任何半笔痕迹
	got, _ := store.GetAccount(ctx, acc.ID)
	if !almostEqual(got.Cash, 1000) {
		t.Errorf("cash 被改动: %v", got.Cash)
	}
	if trades, _ := store.Trades(ctx, acc.ID, 10); len(trades) != 0 {
		t.Errorf("出现了流水: %+v", trades)
	}
	if positions, _ := store.Positions(ctx, acc.ID); len(positions) != 0 {
		t.Errorf("出现了持仓: %+v", positions)
	}
}

func TestExecute_SellRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 10000)

	buy := Order{Symbol: "600519", Side: SideBuy, Quantity: 49, Price: 100, Fee: 4.9}
	if _, err := engine.Execute(ctx, acc.ID, buy, nil); err != nil {
		t.Fatalf("买入失败: %v", err)
	}

	sell := Order{Symbol: "600519", Side: SideSell, Quantity: 49, Price: 110, Fee: 5.39}
	trade, err := engine.Execute(ctx, acc.ID, sell, map[string]float64{"600519": 110})
	if err != nil {
		t.Fatalf("卖出失败: %v", err)
	}
	if !almostEqual(trade.Net, 5390-5.39) {
		t.Errorf("net = %v", trade.Net)
	}

	got, _ := store.GetAccount(ctx, acc.ID)
	// 10000 − 4904.9 + 5384.61 = 10479.71
	if !almostEqual(got.Cash, 10479.71) {
		t.Errorf("cash = %v, want 10479.71", got.Cash)
	}

	// 全部卖出后持仓行应被删除而非留零
	if positions, _ := store.Positions(ctx, acc.ID); len(positions) != 0 {
		t.Errorf("残留持仓: %+v", positions)
	}
}

func TestExecute_InsufficientPosition(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 10000)

	sell := Order{Symbol: "600519", Side: SideSell, Quantity: 10, Price: 100, Fee: 1}
	_, err := engine.Execute(ctx, acc.ID, sell, nil)
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("want ErrInsufficientPosition, got %v", err)
	}
	got, _ := store.GetAccount(ctx, acc.ID)
	if !almostEqual(got.Cash, 10000) {
		t.Errorf("cash 被改动: %v", got.Cash)
	}
}

func TestExecute_AverageCostReweighting(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 100000)

	for _, ord := range []Order{
		{Symbol: "600519", Side: SideBuy, Quantity: 10, Price: 100, Fee: 1},
		{Symbol: "600519", Side: SideBuy, Quantity: 10, Price: 120, Fee: 1.2},
	} {
		if _, err := engine.Execute(ctx, acc.ID, ord, nil); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	positions, _ := store.Positions(ctx, acc.ID)
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	if positions[0].Quantity != 20 || !almostEqual(positions[0].AvgPrice, 110) {
		t.Errorf("持仓 = %v @ %v, want 20 @ 110", positions[0].Quantity, positions[0].AvgPrice)
	}
}

func TestAccountState_MarkToMarket(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 10000)

	buy := Order{Symbol: "600519", Side: SideBuy, Quantity: 10, Price: 100, Fee: 1}
	if _, err := engine.Execute(ctx, acc.ID, buy, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	state, err := engine.AccountState(ctx, acc.ID, map[string]float64{"600519": 120})
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if !almostEqual(state.PositionsValue, 1200) {
		t.Errorf("positions value = %v, want 1200", state.PositionsValue)
	}

	// 缺现价时退回成本价估值
	state, err = engine.AccountState(ctx, acc.ID, nil)
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if !almostEqual(state.PositionsValue, 1000) {
		t.Errorf("positions value = %v, want 1000（成本价）", state.PositionsValue)
	}
}

func TestRecordValue(t *testing.T) {
	ctx := context.Background()
	store, engine := newTestEngine(t)
	acc, _ := store.EnsureAccount(ctx, "model-a", 5000)

	if _, err := engine.RecordValue(ctx, acc.ID, nil); err != nil {
		t.Fatalf("RecordValue: %v", err)
	}
	history, _ := store.ValueHistory(ctx, acc.ID, 10)
	if len(history) != 1 || !almostEqual(history[0].TotalValue, 5000) {
		t.Errorf("value history = %+v", history)
	}
}

func TestUpsertDailyClose(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestEngine(t)

	if err := store.UpsertDailyClose(ctx, "600519", 1800, "2026-08-28"); err != nil {
		t.Fatalf("UpsertDailyClose: %v", err)
	}
	// 同日重复写覆盖
	if err := store.UpsertDailyClose(ctx, "600519", 1820, "2026-08-28"); err != nil {
		t.Fatalf("UpsertDailyClose: %v", err)
	}
	close, day, err := store.LatestDailyClose(ctx, "600519")
	if err != nil {
		t.Fatalf("LatestDailyClose: %v", err)
	}
	if close != 1820 || day != "2026-08-28" {
		t.Errorf("close/day = %v/%s", close, day)
	}
}
