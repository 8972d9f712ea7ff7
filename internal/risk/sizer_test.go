package risk

import (
	"errors"
	"math"
	"testing"

	"atrader/internal/decision"
	"atrader/internal/ledger"
)

var baseCfg = Config{
	FeeRate:             0.001,
	MaxPositionFraction: 1.0,
	MinOrderValue:       100,
	MaxPositions:        3,
}

func TestSize_BuyByFraction(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalBuy, Fraction: 0.5}
	view := AccountView{Cash: 10000, TotalValue: 10000}

	ord, err := Size(dec, view, 100, baseCfg)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	// 目标金额 5000，扣费后 floor(5000×0.999/100) = 49 股
	if ord.Quantity != 49 {
		t.Errorf("quantity = %v, want 49", ord.Quantity)
	}
	if math.Abs(ord.Fee-4.9) > 1e-9 {
		t.Errorf("fee = %v, want 4.9", ord.Fee)
	}
	if ord.Side != ledger.SideBuy {
		t.Errorf("side = %s", ord.Side)
	}
}

func TestSize_BuyCappedByMaxPositionFraction(t *testing.T) {
	cfg := baseCfg
	cfg.MaxPositionFraction = 0.05
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalBuy, Fraction: 0.5}
	view := AccountView{Cash: 10000, TotalValue: 10000}

	ord, err := Size(dec, view, 100, cfg)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	// 目标金额被压到 500，floor(500×0.999/100) = 4 股
	if ord.Quantity != 4 {
		t.Errorf("quantity = %v, want 4", ord.Quantity)
	}
}

func TestSize_BuyTooSmall(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalBuy, Fraction: 0.005}
	view := AccountView{Cash: 10000, TotalValue: 10000}

	_, err := Size(dec, view, 100, baseCfg)
	if !errors.Is(err, ErrOrderTooSmall) {
		t.Fatalf("want ErrOrderTooSmall, got %v", err)
	}
}

func TestSize_BuyTooManyPositions(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalBuy, Fraction: 0.5}
	view := AccountView{Cash: 10000, TotalValue: 30000, OpenPositions: 3}

	_, err := Size(dec, view, 100, baseCfg)
	if !errors.Is(err, ErrTooManyPositions) {
		t.Fatalf("want ErrTooManyPositions, got %v", err)
	}

	// 已持有该标的时允许加仓
	view.PositionQty = 10
	if _, err := Size(dec, view, 100, baseCfg); err != nil {
		t.Errorf("加仓不应受持仓数限制: %v", err)
	}
}

func TestSize_SellClampedToPosition(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalSell, Quantity: 50}
	view := AccountView{Cash: 0, TotalValue: 1000, PositionQty: 10}

	ord, err := Size(dec, view, 100, baseCfg)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if ord.Quantity != 10 {
		t.Errorf("quantity = %v, want 10（不超过持仓）", ord.Quantity)
	}
	if ord.Side != ledger.SideSell {
		t.Errorf("side = %s", ord.Side)
	}
}

func TestSize_SellByFraction(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalSell, Fraction: 0.5}
	view := AccountView{PositionQty: 10, TotalValue: 1000}

	ord, err := Size(dec, view, 100, baseCfg)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if ord.Quantity != 5 {
		t.Errorf("quantity = %v, want 5", ord.Quantity)
	}
}

func TestSize_SellWithoutPosition(t *testing.T) {
	dec := &decision.Decision{Symbol: "600519", Signal: decision.SignalSell, Quantity: 10}
	view := AccountView{Cash: 10000, TotalValue: 10000}

	_, err := Size(dec, view, 100, baseCfg)
	if !errors.Is(err, ErrNoPositionToSell) {
		t.Fatalf("want ErrNoPositionToSell, got %v", err)
	}
}

func TestSize_HoldIsNoop(t *testing.T) {
	dec := &decision.Decision{Signal: decision.SignalHold}
	ord, err := Size(dec, AccountView{Cash: 10000, TotalValue: 10000}, 100, baseCfg)
	if err != nil {
		t.Fatalf("hold 不应报错: %v", err)
	}
	if ord != nil {
		t.Errorf("hold 不应产生订单: %+v", ord)
	}
}
