package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"atrader/internal/logger"
)

// 中文说明：
// 行情快照缓存：按标的保存最近一次快照并带新鲜度 TTL。
// - 过期即同步刷新；同一标的的并发刷新通过 singleflight 合并为一次上游调用
// - 旧条目永不剔除，Last 可显式取"最后已知"快照（降级读取）
// - 刷新成功时顺带把当日收盘写入 recorder（可选），供窗口外展示

// CloseRecorder 刷新成功后落库当日收盘价的回调
type CloseRecorder interface {
	UpsertDailyClose(ctx context.Context, symbol string, close float64, day string) error
}

type Cache struct {
	provider    Provider
	historyBars int
	recorder    CloseRecorder // 可为 nil
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]Snapshot
	sf      singleflight.Group
}

func NewCache(provider Provider, historyBars int) *Cache {
	if historyBars <= 0 {
		historyBars = 60
	}
	return &Cache{
		provider:    provider,
		historyBars: historyBars,
		now:         time.Now,
		entries:     make(map[string]Snapshot),
	}
}

// SetRecorder 注入收盘价落库回调
func (c *Cache) SetRecorder(r CloseRecorder) { c.recorder = r }

// Get 返回不早于 maxAge 的快照；过期则同步刷新
func (c *Cache) Get(ctx context.Context, symbol string, maxAge time.Duration) (Snapshot, error) {
	if snap, ok := c.fresh(symbol, maxAge); ok {
		return snap, nil
	}
	return c.refresh(ctx, symbol)
}

// GetAll 批量获取；缺失标的汇总为 *PartialDataError，可用部分照常返回，
// 是否继续由调用方决定。
func (c *Cache) GetAll(ctx context.Context, symbols []string, maxAge time.Duration) (map[string]Snapshot, error) {
	out := make(map[string]Snapshot, len(symbols))
	var missing []string
	for _, sym := range symbols {
		snap, err := c.Get(ctx, sym, maxAge)
		if err != nil {
			missing = append(missing, sym)
			continue
		}
		out[sym] = snap
	}
	if len(missing) > 0 {
		return out, &PartialDataError{Missing: missing}
	}
	return out, nil
}

// Last 返回最后已知快照，不做新鲜度检查（显式降级模式）
func (c *Cache) Last(symbol string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[symbol]
	return snap, ok
}

func (c *Cache) fresh(symbol string, maxAge time.Duration) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[symbol]
	if !ok || snap.Age(c.now()) > maxAge {
		return Snapshot{}, false
	}
	return snap, true
}

// refresh 同一标的并发刷新合并为一次上游调用
func (c *Cache) refresh(ctx context.Context, symbol string) (Snapshot, error) {
	v, err, _ := c.sf.Do(symbol, func() (any, error) {
		return c.fetchOne(ctx, symbol)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) fetchOne(ctx context.Context, symbol string) (Snapshot, error) {
	quotes, err := c.provider.Quotes(ctx, []string{symbol})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	q, ok := quotes[symbol]
	if !ok || q.Price <= 0 {
		return Snapshot{}, fmt.Errorf("%w: 提供方未返回 %s", ErrDataUnavailable, symbol)
	}

	snap := Snapshot{
		Symbol:    symbol,
		Name:      q.Name,
		Price:     q.Price,
		PrevClose: q.PrevClose,
		ChangePct: q.ChangePct,
		Source:    c.provider.Name(),
		FetchedAt: c.now(),
	}

	// 指标缺失不视为快照失败，提示词里相应留空
	if closes, err := c.provider.DailyCloses(ctx, symbol, c.historyBars); err != nil {
		logger.Warnf("获取 %s 日线失败，指标缺省: %v", symbol, err)
	} else {
		snap.Indicators = ComputeIndicators(closes)
	}

	if c.recorder != nil {
		day := snap.FetchedAt.Format("2006-01-02")
		if err := c.recorder.UpsertDailyClose(ctx, symbol, snap.Price, day); err != nil {
			logger.Warnf("落库 %s 收盘价失败: %v", symbol, err)
		}
	}

	c.mu.Lock()
	c.entries[symbol] = snap
	c.mu.Unlock()
	return snap, nil
}
