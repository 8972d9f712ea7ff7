package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 中文说明：
// 新浪财经 A 股行情适配：
// - 即时报价走 hq.sinajs.cn 批量接口（GBK 编码，需带 Referer）
// - 日线收盘走 CN_MarketDataService JSONP 接口，需剥离注释/变量前缀
// 标的代码到 sh/sz 前缀的映射按交易所推断，缺省以首位数字兜底。

const (
	sinaQuoteURL = "https://hq.sinajs.cn/list="
	sinaKlineURL = "https://quotes.sina.cn/cn/api/jsonp_v2.php/var=/CN_MarketDataService.getKLineData"
)

// SinaStock 提供方所需的标的元信息
type SinaStock struct {
	Symbol   string
	Name     string
	Exchange string
}

type SinaProvider struct {
	client *http.Client
	stocks map[string]SinaStock
}

func NewSinaProvider(stocks []SinaStock) *SinaProvider {
	m := make(map[string]SinaStock, len(stocks))
	for _, s := range stocks {
		m[s.Symbol] = s
	}
	return &SinaProvider{
		client: &http.Client{Timeout: 10 * time.Second},
		stocks: m,
	}
}

func (p *SinaProvider) Name() string { return "sina" }

// sinaSymbol 600519/XSHG -> sh600519；未知交易所按首位数字判断
func (p *SinaProvider) sinaSymbol(symbol string) string {
	prefix := "sz"
	switch strings.ToLower(p.stocks[symbol].Exchange) {
	case "xshg", "sh", "sse":
		prefix = "sh"
	case "xshe", "sz", "szse":
		prefix = "sz"
	default:
		if strings.HasPrefix(symbol, "6") {
			prefix = "sh"
		}
	}
	return prefix + symbol
}

func (p *SinaProvider) Quotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}
	sinaSyms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sinaSyms = append(sinaSyms, p.sinaSymbol(s))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sinaQuoteURL+strings.Join(sinaSyms, ","), nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	// 新浪接口要求 Referer，否则返回 403
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status=%d", resp.StatusCode)}
	}

	// 响应为 GBK 编码
	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}

	out := make(map[string]Quote)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	for i, line := range lines {
		if i >= len(symbols) {
			break
		}
		q, ok := parseSinaQuoteLine(line)
		if !ok {
			continue
		}
		q.Symbol = symbols[i]
		if q.Name == "" {
			q.Name = p.stocks[symbols[i]].Name
		}
		out[symbols[i]] = q
	}
	return out, nil
}

// parseSinaQuoteLine 解析形如 var hq_str_sh600519="贵州茅台,开盘,昨收,现价,..." 的行
func parseSinaQuoteLine(line string) (Quote, bool) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return Quote{}, false
	}
	payload := strings.Trim(strings.TrimSuffix(strings.TrimSpace(parts[1]), ";"), `"`)
	if payload == "" {
		return Quote{}, false
	}
	fields := strings.Split(payload, ",")
	if len(fields) < 4 {
		return Quote{}, false
	}
	price, _ := strconv.ParseFloat(fields[3], 64)
	prevClose, _ := strconv.ParseFloat(fields[2], 64)
	q := Quote{Name: fields[0], Price: price, PrevClose: prevClose}
	if prevClose != 0 {
		q.ChangePct = (price - prevClose) / prevClose * 100
	}
	return q, price > 0
}

func (p *SinaProvider) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 60
	}
	url := fmt.Sprintf("%s?symbol=%s&scale=240&ma=no&datalen=%d", sinaKlineURL, p.sinaSymbol(symbol), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}

	payload := stripJSONP(string(body))
	if payload == "" || payload == "null" || payload == "[]" {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("标的 %s 日线数据为空", symbol)}
	}

	var bars []struct {
		Day   string `json:"day"`
		Close string `json:"close"`
	}
	if err := json.Unmarshal([]byte(payload), &bars); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("解析日线 JSONP 失败: %w", err)}
	}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		v, err := strconv.ParseFloat(b.Close, 64)
		if err != nil || b.Day == "" {
			continue
		}
		closes = append(closes, v)
	}
	return closes, nil
}

// stripJSONP 剥离新浪 JSONP 响应的注释、变量赋值与包裹括号
func stripJSONP(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ";")
	for strings.HasPrefix(text, "/*") {
		end := strings.Index(text, "*/")
		if end < 0 {
			break
		}
		text = strings.TrimSpace(text[end+2:])
	}
	if idx := strings.Index(text, "="); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}
