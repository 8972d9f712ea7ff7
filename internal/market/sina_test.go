package market

import (
	"math"
	"testing"
)

func TestParseSinaQuoteLine(t *testing.T) {
	line := `var hq_str_sh600519="贵州茅台,1805.000,1800.000,1812.500,1820.000,1798.000,1812.400,1812.500,2543200,4612345678.000";`
	q, ok := parseSinaQuoteLine(line)
	if !ok {
		t.Fatal("解析失败")
	}
	if q.Name != "贵州茅台" {
		t.Errorf("name = %q", q.Name)
	}
	if q.Price != 1812.5 {
		t.Errorf("price = %v", q.Price)
	}
	if q.PrevClose != 1800 {
		t.Errorf("prev close = %v", q.PrevClose)
	}
	if math.Abs(q.ChangePct-0.694444) > 1e-4 {
		t.Errorf("change pct = %v", q.ChangePct)
	}
}

func TestParseSinaQuoteLine_Invalid(t *testing.T) {
	for _, line := range []string{
		``,
		`var hq_str_sh600519="";`, // 停牌/无数据
		`var hq_str_sh600519="贵州茅台,1805";`,
		`纯垃圾`,
	} {
		if _, ok := parseSinaQuoteLine(line); ok {
			t.Errorf("应解析失败: %q", line)
		}
	}
}

func TestStripJSONP(t *testing.T) {
	in := `/*<script>location.href='//sina.com';</script>*/
var _600519_240 = ([{"day":"2026-08-27","close":"1800.00"}]);`
	if got, want := stripJSONP(in), `[{"day":"2026-08-27","close":"1800.00"}]`; got != want {
		t.Errorf("stripJSONP = %q, want %q", got, want)
	}
}

func TestSinaSymbolMapping(t *testing.T) {
	p := NewSinaProvider([]SinaStock{
		{Symbol: "600519", Name: "贵州茅台", Exchange: "XSHG"},
		{Symbol: "000001", Name: "平安银行", Exchange: "XSHE"},
	})
	cases := map[string]string{
		"600519": "sh600519",
		"000001": "sz000001",
		"601318": "sh601318", // 未配置交易所，按首位 6 推断
		"300750": "sz300750",
	}
	for symbol, want := range cases {
		if got := p.sinaSymbol(symbol); got != want {
			t.Errorf("sinaSymbol(%s) = %s, want %s", symbol, got, want)
		}
	}
}
