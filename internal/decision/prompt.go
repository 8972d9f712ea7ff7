package decision

import (
	"fmt"
	"sort"
	"strings"

	"atrader/internal/market"
)

// 中文说明：
// 提示词构建：行情区块（价格/涨跌/指标）+ 账户区块 + 交易约束 + 输出格式。
// 模型只允许输出单个 JSON 对象，由校验器兜底。

const systemPrompt = "你是一名专业的A股量化交易员，负责在合规前提下为账户制定交易计划。只输出 JSON 格式。"

// BuildPrompt 组装用户提示词
func BuildPrompt(acct AccountContext, snaps map[string]market.Snapshot) string {
	var b strings.Builder
	b.WriteString("市场行情 (价格单位：人民币)：\n")

	symbols := make([]string, 0, len(snaps))
	for sym := range snaps {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		snap := snaps[sym]
		fmt.Fprintf(&b, "%s(%s): %.2f元 | 涨跌: %+.2f%%", sym, snap.Name, snap.Price, snap.ChangePct)
		if ind := snap.Indicators; ind != nil {
			fmt.Fprintf(&b, " | 5日: %+.2f%% | 20日: %+.2f%%\n", ind.Change5d, ind.Change20d)
			fmt.Fprintf(&b, "  SMA5: %.2f, SMA20: %.2f, RSI14: %.1f\n", ind.SMA5, ind.SMA20, ind.RSI14)
		} else {
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, `
账户状态:
- 初始资金: ¥%.2f
- 账户总值: ¥%.2f
- 可用现金: ¥%.2f
- 总收益率: %.2f%%

当前持仓:
`, acct.InitialCapital, acct.TotalValue, acct.Cash, acct.TotalReturnPct)

	if len(acct.Positions) == 0 {
		b.WriteString("None\n")
	}
	for _, pos := range acct.Positions {
		fmt.Fprintf(&b, "- %s %.2f 股 @ ¥%.2f\n", pos.Symbol, pos.Quantity, pos.AvgPrice)
	}

	b.WriteString(`
交易约束:
1. 仅允许 buy (买入)、sell (卖出)、hold (观望)。不支持做空。
2. 每个周期只对一个标的给出一个决策。
3. 仓位提示二选一：fraction 表示动用可用现金的比例 (0,1]；quantity 表示绝对股数。
4. 结合价格动量(SMA)、RSI、近期涨跌等因素给出止盈/止损与理由。
5. 默认 T+1 规则，卖出意图需说明。

仅输出以下 JSON 结构，不要添加额外文本:
` + "```" + `
{
  "cot_trace": ["步骤1：……", "步骤2：……"],
  "symbol": "600519",
  "signal": "buy|sell|hold",
  "fraction": 0.1,
  "confidence": 0.75,
  "stop_loss": 1950.0,
  "profit_target": 2100.0,
  "justification": "理由"
}
` + "```" + `

说明:
- cot_trace 用于记录3-5步推理过程，可为字符串数组。
- signal 为 hold 时可省略仓位与价位字段。
`)
	return b.String()
}
