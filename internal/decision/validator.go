package decision

import (
	"encoding/json"
	"strings"
)

// 中文说明：
// 严格的解析边界：模型输出不可信，任何字段未经类型/范围检查不得放行。
// 容忍 ```json 围栏与前后噪声——取第一个配平的 JSON 对象即可。
// 失败时原始文本原样随错误返回，绝不静默丢弃。

// rawDecision 宽松接收模型字段；兼容旧版信号词汇
type rawDecision struct {
	Symbol        string          `json:"symbol"`
	Signal        string          `json:"signal"`
	Fraction      float64         `json:"fraction"`
	Quantity      float64         `json:"quantity"`
	Confidence    float64         `json:"confidence"`
	StopLoss      float64         `json:"stop_loss"`
	ProfitTarget  float64         `json:"profit_target"`
	Justification string          `json:"justification"`
	Rationale     string          `json:"rationale"`
	CoTTrace      json.RawMessage `json:"cot_trace"`
}

// Parse 将模型原始文本解析为不可变 Decision
func Parse(raw string) (*Decision, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, malformed(raw, "未找到 JSON 对象", nil)
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(obj), &rd); err != nil {
		return nil, malformed(raw, "JSON 解析失败", err)
	}

	sig, ok := normalizeSignal(rd.Signal)
	if !ok {
		return nil, malformed(raw, "无法识别 signal: "+rd.Signal, nil)
	}

	dec := &Decision{
		Symbol:       strings.TrimSpace(rd.Symbol),
		Signal:       sig,
		Fraction:     rd.Fraction,
		Quantity:     rd.Quantity,
		Confidence:   rd.Confidence,
		StopLoss:     rd.StopLoss,
		ProfitTarget: rd.ProfitTarget,
		Rationale:    firstNonEmpty(rd.Justification, rd.Rationale),
		CoT:          stringifyCoT(rd.CoTTrace),
		Raw:          raw,
	}

	if sig != SignalHold {
		if dec.Symbol == "" {
			return nil, invalid(raw, "非 hold 决策缺少 symbol")
		}
		// 仓位提示：fraction 与 quantity 必须二选一
		hasFrac := dec.Fraction != 0
		hasQty := dec.Quantity != 0
		switch {
		case !hasFrac && !hasQty:
			return nil, invalid(raw, "缺少 fraction 或 quantity 仓位提示")
		case hasFrac && hasQty:
			return nil, invalid(raw, "fraction 与 quantity 只能提供一个")
		case hasFrac && (dec.Fraction <= 0 || dec.Fraction > 1):
			// fraction > 1 拒绝而非截断：截断会掩盖坏决策
			return nil, invalid(raw, "fraction 超出 (0,1]")
		case hasQty && dec.Quantity <= 0:
			return nil, invalid(raw, "quantity 必须为正")
		}
	}
	if dec.Confidence < 0 || dec.Confidence > 1 {
		return nil, invalid(raw, "confidence 超出 [0,1]")
	}
	return dec, nil
}

// normalizeSignal 兼容旧版信号词汇（buy_to_enter/close_position）
func normalizeSignal(s string) (Signal, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "buy_to_enter":
		return SignalBuy, true
	case "sell", "close_position", "sell_to_close":
		return SignalSell, true
	case "hold":
		return SignalHold, true
	}
	return "", false
}

// extractJSONObject 在文本中定位第一个配平的 JSON 对象，
// 字符串字面量中的花括号与转义不计入配平。
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stringifyCoT 推理轨迹可能是字符串或字符串数组，统一拼为多行文本
func stringifyCoT(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return strings.TrimSpace(string(raw))
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		var line string
		if err := json.Unmarshal(it, &line); err != nil {
			line = string(it)
		}
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
