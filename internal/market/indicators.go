package market

import talib "github.com/markcheno/go-talib"

// 中文说明：
// 指标口径沿用日线收盘序列：SMA5/SMA20、RSI14、5 日与 20 日涨跌幅。
// 数据不足 14 根时不产出指标（返回 nil），提示词里相应留空。

const minIndicatorBars = 14

// ComputeIndicators 基于升序收盘价序列计算指标
func ComputeIndicators(closes []float64) *Indicators {
	n := len(closes)
	if n < minIndicatorBars {
		return nil
	}

	out := &Indicators{}
	out.SMA5 = last(talib.Sma(closes, 5))
	if n >= 20 {
		out.SMA20 = last(talib.Sma(closes, 20))
	} else {
		out.SMA20 = mean(closes)
	}
	out.RSI14 = last(talib.Rsi(closes, 14))

	if c := closes[n-5]; c != 0 {
		out.Change5d = (closes[n-1] - c) / c * 100
	}
	if n >= 20 {
		if c := closes[n-20]; c != 0 {
			out.Change20d = (closes[n-1] - c) / c * 100
		}
	}
	return out
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
