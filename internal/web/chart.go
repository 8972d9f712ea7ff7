package web

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"atrader/internal/ledger"
)

// renderEquityChart 把净值历史渲染为独立 HTML 折线图页面
func renderEquityChart(w io.Writer, modelID string, points []ledger.ValuePoint) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "账户净值曲线",
			Width:     "1100px",
			Height:    "520px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("账户净值曲线 — %s", modelID),
			Subtitle: fmt.Sprintf("采样点: %d", len(points)),
		}),
	)

	xs := make([]string, 0, len(points))
	totals := make([]opts.LineData, 0, len(points))
	cashes := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xs = append(xs, p.CreatedAt.Format("01-02 15:04"))
		totals = append(totals, opts.LineData{Value: p.TotalValue})
		cashes = append(cashes, opts.LineData{Value: p.Cash})
	}

	line.SetXAxis(xs).
		AddSeries("总资产", totals).
		AddSeries("可用现金", cashes)
	return line.Render(w)
}
