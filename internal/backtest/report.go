package backtest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// WriteReport 把一次回测渲染成单页 HTML 资金曲线。
// 曲线按成交出场时间重建：初始资金逐笔累加已实现盈亏。
func (s *Service) WriteReport(ctx context.Context, id int64, w io.Writer) error {
	run, err := s.store.GetBacktest(ctx, id)
	if err != nil {
		return err
	}
	trades, err := s.store.ListBacktestTrades(ctx, id)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(trades)+1)
	points := make([]opts.LineData, 0, len(trades)+1)
	labels = append(labels, time.Unix(run.StartUnix, 0).UTC().Format("01-02 15:04"))
	equity := run.InitialBalance
	points = append(points, opts.LineData{Value: equity})
	for _, t := range trades {
		equity += t.PnL
		labels = append(labels, time.Unix(t.ExitTimeUnix, 0).UTC().Format("01-02 15:04"))
		points = append(points, opts.LineData{Value: equity})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:     types.ThemeWesteros,
			PageTitle: fmt.Sprintf("backtest #%d %s", run.ID, run.Symbol),
			Width:     "1200px",
			Height:    "520px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s 资金曲线", run.Symbol, run.Interval),
			Subtitle: fmt.Sprintf("pnl %.2f (%.2f%%)  trades %d  win %.1f%%  maxDD %.2f%%  sharpe %.2f",
				run.TotalPnL, run.TotalPnLPercent, run.TotalTrades,
				run.WinRate, run.MaxDrawdownPct, run.SharpeRatio),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(labels).
		AddSeries("equity", points).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	return line.Render(w)
}
