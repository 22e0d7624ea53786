package backtest

import "math"

type Metrics struct {
	TotalPnL        float64
	TotalPnLPercent float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	ProfitFactor    float64
	MaxDrawdown     float64
	MaxDrawdownPct  float64
	SharpeRatio     float64
	LargestWin      float64
	LargestLoss     float64
	AvgDurationHrs  float64
}

func computeMetrics(initial, final float64, trades []ClosedTrade, equity []EquityPoint) Metrics {
	m := Metrics{
		TotalPnL:    final - initial,
		TotalTrades: len(trades),
	}
	if initial > 0 {
		m.TotalPnLPercent = (final - initial) / initial * 100
	}

	var grossWin, grossLoss, durationSum float64
	for _, t := range trades {
		durationSum += t.ExitTime.Sub(t.EntryTime).Hours()
		if t.PnL > 0 {
			m.WinningTrades++
			grossWin += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		} else if t.PnL < 0 {
			m.LosingTrades++
			grossLoss += -t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(len(trades)) * 100
		m.AvgDurationHrs = durationSum / float64(len(trades))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	// 没有亏损样本时盈亏比无意义，记 0
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)
	m.SharpeRatio = annualizedSharpe(stepReturns(equity))
	return m
}

// stepReturns 权益曲线逐点收益率，夏普用
func stepReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equity[i].Equity-prev)/prev)
	}
	return out
}

func maxDrawdown(equity []EquityPoint) (amount, percent float64) {
	peak := math.Inf(-1)
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		dd := peak - pt.Equity
		if dd > amount {
			amount = dd
			if peak > 0 {
				percent = dd / peak * 100
			}
		}
	}
	return amount, percent
}

// annualizedSharpe 简化夏普：逐点收益率均值/样本标准差 × √252，
// 样本不足或无波动时为 0。
func annualizedSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(252)
}
