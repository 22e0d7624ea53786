package risk

import (
	"context"
	"math"

	storemodel "kestrel/internal/store/model"
)

// PortfolioMetrics 基于已平仓交易的组合风险指标。
type PortfolioMetrics struct {
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// CalculatePortfolioMetrics 按平仓时间顺序统计。最大回撤取累计已实现
// 盈亏曲线的峰谷差；Sharpe 为 mean(pnl%)/stdev(pnl%)，样本不足时为 0。
func (c *Controller) CalculatePortfolioMetrics(ctx context.Context, strategyID int64) (*PortfolioMetrics, error) {
	trades, err := c.store.ListClosedTrades(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	return computeMetrics(trades), nil
}

func computeMetrics(trades []storemodel.TradeModel) *PortfolioMetrics {
	out := &PortfolioMetrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return out
	}

	var wins, losses int
	var winSum, lossSum float64
	var cumulative, peak, maxDD float64
	pnlPcts := make([]float64, 0, len(trades))

	for _, tr := range trades {
		pnl := 0.0
		if tr.PnL != nil {
			pnl = *tr.PnL
		}
		if pnl > 0 {
			wins++
			winSum += pnl
		} else if pnl < 0 {
			losses++
			lossSum += -pnl
		}
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
		if tr.PnLPercent != nil {
			pnlPcts = append(pnlPcts, *tr.PnLPercent)
		}
	}

	out.WinRate = float64(wins) / float64(len(trades))
	if wins > 0 {
		out.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		out.AvgLoss = lossSum / float64(losses)
	}
	out.MaxDrawdown = maxDD
	out.SharpeRatio = simpleSharpe(pnlPcts)
	return out
}

func simpleSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}
