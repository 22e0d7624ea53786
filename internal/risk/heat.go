package risk

import (
	"context"
	"fmt"

	"kestrel/internal/gateway/notifier"
)

// 组合热度：所有在手仓位的风险敞口占余额的比例。
// 单仓风险按名义价值 × 2% 估算，总热度超过 10% 视为过热。
const (
	heatPerPositionRisk = 0.02
	maxPortfolioHeat    = 0.10
)

type PortfolioHeat struct {
	Heat       float64 `json:"heat"`
	Limit      float64 `json:"limit"`
	Overheated bool    `json:"overheated"`
	Positions  int     `json:"positions"`
}

// CalculatePortfolioHeat 统计策略的全部在手仓位；balance<=0 时热度记 0。
func (c *Controller) CalculatePortfolioHeat(ctx context.Context, strategyID int64, balance float64) (*PortfolioHeat, error) {
	positions, err := c.store.ListOpenPositions(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	out := &PortfolioHeat{Limit: maxPortfolioHeat, Positions: len(positions)}
	if balance <= 0 || len(positions) == 0 {
		return out, nil
	}
	var riskTotal float64
	for _, p := range positions {
		notional := p.Amount * p.EntryPrice
		riskTotal += notional * heatPerPositionRisk
	}
	out.Heat = riskTotal / balance
	out.Overheated = out.Heat > maxPortfolioHeat
	if out.Overheated {
		c.alerter.SendAlert("组合热度过高",
			fmt.Sprintf("策略 %d 组合热度 %.2f%% 超过上限 %.2f%%", strategyID, out.Heat*100, maxPortfolioHeat*100),
			notifier.PriorityHigh)
	}
	return out, nil
}
