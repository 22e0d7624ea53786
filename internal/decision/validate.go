package decision

import "fmt"

// 字段上限：仓位 ≤2%，止损 ≤10%，止盈 ≤20%
const (
	MaxPositionSizePercent = 0.02
	MaxStopLossPercent     = 0.10
	MaxTakeProfitPercent   = 0.20
)

func Validate(d *TradingDecision) error {
	if !d.Action.Valid() {
		return fmt.Errorf("非法 action: %s", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence 范围 0-1，收到 %.4f", d.Confidence)
	}
	if d.PositionSizePercent < 0 || d.PositionSizePercent > MaxPositionSizePercent {
		return fmt.Errorf("position_size_percent 范围 0-%.2f，收到 %.4f", MaxPositionSizePercent, d.PositionSizePercent)
	}
	if d.StopLossPercent < 0 || d.StopLossPercent > MaxStopLossPercent {
		return fmt.Errorf("stop_loss_percent 范围 0-%.2f，收到 %.4f", MaxStopLossPercent, d.StopLossPercent)
	}
	if d.TakeProfitPercent < 0 || d.TakeProfitPercent > MaxTakeProfitPercent {
		return fmt.Errorf("take_profit_percent 范围 0-%.2f，收到 %.4f", MaxTakeProfitPercent, d.TakeProfitPercent)
	}
	return nil
}
