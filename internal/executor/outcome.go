package executor

import "fmt"

// 中文说明：
// 决策的三态结果。跳过不是错误：策略下一个周期照常继续。

type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

type SkipReason string

const (
	SkipCircuitOpen      SkipReason = "circuit_open"
	SkipDailyLossReached SkipReason = "daily_loss_reached"
	SkipLowConfidence    SkipReason = "low_confidence"
	SkipHold             SkipReason = "hold"
	SkipNoPosition       SkipReason = "no_position_to_sell"
	SkipSizeLimit        SkipReason = "size_exceeds_limit"
	SkipBelowMinNotional SkipReason = "below_min_notional"
	SkipLowRiskReward    SkipReason = "risk_reward_below_minimum"
	SkipOverheated       SkipReason = "portfolio_overheated"
)

// Outcome 三选一：Executed 携带成交信息，Skipped 携带原因，Failed 携带错误。
type Outcome struct {
	Status     Status     `json:"status"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Err        error      `json:"-"`

	OrderID       int64   `json:"order_id,omitempty"`
	TradeID       int64   `json:"trade_id,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	ExpectedPrice float64 `json:"expected_price,omitempty"`
	ExecutedPrice float64 `json:"executed_price,omitempty"`
	Slippage      float64 `json:"slippage,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"`
}

func Skipped(reason SkipReason, detail string) Outcome {
	return Outcome{Status: StatusSkipped, SkipReason: reason, Detail: detail}
}

func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err, Detail: err.Error()}
}

func (o Outcome) Executed() bool { return o.Status == StatusExecuted }

func (o Outcome) String() string {
	switch o.Status {
	case StatusExecuted:
		return fmt.Sprintf("executed order=%d trade=%d amount=%.8f price=%.4f slippage=%.4f%%",
			o.OrderID, o.TradeID, o.Amount, o.ExecutedPrice, o.Slippage*100)
	case StatusSkipped:
		if o.Detail != "" {
			return fmt.Sprintf("skipped (%s): %s", o.SkipReason, o.Detail)
		}
		return fmt.Sprintf("skipped (%s)", o.SkipReason)
	default:
		return fmt.Sprintf("failed: %v", o.Err)
	}
}

// slippage = |actual-expected| / expected，只记录不拦截。
func slippage(expected, actual float64) float64 {
	if expected == 0 {
		return 0
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff / expected
}
