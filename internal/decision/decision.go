package decision

import "strings"

// 中文说明：
// 交易决策的类型化边界：上游（模型或策略信号）给出的松散 JSON 在这里一次性
// 解析并校验，后续所有层只消费该结构体。

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// TradingDecision 一次决策的完整描述。百分比字段均为小数（0.02 = 2%）。
type TradingDecision struct {
	Symbol              string   `json:"symbol"`
	Action              Action   `json:"action"`
	Confidence          float64  `json:"confidence"`
	PositionSizePercent float64  `json:"position_size_percent,omitempty"`
	StopLossPercent     float64  `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent   float64  `json:"take_profit_percent,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
	RiskFactors         []string `json:"risk_factors,omitempty"`
}

// NormalizeAction 统一动作名称，兼容 long/short 等同义词
func NormalizeAction(a string) Action {
	a = strings.ToUpper(strings.TrimSpace(a))
	switch a {
	case "BUY", "LONG", "OPEN", "OPEN_LONG", "ENTER":
		return ActionBuy
	case "SELL", "SHORT", "CLOSE", "EXIT", "CLOSE_LONG":
		return ActionSell
	case "HOLD", "WAIT", "NEUTRAL", "STAY":
		return ActionHold
	default:
		return Action(a)
	}
}

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}
