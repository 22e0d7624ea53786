package risk

// 中文说明：
// 仓位计算的三种口径。全部返回名义金额（计价货币），调用方自己换算数量。
// 缺参数时一律退回 fixed，绝不报错中断交易循环。

const (
	// 默认仓位：余额的 1%
	DefaultPositionPercent = 0.01
	// Kelly 分数折减与上限
	kellyDamping = 0.25
	kellyCap     = 0.02
	// ATR 口径下单笔风险预算：余额的 1%
	atrRiskPercent = 0.01
	atrFloorFactor = 0.5
)

// SizeInputs 提供各口径可能用到的输入，零值表示缺失。
type SizeInputs struct {
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	ATR             float64
	CurrentPrice    float64
	StopLossPercent float64
}

func fixedSize(balance, maxPercent float64) float64 {
	size := balance * DefaultPositionPercent
	return capSize(size, balance, maxPercent)
}

// kellySize: edge = w*R - (1-w)，R = avgWin/avgLoss。
// 分数折减 0.25 后 clamp 到 [0, 0.02]，再乘余额并套用配置上限。
func kellySize(balance, maxPercent float64, in SizeInputs) float64 {
	if in.AvgLoss == 0 || in.AvgWin <= 0 || in.WinRate <= 0 {
		return fixedSize(balance, maxPercent)
	}
	ratio := in.AvgWin / in.AvgLoss
	if ratio <= 0 {
		return fixedSize(balance, maxPercent)
	}
	edge := in.WinRate*ratio - (1 - in.WinRate)
	fraction := edge / ratio * kellyDamping
	if fraction < 0 {
		fraction = 0
	}
	if fraction > kellyCap {
		fraction = kellyCap
	}
	return capSize(balance*fraction, balance, maxPercent)
}

// atrSize: 风险预算 1%，有效止损距离取 max(价格×止损比例, ATR×0.5)。
func atrSize(balance, maxPercent float64, in SizeInputs) float64 {
	if in.ATR <= 0 || in.CurrentPrice <= 0 || in.StopLossPercent <= 0 {
		return fixedSize(balance, maxPercent)
	}
	riskAmount := balance * atrRiskPercent
	effectiveStop := in.CurrentPrice * in.StopLossPercent
	if floor := in.ATR * atrFloorFactor; floor > effectiveStop {
		effectiveStop = floor
	}
	size := riskAmount / (effectiveStop / in.CurrentPrice)
	return capSize(size, balance, maxPercent)
}

func capSize(size, balance, maxPercent float64) float64 {
	if size < 0 {
		return 0
	}
	if maxPercent > 0 {
		if limit := balance * maxPercent; size > limit {
			return limit
		}
	}
	return size
}
