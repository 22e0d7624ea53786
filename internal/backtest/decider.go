package backtest

import (
	talib "github.com/markcheno/go-talib"

	"kestrel/internal/decision"
	"kestrel/internal/gateway/exchange"
)

// indicatorDecision 无决策源或决策源失败时的指标兜底：
// RSI 超卖且 MACD 柱翻红看多，超买且翻绿看空，其余观望。
func indicatorDecision(window []exchange.Candle) *decision.TradingDecision {
	if len(window) < 35 {
		return holdDecision()
	}
	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	rsi := talib.Rsi(closes, 14)
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	lastRSI := rsi[len(rsi)-1]
	lastHist := hist[len(hist)-1]

	switch {
	case lastRSI < 30 && lastHist > 0:
		return &decision.TradingDecision{
			Action:     decision.ActionBuy,
			Confidence: 0.7,
			Reasoning:  "rsi oversold with macd histogram turning positive",
		}
	case lastRSI > 70 && lastHist < 0:
		return &decision.TradingDecision{
			Action:     decision.ActionSell,
			Confidence: 0.7,
			Reasoning:  "rsi overbought with macd histogram turning negative",
		}
	default:
		return holdDecision()
	}
}

func holdDecision() *decision.TradingDecision {
	return &decision.TradingDecision{
		Action:     decision.ActionHold,
		Confidence: 0.5,
		Reasoning:  "no clear signal",
	}
}

// windowATR 最近 14 期 ATR；窗口太短时用收盘价 2% 近似。
func windowATR(window []exchange.Candle) float64 {
	if len(window) < 15 {
		if len(window) == 0 {
			return 0
		}
		return window[len(window)-1].Close * 0.02
	}
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	closes := make([]float64, len(window))
	for i, c := range window {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	atr := talib.Atr(highs, lows, closes, 14)
	v := atr[len(atr)-1]
	if v <= 0 {
		return closes[len(closes)-1] * 0.02
	}
	return v
}

// volatilityTierPercent 决策未给仓位比例时按波动率分档：
// 高波动缩仓，低波动放宽。
func volatilityTierPercent(window []exchange.Candle) float64 {
	if len(window) == 0 {
		return 0.01
	}
	price := window[len(window)-1].Close
	if price <= 0 {
		return 0.01
	}
	vol := windowATR(window) / price
	switch {
	case vol > 0.05:
		return 0.005
	case vol < 0.01:
		return 0.015
	default:
		return 0.01
	}
}
