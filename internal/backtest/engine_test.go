package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/decision"
	"kestrel/internal/gateway/exchange"
)

type candleSourceFunc func(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error)

func (f candleSourceFunc) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return f(ctx, symbol, interval, limit)
}

// scriptedDecider 按 K 线下标回放决策，未覆盖的下标给 HOLD。
type scriptedDecider struct {
	decisions map[int]*decision.TradingDecision
	calls     int
}

func (d *scriptedDecider) Decide(ctx context.Context, symbol string, window []exchange.Candle) (*decision.TradingDecision, error) {
	d.calls++
	if dec, ok := d.decisions[d.calls-1]; ok {
		return dec, nil
	}
	return &decision.TradingDecision{Action: decision.ActionHold, Confidence: 0.9}, nil
}

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// flatThenRising 前 count-5 根横在 basePrice，最后 5 根线性涨到 endPrice。
func flatThenRising(count int, basePrice, endPrice float64) []exchange.Candle {
	candles := make([]exchange.Candle, count)
	rampStart := count - 5
	for i := range candles {
		price := basePrice
		if i >= rampStart {
			price = basePrice + (endPrice-basePrice)*float64(i-rampStart+1)/5
		}
		candles[i] = exchange.Candle{
			OpenTime: testStart.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   1000,
		}
	}
	return candles
}

func runParams(candles []exchange.Candle, every int) Params {
	return Params{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		Start:          candles[lookbackCandles].OpenTime,
		End:            candles[len(candles)-1].OpenTime,
		InitialBalance: 10000,
		DecisionEvery:  every,
	}
}

func staticSource(candles []exchange.Candle) CandleSource {
	return candleSourceFunc(func(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
		return candles, nil
	})
}

func TestRunProfitableRoundTrip(t *testing.T) {
	candles := flatThenRising(110, 100, 120)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.05,
			TakeProfitPercent:   0.50,
		},
		9: {Action: decision.ActionSell, Confidence: 0.9},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)

	// 10000 的 10% 按 100 买入 10 枚，120 卖出：pnl 200
	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.InDelta(t, 100.0, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 120.0, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 10.0, trade.Amount, 1e-9)
	assert.InDelta(t, 200.0, trade.PnL, 1e-9)
	assert.InDelta(t, 20.0, trade.PnLPercent, 1e-9)
	assert.Equal(t, "decision", trade.ExitReason)

	assert.InDelta(t, 10200.0, res.FinalBalance, 1e-9)
	assert.Equal(t, 100.0, res.Metrics.WinRate)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
	assert.InDelta(t, 200.0, res.Metrics.TotalPnL, 1e-9)
}

func TestRunStopLossBeforeTakeProfit(t *testing.T) {
	candles := flatThenRising(110, 100, 100)
	// 建仓后的某根 K 线同时打穿止损与止盈，按止损结算
	spike := &candles[105]
	spike.High = 130
	spike.Low = 80

	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.10, // 止损 90
			TakeProfitPercent:   0.25, // 止盈 125
		},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "stop_loss", res.Trades[0].ExitReason)
	assert.InDelta(t, 90.0, res.Trades[0].ExitPrice, 1e-9)
	assert.Less(t, res.Trades[0].PnL, 0.0)
}

func TestRunTakeProfitHit(t *testing.T) {
	candles := flatThenRising(110, 100, 100)
	candles[106].High = 112

	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.20,
			TakeProfitPercent:   0.10, // 止盈 110
		},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "take_profit", res.Trades[0].ExitReason)
	assert.InDelta(t, 110.0, res.Trades[0].ExitPrice, 1e-9)
}

func TestRunForceCloseAtEnd(t *testing.T) {
	candles := flatThenRising(110, 100, 105)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.30,
			TakeProfitPercent:   0.60,
		},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "end_of_data", res.Trades[0].ExitReason)
}

func TestRunCashConservation(t *testing.T) {
	candles := flatThenRising(130, 100, 108)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0:  {Action: decision.ActionBuy, Confidence: 0.9, PositionSizePercent: 0.10, StopLossPercent: 0.30, TakeProfitPercent: 0.60},
		5:  {Action: decision.ActionSell, Confidence: 0.9},
		10: {Action: decision.ActionBuy, Confidence: 0.9, PositionSizePercent: 0.05, StopLossPercent: 0.30, TakeProfitPercent: 0.60},
		27: {Action: decision.ActionSell, Confidence: 0.9},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)

	sum := 0.0
	for _, tr := range res.Trades {
		sum += tr.PnL
	}
	assert.InDelta(t, res.Params.InitialBalance+sum, res.FinalBalance, 1e-6,
		"期末资金必须等于期初加全部已实现盈亏")
}

func TestRunSellDecisionOverridesSameCandleStop(t *testing.T) {
	candles := flatThenRising(110, 100, 100)
	// SELL 决策所在的那根 K 线同时击穿止损，按决策收盘价平仓
	candles[105].Low = 80

	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.10,
			TakeProfitPercent:   0.60,
		},
		5: {Action: decision.ActionSell, Confidence: 0.9},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "decision", res.Trades[0].ExitReason)
	assert.InDelta(t, 100.0, res.Trades[0].ExitPrice, 1e-9)
}

func TestRunEntryCandleStopApplies(t *testing.T) {
	candles := flatThenRising(110, 100, 100)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.005, // 止损 99.5，建仓当根的最低价 99 已击穿
			TakeProfitPercent:   0.60,
		},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "stop_loss", res.Trades[0].ExitReason)
	assert.Equal(t, res.Trades[0].EntryTime, res.Trades[0].ExitTime)
}

func TestRunLowConfidenceIgnored(t *testing.T) {
	candles := flatThenRising(110, 100, 120)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {Action: decision.ActionBuy, Confidence: 0.5, PositionSizePercent: 0.10, StopLossPercent: 0.05, TakeProfitPercent: 0.50},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	assert.Empty(t, res.Trades, "低置信度决策不应开仓")
}

func TestRunLowConfidenceSellStillCloses(t *testing.T) {
	candles := flatThenRising(110, 100, 100)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.30,
			TakeProfitPercent:   0.60,
		},
		// 置信度闸门只拦开仓，低置信度的 SELL 照样平仓
		5: {Action: decision.ActionSell, Confidence: 0.3},
	}}
	engine := NewEngine(staticSource(candles), decider)

	res, err := engine.Run(context.Background(), runParams(candles, 1))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "decision", res.Trades[0].ExitReason)
}

func TestRunDecisionCaching(t *testing.T) {
	candles := flatThenRising(130, 100, 100)
	decider := &scriptedDecider{}
	engine := NewEngine(staticSource(candles), decider)

	_, err := engine.Run(context.Background(), runParams(candles, 6))
	require.NoError(t, err)
	// 30 根可交易 K 线，每 6 根问一次，外加最后一根
	assert.LessOrEqual(t, decider.calls, 7)
	assert.GreaterOrEqual(t, decider.calls, 5)
}

func TestRunInsufficientDataFails(t *testing.T) {
	candles := flatThenRising(50, 100, 100)
	engine := NewEngine(staticSource(candles), nil)

	_, err := engine.Run(context.Background(), Params{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		Start:          candles[0].OpenTime,
		End:            candles[len(candles)-1].OpenTime,
		InitialBalance: 10000,
	})
	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
}

func TestRunSourceErrorWrapsDataError(t *testing.T) {
	engine := NewEngine(candleSourceFunc(func(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
		return nil, errors.New("venue unavailable")
	}), nil)

	_, err := engine.Run(context.Background(), Params{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		Start:          testStart,
		End:            testStart.Add(200 * time.Hour),
		InitialBalance: 10000,
	})
	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
}

func TestIndicatorDecisionHoldByDefault(t *testing.T) {
	candles := flatThenRising(120, 100, 100)
	d := indicatorDecision(candles)
	assert.Equal(t, decision.ActionHold, d.Action)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestVolatilityTierPercent(t *testing.T) {
	low := flatThenRising(120, 100, 100) // 波动约 ±1，vol ~1%
	assert.InDelta(t, 0.01, volatilityTierPercent(low), 0.006)

	// 高波动：振幅放大到 ±10
	high := flatThenRising(120, 100, 100)
	for i := range high {
		high[i].High = high[i].Close + 10
		high[i].Low = high[i].Close - 10
	}
	assert.Equal(t, 0.005, volatilityTierPercent(high))
}
