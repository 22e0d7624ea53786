package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kestrel/internal/decision"
	"kestrel/internal/gateway/exchange"
	"kestrel/internal/logger"
)

// 中文说明：
// 回测引擎是执行管线的镜像：同一套决策类型、同一套闸门口径，
// 在历史 K 线上推演。资金运算走 decimal，避免长序列浮点漂移。

const (
	// 指标 warmup 窗口，窗口不满不开始决策
	lookbackCandles = 100
	// 默认每 6 根 K 线请求一次决策，其间沿用上一次
	defaultDecisionEvery = 6
	// 低于该置信度的 BUY 不开仓，平仓不受限
	confidenceFloor = 0.6
)

// DataError 表示历史数据不足或区间非法，运行记录直接置 failed，不重试。
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "backtest data error: " + e.Reason }

// Decider 产生决策。生产上接决策服务，测试里用脚本桩。
type Decider interface {
	Decide(ctx context.Context, symbol string, window []exchange.Candle) (*decision.TradingDecision, error)
}

type Params struct {
	Symbol         string
	Interval       string
	Start          time.Time
	End            time.Time
	InitialBalance float64
	DecisionEvery  int
}

type ClosedTrade struct {
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Amount     float64
	PnL        float64
	PnLPercent float64
	ExitReason string
}

type EquityPoint struct {
	Time   time.Time
	Equity float64
}

type Result struct {
	Params       Params
	FinalBalance float64
	Trades       []ClosedTrade
	Equity       []EquityPoint
	Metrics      Metrics
}

// CandleSource 抽象 K 线来源，生产上是交易所 Client。
type CandleSource interface {
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error)
}

type Engine struct {
	source  CandleSource
	decider Decider
}

func NewEngine(source CandleSource, decider Decider) *Engine {
	return &Engine{source: source, decider: decider}
}

type openPosition struct {
	amount     float64
	entryPrice float64
	entryTime  time.Time
	stopPrice  float64
	tpPrice    float64
}

func (e *Engine) Run(ctx context.Context, p Params) (*Result, error) {
	if p.Symbol == "" {
		return nil, &DataError{Reason: "symbol 不能为空"}
	}
	if !p.End.After(p.Start) {
		return nil, &DataError{Reason: "end 必须晚于 start"}
	}
	if p.InitialBalance <= 0 {
		p.InitialBalance = 10000
	}
	if p.DecisionEvery <= 0 {
		p.DecisionEvery = defaultDecisionEvery
	}
	p.Symbol = strings.ToUpper(p.Symbol)

	candles, err := e.loadCandles(ctx, p)
	if err != nil {
		return nil, err
	}
	// 前 lookbackCandles 根只做 warmup，之后每根都可能触发交易
	if len(candles) <= lookbackCandles {
		return nil, &DataError{
			Reason: fmt.Sprintf("%s %s 区间内只有 %d 根 K 线，warmup 需要 %d",
				p.Symbol, p.Interval, len(candles), lookbackCandles),
		}
	}

	cash := decimal.NewFromFloat(p.InitialBalance)
	var pos *openPosition
	var cached *decision.TradingDecision
	res := &Result{Params: p}

	for i := lookbackCandles; i < len(candles); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		candle := candles[i]
		window := candles[i-lookbackCandles : i+1]

		d := cached
		if (i-lookbackCandles)%p.DecisionEvery == 0 || i == len(candles)-1 {
			d = e.decide(ctx, p.Symbol, window)
			cached = d
		}

		// 先落决策再判保护价：同一根 K 线上 SELL 决策按收盘价成交，不会被止损抢走
		if d != nil {
			switch d.Action {
			case decision.ActionBuy:
				if pos == nil && d.Confidence >= confidenceFloor {
					cash, pos = e.openPosition(cash, candle, window, d)
				}
			case decision.ActionSell:
				if pos != nil {
					cash = e.closePosition(res, &pos, cash, candle.Close, candle.OpenTime, "decision")
				}
			}
		}

		// 止损优先于止盈，同一根 K 线两者都触到按止损算；当根新开的仓同样受保护价约束
		if pos != nil {
			if candle.Low <= pos.stopPrice {
				cash = e.closePosition(res, &pos, cash, pos.stopPrice, candle.OpenTime, "stop_loss")
			} else if candle.High >= pos.tpPrice {
				cash = e.closePosition(res, &pos, cash, pos.tpPrice, candle.OpenTime, "take_profit")
			}
		}
		res.Equity = append(res.Equity, equityAt(cash, pos, candle))
	}

	if pos != nil {
		last := candles[len(candles)-1]
		cash = e.closePosition(res, &pos, cash, last.Close, last.OpenTime, "end_of_data")
	}

	res.FinalBalance, _ = cash.Float64()
	res.Metrics = computeMetrics(p.InitialBalance, res.FinalBalance, res.Trades, res.Equity)
	return res, nil
}

func (e *Engine) loadCandles(ctx context.Context, p Params) ([]exchange.Candle, error) {
	span := p.End.Sub(p.Start)
	step := intervalDuration(p.Interval)
	limit := int(span/step) + lookbackCandles + 5
	if limit > 1500 {
		limit = 1500
	}
	all, err := e.source.GetOHLCV(ctx, p.Symbol, p.Interval, limit)
	if err != nil {
		return nil, &DataError{Reason: fmt.Sprintf("K 线拉取失败: %v", err)}
	}
	warmStart := p.Start.Add(-time.Duration(lookbackCandles) * step)
	var out []exchange.Candle
	for _, c := range all {
		if c.OpenTime.Before(warmStart) || c.OpenTime.After(p.End) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, &DataError{Reason: fmt.Sprintf("%s %s 区间内没有数据", p.Symbol, p.Interval)}
	}
	return out, nil
}

func (e *Engine) decide(ctx context.Context, symbol string, window []exchange.Candle) *decision.TradingDecision {
	if e.decider != nil {
		d, err := e.decider.Decide(ctx, symbol, window)
		if err == nil && d != nil {
			return d
		}
		if err != nil {
			logger.Warnf("回测决策源失败，退化为指标决策: %v", err)
		}
	}
	return indicatorDecision(window)
}

func (e *Engine) openPosition(cash decimal.Decimal, candle exchange.Candle, window []exchange.Candle, d *decision.TradingDecision) (decimal.Decimal, *openPosition) {
	price := candle.Close
	if price <= 0 {
		return cash, nil
	}
	balance, _ := cash.Float64()
	sizePct := d.PositionSizePercent
	if sizePct <= 0 {
		sizePct = volatilityTierPercent(window)
	}
	notional := balance * sizePct
	if notional <= 0 || notional > balance {
		return cash, nil
	}
	amount := notional / price

	atr := windowATR(window)
	stop := price - 2*atr
	tp := price + 4*atr
	if d.StopLossPercent > 0 {
		stop = price * (1 - d.StopLossPercent)
	}
	if d.TakeProfitPercent > 0 {
		tp = price * (1 + d.TakeProfitPercent)
	}
	if stop <= 0 || stop >= price || tp <= price {
		return cash, nil
	}

	cash = cash.Sub(decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(price)))
	return cash, &openPosition{
		amount:     amount,
		entryPrice: price,
		entryTime:  candle.OpenTime,
		stopPrice:  stop,
		tpPrice:    tp,
	}
}

func (e *Engine) closePosition(res *Result, pos **openPosition, cash decimal.Decimal, exitPrice float64, exitTime time.Time, reason string) decimal.Decimal {
	p := *pos
	proceeds := decimal.NewFromFloat(p.amount).Mul(decimal.NewFromFloat(exitPrice))
	cash = cash.Add(proceeds)
	pnl := (exitPrice - p.entryPrice) * p.amount
	pnlPct := 0.0
	if p.entryPrice > 0 {
		pnlPct = (exitPrice - p.entryPrice) / p.entryPrice * 100
	}
	res.Trades = append(res.Trades, ClosedTrade{
		Symbol:     res.Params.Symbol,
		EntryTime:  p.entryTime,
		ExitTime:   exitTime,
		EntryPrice: p.entryPrice,
		ExitPrice:  exitPrice,
		Amount:     p.amount,
		PnL:        pnl,
		PnLPercent: pnlPct,
		ExitReason: reason,
	})
	*pos = nil
	return cash
}

func equityAt(cash decimal.Decimal, pos *openPosition, candle exchange.Candle) EquityPoint {
	equity, _ := cash.Float64()
	if pos != nil {
		equity += pos.amount * candle.Close
	}
	return EquityPoint{Time: candle.OpenTime, Equity: equity}
}

func intervalDuration(interval string) time.Duration {
	switch strings.ToLower(interval) {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
