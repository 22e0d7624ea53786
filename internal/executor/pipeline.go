package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"kestrel/internal/decision"
	"kestrel/internal/events"
	"kestrel/internal/gateway/exchange"
	"kestrel/internal/gateway/notifier"
	"kestrel/internal/logger"
	"kestrel/internal/risk"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// 中文说明：
// 执行管线：决策 -> 闸门（熔断/日损/校验/风险回报）-> 定仓 -> 下单 ->
// 账本 -> 保护单 -> 事件。任何闸门拦下都返回 Skipped，绝不抛错。

const (
	// 最小下单名义金额（计价货币）
	defaultMinNotional = 10.0
	// 风险回报比下限：TP%/SL% < 2 的决策整单拒绝，且在下单前判定
	defaultMinRiskReward = 2.0
)

type Config struct {
	ConnectionID  int64
	QuoteCurrency string
	MinNotional   float64
	MinRiskReward float64
}

type Pipeline struct {
	store   *gormstore.Store
	venue   exchange.Client
	risk    *risk.Controller
	bus     *events.Bus
	alerter notifier.Alerter
	cfg     Config
}

func NewPipeline(store *gormstore.Store, venue exchange.Client, riskCtl *risk.Controller, bus *events.Bus, alerter notifier.Alerter, cfg Config) *Pipeline {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.MinNotional <= 0 {
		cfg.MinNotional = defaultMinNotional
	}
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = defaultMinRiskReward
	}
	if alerter == nil {
		alerter = notifier.Nop{}
	}
	return &Pipeline{store: store, venue: venue, risk: riskCtl, bus: bus, alerter: alerter, cfg: cfg}
}

// Execute 跑完整条管线。错误只在真正执行失败时出现；校验不通过都是 Skipped。
// 每次调用都会把决策和处理结果追加到决策流水。
func (p *Pipeline) Execute(ctx context.Context, strategyID int64, d *decision.TradingDecision) Outcome {
	out := p.execute(ctx, strategyID, d)
	raw, _ := json.Marshal(d)
	logger.LogDecision(d.Symbol, string(d.Action), out.String(), string(raw))
	return out
}

func (p *Pipeline) execute(ctx context.Context, strategyID int64, d *decision.TradingDecision) Outcome {
	// 闸门一：策略熔断 / 急停
	tripped, reason, err := p.risk.IsTripped(ctx, strategyID)
	if err != nil {
		return Failed(fmt.Errorf("熔断状态读取失败: %w", err))
	}
	if tripped {
		return Skipped(SkipCircuitOpen, reason)
	}

	// 闸门二：日内亏损限额
	reached, err := p.risk.CheckDailyLossLimit(ctx, strategyID)
	if err != nil {
		return Failed(fmt.Errorf("日损检查失败: %w", err))
	}
	if reached {
		return Skipped(SkipDailyLossReached, "")
	}

	if d.Action == decision.ActionHold {
		return Skipped(SkipHold, "")
	}

	// 闸门三：决策校验
	cfg, err := p.risk.Config(ctx, strategyID)
	if err != nil {
		return Failed(err)
	}
	if d.Confidence < cfg.MinConfidence {
		return Skipped(SkipLowConfidence,
			fmt.Sprintf("confidence %.2f < %.2f", d.Confidence, cfg.MinConfidence))
	}
	if d.PositionSizePercent > cfg.MaxPositionSizePercent {
		return Skipped(SkipSizeLimit,
			fmt.Sprintf("requested %.4f > limit %.4f", d.PositionSizePercent, cfg.MaxPositionSizePercent))
	}

	// 闸门四：风险回报比，必须在任何下单动作之前判定
	if d.StopLossPercent > 0 && d.TakeProfitPercent > 0 {
		rr := d.TakeProfitPercent / d.StopLossPercent
		if rr < p.cfg.MinRiskReward {
			return Skipped(SkipLowRiskReward,
				fmt.Sprintf("ratio %.2f < %.2f", rr, p.cfg.MinRiskReward))
		}
	}

	switch d.Action {
	case decision.ActionBuy:
		return p.executeBuy(ctx, strategyID, d)
	case decision.ActionSell:
		return p.executeSell(ctx, strategyID, d)
	default:
		return Failed(fmt.Errorf("未知 action: %s", d.Action))
	}
}

func (p *Pipeline) executeBuy(ctx context.Context, strategyID int64, d *decision.TradingDecision) Outcome {
	balance, err := p.venue.GetBalance(ctx, p.cfg.QuoteCurrency)
	if err != nil {
		return p.venueFailure("查询余额失败", err)
	}
	ticker, err := p.venue.GetTicker(ctx, d.Symbol)
	if err != nil {
		return p.venueFailure("查询行情失败", err)
	}
	expected := ticker.Price
	if expected <= 0 {
		return Failed(fmt.Errorf("行情价格非法: %f", expected))
	}

	// 组合热度：在手仓位的风险敞口已经过热就不再加仓
	heat, err := p.risk.CalculatePortfolioHeat(ctx, strategyID, balance)
	if err != nil {
		return Failed(fmt.Errorf("组合热度计算失败: %w", err))
	}
	if heat.Overheated {
		return Skipped(SkipOverheated,
			fmt.Sprintf("heat %.4f > limit %.4f (%d positions)", heat.Heat, heat.Limit, heat.Positions))
	}

	// 定仓：风控口径与决策建议取小者，决策只能缩仓不能放大
	size, err := p.risk.CalculatePositionSize(ctx, strategyID, balance, risk.SizeInputs{
		CurrentPrice:    expected,
		StopLossPercent: d.StopLossPercent,
	})
	if err != nil {
		return Failed(err)
	}
	if d.PositionSizePercent > 0 {
		if suggested := balance * d.PositionSizePercent; suggested < size {
			size = suggested
		}
	}
	if size < p.cfg.MinNotional {
		return Skipped(SkipBelowMinNotional,
			fmt.Sprintf("notional %.2f < %.2f", size, p.cfg.MinNotional))
	}
	amount := size / expected

	// 入场市价单：先记 pending，成交后翻 filled
	order := &storemodel.OrderModel{
		ConnectionID: p.cfg.ConnectionID,
		StrategyID:   strategyID,
		Symbol:       d.Symbol,
		Side:         storemodel.OrderSideBuy,
		Type:         storemodel.OrderTypeMarket,
		Amount:       amount,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return Failed(fmt.Errorf("订单落库失败: %w", err))
	}
	res, err := p.venue.PlaceMarketOrder(ctx, d.Symbol, exchange.SideBuy, amount)
	if err != nil {
		if markErr := p.store.MarkOrderFailed(ctx, order.ID); markErr != nil {
			logger.Errorf("订单 %d 标记失败状态出错: %v", order.ID, markErr)
		}
		return p.venueFailure("入场下单失败", err)
	}
	executed := res.Price
	if executed <= 0 {
		executed = expected
	}
	filled := res.Amount
	if filled <= 0 {
		filled = amount
	}
	if err := p.store.MarkOrderFilled(ctx, order.ID, res.VenueOrderID, filled, executed, res.Fee); err != nil {
		logger.Errorf("订单 %d 回写成交失败: %v", order.ID, err)
	}
	slip := slippage(expected, executed)
	if slip > 0.005 {
		logger.Warnf("%s 入场滑点 %.3f%%（预期 %.4f 实际 %.4f）", d.Symbol, slip*100, expected, executed)
	}

	// 账本：Trade(open) + Position 同事务
	trade := &storemodel.TradeModel{
		StrategyID:      strategyID,
		Symbol:          d.Symbol,
		BuyOrderID:      order.ID,
		EntryPrice:      executed,
		Amount:          filled,
		DecisionContext: decisionContext(d),
	}
	pos := &storemodel.PositionModel{
		Amount:       filled,
		EntryPrice:   executed,
		CurrentPrice: executed,
	}
	if err := p.store.OpenTrade(ctx, trade, pos); err != nil {
		return Failed(fmt.Errorf("建仓落账失败: %w", err))
	}

	// 保护单失败不回滚已成交的入场单
	p.placeBrackets(ctx, strategyID, pos, d, executed, filled)

	p.publish(ctx, strategyID, events.TypeTradeExecuted, map[string]any{
		"symbol":   d.Symbol,
		"side":     "buy",
		"amount":   filled,
		"price":    executed,
		"slippage": slip,
		"trade_id": trade.ID,
	})
	p.publish(ctx, strategyID, events.TypePortfolioUpdated, map[string]any{
		"symbol": d.Symbol,
	})

	return Outcome{
		Status:        StatusExecuted,
		OrderID:       order.ID,
		TradeID:       trade.ID,
		Amount:        filled,
		ExpectedPrice: expected,
		ExecutedPrice: executed,
		Slippage:      slip,
	}
}

func (p *Pipeline) executeSell(ctx context.Context, strategyID int64, d *decision.TradingDecision) Outcome {
	pos, ok, err := p.store.GetOpenPosition(ctx, strategyID, d.Symbol)
	if err != nil {
		return Failed(err)
	}
	if !ok {
		return Skipped(SkipNoPosition, d.Symbol)
	}

	ticker, err := p.venue.GetTicker(ctx, d.Symbol)
	if err != nil {
		return p.venueFailure("查询行情失败", err)
	}
	expected := ticker.Price

	// 先撤保护腿，避免平仓后孤儿挂单
	p.cancelBrackets(ctx, pos)

	// 全量平仓，不做部分减仓
	order := &storemodel.OrderModel{
		ConnectionID: p.cfg.ConnectionID,
		StrategyID:   strategyID,
		Symbol:       d.Symbol,
		Side:         storemodel.OrderSideSell,
		Type:         storemodel.OrderTypeMarket,
		Amount:       pos.Amount,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return Failed(fmt.Errorf("订单落库失败: %w", err))
	}
	res, err := p.venue.PlaceMarketOrder(ctx, d.Symbol, exchange.SideSell, pos.Amount)
	if err != nil {
		if markErr := p.store.MarkOrderFailed(ctx, order.ID); markErr != nil {
			logger.Errorf("订单 %d 标记失败状态出错: %v", order.ID, markErr)
		}
		return p.venueFailure("平仓下单失败", err)
	}
	executed := res.Price
	if executed <= 0 {
		executed = expected
	}
	if err := p.store.MarkOrderFilled(ctx, order.ID, res.VenueOrderID, pos.Amount, executed, res.Fee); err != nil {
		logger.Errorf("订单 %d 回写成交失败: %v", order.ID, err)
	}

	trade, err := p.store.CloseTrade(ctx, pos.TradeID, executed, &order.ID)
	if err != nil {
		return Failed(fmt.Errorf("平仓落账失败: %w", err))
	}
	pnl := 0.0
	if trade.PnL != nil {
		pnl = *trade.PnL
	}

	// 日损口径的余额：当前报价余额加回本次平仓名义
	balance, err := p.venue.GetBalance(ctx, p.cfg.QuoteCurrency)
	if err != nil {
		logger.Warnf("平仓后查询余额失败，按名义估算: %v", err)
		balance = trade.EntryPrice * trade.Amount
	}
	if err := p.risk.UpdateDailyLoss(ctx, strategyID, pnl, balance); err != nil {
		logger.Errorf("策略 %d 日损更新失败: %v", strategyID, err)
	}

	// 事件顺序约定：closed -> executed -> updated，增量消费者依赖该顺序
	p.publish(ctx, strategyID, events.TypePositionClosed, map[string]any{
		"symbol":      d.Symbol,
		"trade_id":    trade.ID,
		"pnl":         pnl,
		"pnl_percent": deref(trade.PnLPercent),
		"exit_price":  executed,
	})
	p.publish(ctx, strategyID, events.TypeTradeExecuted, map[string]any{
		"symbol":   d.Symbol,
		"side":     "sell",
		"amount":   trade.Amount,
		"price":    executed,
		"slippage": slippage(expected, executed),
		"trade_id": trade.ID,
	})
	p.publish(ctx, strategyID, events.TypePortfolioUpdated, map[string]any{
		"symbol": d.Symbol,
	})

	return Outcome{
		Status:        StatusExecuted,
		OrderID:       order.ID,
		TradeID:       trade.ID,
		Amount:        trade.Amount,
		ExpectedPrice: expected,
		ExecutedPrice: executed,
		Slippage:      slippage(expected, executed),
		RealizedPnL:   pnl,
	}
}

// venueFailure 统一处理交易所侧失败：鉴权错误要立即告警。
func (p *Pipeline) venueFailure(msg string, err error) Outcome {
	if exchange.IsAuth(err) {
		p.alerter.SendAlert("交易所鉴权失败", fmt.Sprintf("%s: %v", msg, err), notifier.PriorityCritical)
	}
	return Failed(fmt.Errorf("%s: %w", msg, err))
}

func (p *Pipeline) publish(ctx context.Context, strategyID int64, eventType string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, events.Event{
		Type:         eventType,
		ConnectionID: p.cfg.ConnectionID,
		StrategyID:   strategyID,
		Payload:      payload,
	})
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// decisionContext 把入场决策快照成 JSON，跟随 Trade 落库。
func decisionContext(d *decision.TradingDecision) datatypes.JSON {
	raw, err := json.Marshal(map[string]any{
		"confidence":   d.Confidence,
		"reasoning":    d.Reasoning,
		"risk_factors": d.RiskFactors,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
