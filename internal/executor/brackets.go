package executor

import (
	"context"
	"fmt"

	"kestrel/internal/decision"
	"kestrel/internal/gateway/exchange"
	"kestrel/internal/gateway/notifier"
	"kestrel/internal/logger"
	storemodel "kestrel/internal/store/model"
)

// placeBrackets 给刚建的仓挂保护单：优先 OCO，交易所不支持或失败则
// 退化为独立的止损市价单 + 止盈限价单。保护单失败只告警，不影响已成交的入场。
func (p *Pipeline) placeBrackets(ctx context.Context, strategyID int64, pos *storemodel.PositionModel, d *decision.TradingDecision, entryPrice, amount float64) {
	if d.StopLossPercent <= 0 && d.TakeProfitPercent <= 0 {
		return
	}
	stopPrice := entryPrice * (1 - d.StopLossPercent)
	tpPrice := entryPrice * (1 + d.TakeProfitPercent)

	if d.StopLossPercent > 0 && d.TakeProfitPercent > 0 {
		if done := p.placeOCO(ctx, strategyID, pos, stopPrice, tpPrice, amount); done {
			return
		}
		logger.Warnf("%s OCO 挂单失败，退化为独立止损/止盈腿", pos.Symbol)
	}

	var stopID, tpID *int64
	var stopPtr, tpPtr *float64
	if d.StopLossPercent > 0 {
		if id := p.placeLeg(ctx, strategyID, pos.Symbol, storemodel.OrderTypeStopMarket, amount, stopPrice); id != nil {
			stopID, stopPtr = id, &stopPrice
		}
	}
	if d.TakeProfitPercent > 0 {
		if id := p.placeLeg(ctx, strategyID, pos.Symbol, storemodel.OrderTypeLimit, amount, tpPrice); id != nil {
			tpID, tpPtr = id, &tpPrice
		}
	}
	if stopID == nil && tpID == nil {
		p.alerter.SendAlert("保护单全部失败",
			fmt.Sprintf("%s 仓位 %d 无止损止盈保护，需人工处理", pos.Symbol, pos.ID),
			notifier.PriorityHigh)
		return
	}
	if err := p.store.SetPositionBrackets(ctx, pos.ID, stopID, tpID, stopPtr, tpPtr); err != nil {
		logger.Errorf("仓位 %d 保护单回写失败: %v", pos.ID, err)
	}
}

func (p *Pipeline) placeOCO(ctx context.Context, strategyID int64, pos *storemodel.PositionModel, stopPrice, tpPrice, amount float64) bool {
	res, err := p.venue.PlaceOCOOrder(ctx, pos.Symbol, exchange.SideSell, amount, stopPrice, tpPrice)
	if err != nil {
		logger.Warnf("%s OCO 下单失败: %v", pos.Symbol, err)
		return false
	}
	var stopID, tpID *int64
	for _, leg := range res.Legs {
		order := &storemodel.OrderModel{
			ConnectionID: p.cfg.ConnectionID,
			StrategyID:   strategyID,
			VenueOrderID: leg.VenueOrderID,
			Symbol:       pos.Symbol,
			Side:         storemodel.OrderSideSell,
			Type:         storemodel.OrderTypeOCO,
			Amount:       amount,
			OCOGroupID:   res.GroupID,
		}
		if err := p.store.InsertOrder(ctx, order); err != nil {
			logger.Errorf("OCO 腿落库失败 %s: %v", leg.VenueOrderID, err)
			continue
		}
		// OCO 返回不区分腿的语义，按价格归类：低于止盈价的是止损腿
		if leg.Price > 0 && leg.Price >= tpPrice {
			tpID = &order.ID
		} else if stopID == nil {
			stopID = &order.ID
		} else {
			tpID = &order.ID
		}
	}
	if stopID != nil && tpID != nil {
		if err := p.store.LinkOCOPair(ctx, *stopID, *tpID, res.GroupID); err != nil {
			logger.Errorf("OCO 配对回写失败 group=%s: %v", res.GroupID, err)
		}
	}
	if err := p.store.SetPositionBrackets(ctx, pos.ID, stopID, tpID, &stopPrice, &tpPrice); err != nil {
		logger.Errorf("仓位 %d 保护单回写失败: %v", pos.ID, err)
	}
	return true
}

// placeLeg 挂单腿，成功返回本地订单 ID，失败返回 nil。
func (p *Pipeline) placeLeg(ctx context.Context, strategyID int64, symbol string, orderType storemodel.OrderType, amount, price float64) *int64 {
	var res *exchange.OrderResult
	var err error
	switch orderType {
	case storemodel.OrderTypeStopMarket:
		res, err = p.venue.PlaceStopMarketOrder(ctx, symbol, exchange.SideSell, amount, price)
	case storemodel.OrderTypeLimit:
		res, err = p.venue.PlaceLimitOrder(ctx, symbol, exchange.SideSell, amount, price)
	default:
		return nil
	}
	if err != nil {
		logger.Warnf("%s %s 保护腿下单失败: %v", symbol, orderType, err)
		return nil
	}
	order := &storemodel.OrderModel{
		ConnectionID: p.cfg.ConnectionID,
		StrategyID:   strategyID,
		VenueOrderID: res.VenueOrderID,
		Symbol:       symbol,
		Side:         storemodel.OrderSideSell,
		Type:         orderType,
		Amount:       amount,
	}
	if orderType == storemodel.OrderTypeStopMarket {
		order.StopPrice = &price
	} else {
		order.Price = &price
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		logger.Errorf("保护腿落库失败 %s: %v", res.VenueOrderID, err)
		return nil
	}
	return &order.ID
}

// cancelBrackets 平仓前撤掉仓位上还挂着的保护腿。撤单失败不阻塞平仓，
// 对账循环会兜底清理孤儿挂单。
func (p *Pipeline) cancelBrackets(ctx context.Context, pos *storemodel.PositionModel) {
	for _, id := range []*int64{pos.StopOrderID, pos.TakeProfitOrderID} {
		if id == nil {
			continue
		}
		order, err := p.store.GetOrder(ctx, *id)
		if err != nil {
			logger.Warnf("保护腿 %d 读取失败: %v", *id, err)
			continue
		}
		if order.Status != storemodel.OrderStatusPending {
			continue
		}
		if err := p.venue.CancelOrder(ctx, order.VenueOrderID, order.Symbol); err != nil {
			logger.Warnf("保护腿 %s 撤单失败: %v", order.VenueOrderID, err)
			continue
		}
		if err := p.store.MarkOrderCancelled(ctx, order.ID); err != nil {
			logger.Errorf("保护腿 %d 标记撤销失败: %v", order.ID, err)
		}
	}
}
