package executor

import (
	"context"

	"kestrel/internal/gateway/exchange"
	"kestrel/internal/logger"
	storemodel "kestrel/internal/store/model"
)

// UpdateTrailingStops 扫一遍某策略开启了移动止损的仓位，价格创新高则上移止损。
// 止损只升不降。
func (p *Pipeline) UpdateTrailingStops(ctx context.Context, strategyID int64) {
	positions, err := p.store.ListOpenPositions(ctx, strategyID)
	if err != nil {
		logger.Errorf("策略 %d 持仓读取失败: %v", strategyID, err)
		return
	}
	for i := range positions {
		pos := &positions[i]
		if !pos.TrailingEnabled || pos.TrailingPercent <= 0 {
			continue
		}
		ticker, err := p.venue.GetTicker(ctx, pos.Symbol)
		if err != nil {
			logger.Warnf("%s 行情读取失败，跳过移动止损: %v", pos.Symbol, err)
			continue
		}
		if err := p.trailOne(ctx, pos, ticker.Price); err != nil {
			logger.Errorf("%s 移动止损更新失败: %v", pos.Symbol, err)
		}
	}
}

func (p *Pipeline) trailOne(ctx context.Context, pos *storemodel.PositionModel, price float64) error {
	if price <= pos.TrailingHighPrice {
		return nil
	}
	newStop := price * (1 - pos.TrailingPercent)
	// 新高但新止损价不高于现有止损时，只记录新高
	if pos.StopLossPrice != nil && newStop <= *pos.StopLossPrice {
		return p.store.UpdateTrailingStop(ctx, pos.ID, price, pos.StopOrderID, pos.StopLossPrice)
	}

	// 先撤旧腿再挂新腿。挂新腿失败时仓位短暂裸奔，记录错误等下一轮重试。
	if pos.StopOrderID != nil {
		old, err := p.store.GetOrder(ctx, *pos.StopOrderID)
		if err == nil && old.Status == storemodel.OrderStatusPending {
			if err := p.venue.CancelOrder(ctx, old.VenueOrderID, old.Symbol); err != nil {
				logger.Warnf("%s 旧止损腿撤单失败: %v", pos.Symbol, err)
				return err
			}
			if err := p.store.MarkOrderCancelled(ctx, old.ID); err != nil {
				logger.Errorf("订单 %d 标记撤销失败: %v", old.ID, err)
			}
		}
	}
	res, err := p.venue.PlaceStopMarketOrder(ctx, pos.Symbol, exchange.SideSell, pos.Amount, newStop)
	if err != nil {
		return err
	}
	order := &storemodel.OrderModel{
		ConnectionID: p.cfg.ConnectionID,
		StrategyID:   pos.StrategyID,
		VenueOrderID: res.VenueOrderID,
		Symbol:       pos.Symbol,
		Side:         storemodel.OrderSideSell,
		Type:         storemodel.OrderTypeStopMarket,
		Amount:       pos.Amount,
		StopPrice:    &newStop,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return err
	}
	logger.Infof("%s 移动止损上移至 %.4f（新高 %.4f）", pos.Symbol, newStop, price)
	return p.store.UpdateTrailingStop(ctx, pos.ID, price, &order.ID, &newStop)
}
