package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	storemodel "kestrel/internal/store/model"

	"gorm.io/gorm"
)

type tradeModel = storemodel.TradeModel
type positionModel = storemodel.PositionModel

// OpenTrade 同一事务内创建 Trade(open) 与其 Position。
func (s *Store) OpenTrade(ctx context.Context, trade *tradeModel, pos *positionModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().Unix()
	trade.Status = storemodel.TradeStatusOpen
	if trade.OpenedAtUnix == 0 {
		trade.OpenedAtUnix = now
	}
	trade.CreatedAtUnix = now
	trade.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		pos.TradeID = trade.ID
		pos.StrategyID = trade.StrategyID
		pos.Symbol = trade.Symbol
		pos.CreatedAtUnix = now
		pos.UpdatedAtUnix = now
		return tx.Create(pos).Error
	})
}

// CloseTrade 同一事务内：pnl 只写一次、删除持仓、关联卖单。
// 返回已更新的 Trade 供调用方计算日内亏损与发事件。
func (s *Store) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, sellOrderID *int64) (*tradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out tradeModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade tradeModel
		if err := tx.First(&trade, tradeID).Error; err != nil {
			return err
		}
		if trade.Status != storemodel.TradeStatusOpen {
			return fmt.Errorf("trade %d 已关闭", tradeID)
		}
		pnl := (exitPrice - trade.EntryPrice) * trade.Amount
		pnlPct := 0.0
		if trade.EntryPrice != 0 {
			pnlPct = (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
		}
		now := time.Now().Unix()
		payload := map[string]interface{}{
			"status":      storemodel.TradeStatusClosed,
			"exit_price":  exitPrice,
			"pnl":         pnl,
			"pnl_percent": pnlPct,
			"closed_at":   now,
			"updated_at":  now,
		}
		if sellOrderID != nil {
			payload["sell_order_id"] = *sellOrderID
		}
		if err := tx.Model(&tradeModel{}).Where("id = ?", tradeID).Updates(payload).Error; err != nil {
			return err
		}
		if err := tx.Where("trade_id = ?", tradeID).Delete(&positionModel{}).Error; err != nil {
			return err
		}
		return tx.First(&out, tradeID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOpenPosition 返回 (strategy, symbol) 的当前持仓；不存在时 ok=false。
func (s *Store) GetOpenPosition(ctx context.Context, strategyID int64, symbol string) (*positionModel, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("gorm store 未初始化")
	}
	var pos positionModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND symbol = ?", strategyID, symbol).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &pos, true, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, strategyID int64) ([]positionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&positionModel{})
	if strategyID > 0 {
		query = query.Where("strategy_id = ?", strategyID)
	}
	var out []positionModel
	if err := query.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePositionMark 刷新现价与浮动盈亏。
func (s *Store) UpdatePositionMark(ctx context.Context, positionID int64, currentPrice, unrealized float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", positionID).
		Updates(map[string]interface{}{
			"current_price":  currentPrice,
			"unrealized_pnl": unrealized,
			"updated_at":     time.Now().Unix(),
		}).Error
}

// EnableTrailing 给持仓打开移动止损。percent 为回撤比例，如 0.03。
func (s *Store) EnableTrailing(ctx context.Context, positionID int64, percent float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if percent <= 0 || percent >= 1 {
		return fmt.Errorf("trailing_percent 必须在 (0,1): %f", percent)
	}
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", positionID).
		Updates(map[string]interface{}{
			"trailing_enabled": true,
			"trailing_percent": percent,
			"updated_at":       time.Now().Unix(),
		}).Error
}

// UpdateTrailingStop 只在价格创新高后调用：记录新高并换绑新的止损单。
func (s *Store) UpdateTrailingStop(ctx context.Context, positionID int64, highPrice float64, stopOrderID *int64, stopPrice *float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]interface{}{
		"trailing_high_price": highPrice,
		"updated_at":          time.Now().Unix(),
	}
	if stopOrderID != nil {
		payload["stop_order_id"] = *stopOrderID
	}
	if stopPrice != nil {
		payload["stop_loss_price"] = *stopPrice
	}
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", positionID).
		Updates(payload).Error
}

// SetPositionBrackets 记录保护腿的订单号与触发价。
func (s *Store) SetPositionBrackets(ctx context.Context, positionID int64, stopOrderID, tpOrderID *int64, stopPrice, tpPrice *float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]interface{}{"updated_at": time.Now().Unix()}
	if stopOrderID != nil {
		payload["stop_order_id"] = *stopOrderID
	}
	if tpOrderID != nil {
		payload["take_profit_order_id"] = *tpOrderID
	}
	if stopPrice != nil {
		payload["stop_loss_price"] = *stopPrice
	}
	if tpPrice != nil {
		payload["take_profit_price"] = *tpPrice
	}
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", positionID).
		Updates(payload).Error
}

// ListClosedTrades 按平仓时间升序返回已实现交易，组合指标依赖该顺序。
func (s *Store) ListClosedTrades(ctx context.Context, strategyID int64) ([]tradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out []tradeModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND status = ?", strategyID, storemodel.TradeStatusClosed).
		Order("closed_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetTrade(ctx context.Context, id int64) (*tradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m tradeModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
