package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	storemodel "kestrel/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type riskConfigModel = storemodel.RiskConfigModel
type dailyLossModel = storemodel.DailyLossModel
type breakerStateModel = storemodel.BreakerStateModel

// GetOrCreateRiskConfig 首次访问按安全默认值建行。
func (s *Store) GetOrCreateRiskConfig(ctx context.Context, strategyID int64) (*riskConfigModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var cfg riskConfigModel
	err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	def := storemodel.DefaultRiskConfig(strategyID)
	now := time.Now().Unix()
	def.CreatedAtUnix = now
	def.UpdatedAtUnix = now
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "strategy_id"}}, DoNothing: true}).
		Create(def).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateRiskConfig 只写阈值类字段。emergency_stop 是操作员闸门，
// 走 SetEmergencyStop 单独翻转，配置热更新不得覆盖。
func (s *Store) UpdateRiskConfig(ctx context.Context, cfg *riskConfigModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	cfg.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Model(&riskConfigModel{}).
		Where("strategy_id = ?", cfg.StrategyID).
		Updates(map[string]interface{}{
			"max_position_size_percent": cfg.MaxPositionSizePercent,
			"max_daily_loss_percent":    cfg.MaxDailyLossPercent,
			"max_drawdown_percent":      cfg.MaxDrawdownPercent,
			"min_confidence":            cfg.MinConfidence,
			"sizing_method":             cfg.SizingMethod,
			"updated_at":                cfg.UpdatedAtUnix,
		}).Error
}

func (s *Store) SetEmergencyStop(ctx context.Context, strategyID int64, stop bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if _, err := s.GetOrCreateRiskConfig(ctx, strategyID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&riskConfigModel{}).
		Where("strategy_id = ?", strategyID).
		Updates(map[string]interface{}{
			"emergency_stop": stop,
			"updated_at":     time.Now().Unix(),
		}).Error
}

func (s *Store) GetDailyLoss(ctx context.Context, strategyID int64, day string) (*dailyLossModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var row dailyLossModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND day = ?", strategyID, day).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().Unix()
	row = dailyLossModel{StrategyID: strategyID, Day: day, CreatedAtUnix: now, UpdatedAtUnix: now}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "strategy_id"}, {Name: "day"}}, DoNothing: true}).
		Create(&row).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("strategy_id = ? AND day = ?", strategyID, day).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ApplyDailyLoss 事务内读改写当日亏损：亏损只在 pnl<0 时累加，笔数恒加一。
// 并发的两次更新必须串行化，否则丢失更新会低估当日亏损。
func (s *Store) ApplyDailyLoss(ctx context.Context, strategyID int64, day string, pnl, balance float64) (*dailyLossModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if _, err := s.GetDailyLoss(ctx, strategyID, day); err != nil {
		return nil, err
	}
	var out dailyLossModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row dailyLossModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("strategy_id = ? AND day = ?", strategyID, day).
			First(&row).Error; err != nil {
			return err
		}
		if pnl < 0 {
			row.TotalLossAmount += -pnl
		}
		if balance > 0 {
			row.TotalLossPercent = row.TotalLossAmount / balance
		}
		row.TradeCount++
		row.UpdatedAtUnix = time.Now().Unix()
		if err := tx.Model(&dailyLossModel{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"total_loss_amount":  row.TotalLossAmount,
			"total_loss_percent": row.TotalLossPercent,
			"trade_count":        row.TradeCount,
			"updated_at":         row.UpdatedAtUnix,
		}).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LatchDailyLossLimit 置位 limit_reached；只有本次调用真正从 false 翻到 true
// 时返回 true，保证告警与熔断只触发一次。
func (s *Store) LatchDailyLossLimit(ctx context.Context, strategyID int64, day string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&dailyLossModel{}).
		Where("strategy_id = ? AND day = ? AND limit_reached = ?", strategyID, day, false).
		Updates(map[string]interface{}{
			"limit_reached": true,
			"updated_at":    time.Now().Unix(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetDailyLossLimit 运维显式复位，当日限额不会自动解除。
func (s *Store) ResetDailyLossLimit(ctx context.Context, strategyID int64, day string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&dailyLossModel{}).
		Where("strategy_id = ? AND day = ?", strategyID, day).
		Updates(map[string]interface{}{
			"limit_reached": false,
			"updated_at":    time.Now().Unix(),
		}).Error
}

// SetStrategyBreaker 写入按策略持久化的熔断状态。
func (s *Store) SetStrategyBreaker(ctx context.Context, strategyID int64, state storemodel.BreakerState, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().Unix()
	row := breakerStateModel{
		StrategyID:    strategyID,
		State:         state,
		Reason:        reason,
		UpdatedAtUnix: now,
	}
	if state == storemodel.BreakerOpen {
		row.TrippedAtUnix = &now
	} else if state == storemodel.BreakerClosed {
		row.ResetAtUnix = &now
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "strategy_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"state":      state,
				"reason":     reason,
				"tripped_at": row.TrippedAtUnix,
				"reset_at":   row.ResetAtUnix,
				"updated_at": now,
			}),
		}).
		Create(&row).Error
}

func (s *Store) GetStrategyBreaker(ctx context.Context, strategyID int64) (*breakerStateModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var row breakerStateModel
	err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &breakerStateModel{StrategyID: strategyID, State: storemodel.BreakerClosed}, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) SetStrategyActive(ctx context.Context, strategyID int64, active bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&storemodel.StrategyModel{}).
		Where("id = ?", strategyID).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": time.Now().Unix(),
		}).Error
}
