package gormstore

import (
	"context"
	"fmt"
	"time"

	storemodel "kestrel/internal/store/model"

	"gorm.io/gorm"
)

type backtestModel = storemodel.BacktestModel
type backtestTradeModel = storemodel.BacktestTradeModel

func (s *Store) CreateBacktest(ctx context.Context, bt *backtestModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if bt.Status == "" {
		bt.Status = storemodel.BacktestStatusPending
	}
	bt.CreatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Create(bt).Error
}

func (s *Store) SetBacktestStatus(ctx context.Context, id int64, status storemodel.BacktestStatus, errMsg string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}
	if status == storemodel.BacktestStatusCompleted || status == storemodel.BacktestStatusFailed {
		now := time.Now().Unix()
		payload["completed_at"] = now
	}
	return s.db.WithContext(ctx).Model(&backtestModel{}).Where("id = ?", id).Updates(payload).Error
}

// FinishBacktest 一次性写回指标并落盘全部模拟成交。
func (s *Store) FinishBacktest(ctx context.Context, bt *backtestModel, trades []backtestTradeModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payload := map[string]interface{}{
			"status":                   storemodel.BacktestStatusCompleted,
			"final_balance":            bt.FinalBalance,
			"total_pnl":                bt.TotalPnL,
			"total_pnl_percent":        bt.TotalPnLPercent,
			"total_trades":             bt.TotalTrades,
			"winning_trades":           bt.WinningTrades,
			"losing_trades":            bt.LosingTrades,
			"win_rate":                 bt.WinRate,
			"avg_win":                  bt.AvgWin,
			"avg_loss":                 bt.AvgLoss,
			"profit_factor":            bt.ProfitFactor,
			"max_drawdown":             bt.MaxDrawdown,
			"max_drawdown_percent":     bt.MaxDrawdownPct,
			"sharpe_ratio":             bt.SharpeRatio,
			"largest_win":              bt.LargestWin,
			"largest_loss":             bt.LargestLoss,
			"avg_trade_duration_hours": bt.AvgDurationHrs,
			"completed_at":             now,
		}
		if err := tx.Model(&backtestModel{}).Where("id = ?", bt.ID).Updates(payload).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		for i := range trades {
			trades[i].BacktestID = bt.ID
		}
		return tx.CreateInBatches(trades, 200).Error
	})
}

func (s *Store) GetBacktest(ctx context.Context, id int64) (*backtestModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m backtestModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListBacktests(ctx context.Context, limit int) ([]backtestModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []backtestModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListBacktestTrades(ctx context.Context, backtestID int64) ([]backtestTradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out []backtestTradeModel
	err := s.db.WithContext(ctx).
		Where("backtest_id = ?", backtestID).
		Order("entry_time ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBacktest 回测与其成交同生共死。
func (s *Store) DeleteBacktest(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("backtest_id = ?", id).Delete(&backtestTradeModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&backtestModel{}, id).Error
	})
}
