package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kestrel/internal/logger"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// Service 负责回测的生命周期：落库、并发上限、后台执行、结果写回。
type Service struct {
	store   *gormstore.Store
	engine  *Engine
	sem     chan struct{}
	baseCtx context.Context
}

func NewService(store *gormstore.Store, engine *Engine, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		store:   store,
		engine:  engine,
		sem:     make(chan struct{}, maxConcurrent),
		baseCtx: context.Background(),
	}
}

func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Submit 创建回测记录并立即返回，推演在后台进行。
func (s *Service) Submit(ctx context.Context, p Params) (*storemodel.BacktestModel, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if p.Interval == "" {
		p.Interval = "1h"
	}
	if p.InitialBalance <= 0 {
		p.InitialBalance = 10000
	}
	if p.DecisionEvery <= 0 {
		p.DecisionEvery = defaultDecisionEvery
	}
	row := &storemodel.BacktestModel{
		Symbol:         p.Symbol,
		Interval:       p.Interval,
		StartUnix:      p.Start.Unix(),
		EndUnix:        p.End.Unix(),
		InitialBalance: p.InitialBalance,
		DecisionEvery:  p.DecisionEvery,
	}
	if err := s.store.CreateBacktest(ctx, row); err != nil {
		return nil, err
	}
	go s.runOne(row.ID, p)
	return row, nil
}

func (s *Service) runOne(id int64, p Params) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := s.baseCtx
	if err := s.store.SetBacktestStatus(ctx, id, storemodel.BacktestStatusRunning, ""); err != nil {
		logger.Errorf("回测 %d 状态更新失败: %v", id, err)
		return
	}
	res, err := s.engine.Run(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = s.store.SetBacktestStatus(context.Background(), id, storemodel.BacktestStatusCancelled, "canceled")
			return
		}
		logger.Warnf("回测 %d 失败: %v", id, err)
		_ = s.store.SetBacktestStatus(ctx, id, storemodel.BacktestStatusFailed, err.Error())
		return
	}
	if err := s.persistResult(ctx, id, p, res); err != nil {
		logger.Errorf("回测 %d 结果写回失败: %v", id, err)
		_ = s.store.SetBacktestStatus(ctx, id, storemodel.BacktestStatusFailed, err.Error())
	}
}

func (s *Service) persistResult(ctx context.Context, id int64, p Params, res *Result) error {
	m := res.Metrics
	row := &storemodel.BacktestModel{
		ID:              id,
		FinalBalance:    res.FinalBalance,
		TotalPnL:        m.TotalPnL,
		TotalPnLPercent: m.TotalPnLPercent,
		TotalTrades:     m.TotalTrades,
		WinningTrades:   m.WinningTrades,
		LosingTrades:    m.LosingTrades,
		WinRate:         m.WinRate,
		AvgWin:          m.AvgWin,
		AvgLoss:         m.AvgLoss,
		ProfitFactor:    m.ProfitFactor,
		MaxDrawdown:     m.MaxDrawdown,
		MaxDrawdownPct:  m.MaxDrawdownPct,
		SharpeRatio:     m.SharpeRatio,
		LargestWin:      m.LargestWin,
		LargestLoss:     m.LargestLoss,
		AvgDurationHrs:  m.AvgDurationHrs,
	}
	trades := make([]storemodel.BacktestTradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, storemodel.BacktestTradeModel{
			BacktestID:    id,
			Symbol:        t.Symbol,
			EntryTimeUnix: t.EntryTime.Unix(),
			ExitTimeUnix:  t.ExitTime.Unix(),
			EntryPrice:    t.EntryPrice,
			ExitPrice:     t.ExitPrice,
			Amount:        t.Amount,
			PnL:           t.PnL,
			PnLPercent:    t.PnLPercent,
			ExitReason:    t.ExitReason,
		})
	}
	return s.store.FinishBacktest(ctx, row, trades)
}

func (s *Service) Get(ctx context.Context, id int64) (*storemodel.BacktestModel, error) {
	return s.store.GetBacktest(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]storemodel.BacktestModel, error) {
	return s.store.ListBacktests(ctx, limit)
}

func (s *Service) Trades(ctx context.Context, id int64) ([]storemodel.BacktestTradeModel, error) {
	return s.store.ListBacktestTrades(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteBacktest(ctx, id)
}

// WaitIdle 等待在跑的回测全部结束，最多等 timeout，用于优雅停机。
func (s *Service) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < cap(s.sem); i++ {
		select {
		case s.sem <- struct{}{}:
		case <-deadline:
			for j := 0; j < i; j++ {
				<-s.sem
			}
			return false
		}
	}
	for i := 0; i < cap(s.sem); i++ {
		<-s.sem
	}
	return true
}
