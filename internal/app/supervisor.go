package app

import (
	"context"
	"sync"
	"time"

	"kestrel/internal/executor"
	"kestrel/internal/logger"
	"kestrel/internal/reconcile"
	"kestrel/internal/scheduler"
	"kestrel/internal/store/gormstore"

	"golang.org/x/sync/errgroup"
)

// Supervisor 管一条连接的周期任务：追踪止损、订单监控、对账。
// 三个循环挂在同一个 errgroup 上，Stop 后全部退出，不再产生副作用。
type Supervisor struct {
	pipeline     *executor.Pipeline
	reconciler   *reconcile.Reconciler
	store        *gormstore.Store
	strategyID   int64
	connectionID int64

	trailingEvery  time.Duration
	monitorEvery   time.Duration
	reconcileEvery time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SupervisorConfig struct {
	StrategyID     int64
	ConnectionID   int64
	TrailingEvery  time.Duration
	MonitorEvery   time.Duration
	ReconcileEvery time.Duration
}

func NewSupervisor(pipeline *executor.Pipeline, reconciler *reconcile.Reconciler, store *gormstore.Store, cfg SupervisorConfig) *Supervisor {
	if cfg.TrailingEvery <= 0 {
		cfg.TrailingEvery = 30 * time.Second
	}
	if cfg.MonitorEvery <= 0 {
		cfg.MonitorEvery = 10 * time.Second
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 5 * time.Minute
	}
	return &Supervisor{
		pipeline:       pipeline,
		reconciler:     reconciler,
		store:          store,
		strategyID:     cfg.StrategyID,
		connectionID:   cfg.ConnectionID,
		trailingEvery:  cfg.TrailingEvery,
		monitorEvery:   cfg.MonitorEvery,
		reconcileEvery: cfg.ReconcileEvery,
	}
}

// Run 阻塞运行所有周期循环，直到 ctx 取消或 Stop 被调用。
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	group, runCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		scheduler.NewInterval(runCtx, "trailing", s.trailingEvery).Start(func() {
			s.pipeline.UpdateTrailingStops(runCtx, s.strategyID)
		})
		return nil
	})

	group.Go(func() error {
		scheduler.NewInterval(runCtx, "monitor", s.monitorEvery).Start(func() {
			s.monitorPending(runCtx)
		})
		return nil
	})

	group.Go(func() error {
		scheduler.NewInterval(runCtx, "reconcile", s.reconcileEvery).Start(func() {
			if _, err := s.reconciler.Run(runCtx); err != nil {
				logger.Errorf("对账失败: %v", err)
			}
		})
		return nil
	})

	return group.Wait()
}

// Stop 取消所有循环并等待退出。可重复调用。
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Supervisor) monitorPending(ctx context.Context) {
	orders, err := s.store.ListPendingOrders(ctx, s.connectionID)
	if err != nil {
		logger.Errorf("挂单查询失败: %v", err)
		return
	}
	for _, o := range orders {
		if o.VenueOrderID == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := s.reconciler.MonitorOrder(ctx, o.ID); err != nil {
			logger.Warnf("订单 %d 监控失败: %v", o.ID, err)
		}
	}
}
