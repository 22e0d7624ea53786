package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/config"
	"kestrel/internal/events"
	"kestrel/internal/executor"
	binanceadapter "kestrel/internal/gateway/binance"
	"kestrel/internal/gateway/exchange"
	"kestrel/internal/gateway/notifier"
	"kestrel/internal/logger"
	"kestrel/internal/pkg/resilience"
	"kestrel/internal/reconcile"
	"kestrel/internal/risk"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
	apihttp "kestrel/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 单交易所单策略部署。多策略要到表结构支持路由后再放开。
const (
	defaultStrategyID   = 1
	defaultConnectionID = 1
)

// App 负责应用级编排：加载配置→初始化依赖→启动周期任务与 HTTP 服务。
type App struct {
	cfg        *config.Config
	store      *gormstore.Store
	bus        *events.Bus
	venue      exchange.Client
	risk       *risk.Controller
	pipeline   *executor.Pipeline
	reconciler *reconcile.Reconciler
	backtests  *backtest.Service
	httpSrv    *apihttp.Server
	supervisor *Supervisor

	broadcaster *events.RedisBroadcaster
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := gormstore.New(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	a := &App{cfg: cfg, store: store}
	if err := a.build(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	ctx := context.Background()

	// 只在首次启动时建默认策略；熔断暂停过的策略不能因重启被重新激活
	if _, err := a.store.GetStrategy(ctx, defaultStrategyID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("读取默认策略失败: %w", err)
		}
		if err := a.store.UpsertStrategy(ctx, &storemodel.StrategyModel{
			ID:           defaultStrategyID,
			ConnectionID: defaultConnectionID,
			Name:         "default",
			Active:       true,
		}); err != nil {
			return fmt.Errorf("初始化默认策略失败: %w", err)
		}
	}

	var broadcaster events.Broadcaster
	if cfg.Events.RedisAddr != "" {
		rb, err := events.NewRedisBroadcaster(cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB)
		if err != nil {
			return fmt.Errorf("连接 redis 失败: %w", err)
		}
		a.broadcaster = rb
		broadcaster = rb
	}
	a.bus = events.NewBus(broadcaster)

	var alerter notifier.Alerter = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		alerter = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	raw := binanceadapter.New(binanceadapter.Config{
		APIKey:    cfg.Venue.APIKey,
		APISecret: cfg.Venue.APISecret,
		Testnet:   cfg.Venue.Testnet,
	})
	breaker := resilience.NewCircuitBreaker(cfg.Venue.Name,
		cfg.Resilience.Breaker.FailureThreshold,
		cfg.Resilience.Breaker.SuccessThreshold,
		time.Duration(cfg.Resilience.Breaker.TimeoutSeconds)*time.Second)
	breaker.SetStateChangeHandler(breakerAlertHandler(alerter))
	a.venue = exchange.NewGuarded(raw,
		breaker,
		resilience.NewRateLimiter(cfg.Resilience.Limiter.MaxRequests,
			time.Duration(cfg.Resilience.Limiter.WindowSeconds)*time.Second),
		resilience.NewRetryPolicy(cfg.Resilience.Retry.MaxAttempts,
			time.Duration(cfg.Resilience.Retry.InitialDelayMs)*time.Millisecond,
			time.Duration(cfg.Resilience.Retry.MaxDelayMs)*time.Millisecond,
			cfg.Resilience.Retry.Factor),
	)

	a.risk = risk.NewController(a.store, alerter)
	if err := a.ApplyRiskConfig(ctx, cfg.Risk); err != nil {
		return fmt.Errorf("应用风控配置失败: %w", err)
	}

	a.pipeline = executor.NewPipeline(a.store, a.venue, a.risk, a.bus, alerter, executor.Config{
		ConnectionID:  defaultConnectionID,
		QuoteCurrency: cfg.Venue.QuoteCurrency,
		MinNotional:   cfg.Venue.MinNotional,
		MinRiskReward: cfg.Risk.MinRiskReward,
	})
	a.reconciler = reconcile.NewReconciler(a.store, a.venue, alerter, defaultConnectionID)

	engine := backtest.NewEngine(a.venue, nil)
	a.backtests = backtest.NewService(a.store, engine, cfg.Backtest.MaxConcurrent)

	httpSrv, err := apihttp.NewServer(apihttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Backtests: a.backtests,
		Risk:      a.risk,
		Executor:  a.pipeline,
	})
	if err != nil {
		return fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	a.httpSrv = httpSrv

	a.supervisor = NewSupervisor(a.pipeline, a.reconciler, a.store, SupervisorConfig{
		StrategyID:     defaultStrategyID,
		ConnectionID:   defaultConnectionID,
		TrailingEvery:  time.Duration(cfg.Loops.TrailingIntervalSeconds) * time.Second,
		MonitorEvery:   time.Duration(cfg.Loops.MonitorIntervalSeconds) * time.Second,
		ReconcileEvery: time.Duration(cfg.Loops.ReconcileIntervalSeconds) * time.Second,
	})
	return nil
}

// Pipeline 暴露执行管线，供决策入口调用。
func (a *App) Pipeline() *executor.Pipeline { return a.pipeline }

// breakerAlertHandler 记录熔断器每次状态切换，翻到 OPEN 时推送告警。
func breakerAlertHandler(alerter notifier.Alerter) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		logger.Warnf("熔断器 %s 状态切换: %s -> %s", name, from, to)
		if to == resilience.StateOpen {
			alerter.SendAlert("交易所熔断",
				fmt.Sprintf("熔断器 %s 由 %s 切换为 OPEN，后续请求将被直接拒绝，冷却后半开探活", name, from),
				notifier.PriorityHigh)
		}
	}
}

// ApplyRiskConfig 把文件里的风控段落落到默认策略的持久化配置。
// 配置热更时由 Watcher 回调触发。
func (a *App) ApplyRiskConfig(ctx context.Context, rc config.RiskConfig) error {
	return a.risk.UpdateConfig(ctx, &storemodel.RiskConfigModel{
		StrategyID:             defaultStrategyID,
		MaxPositionSizePercent: rc.MaxPositionSizePercent,
		MaxDailyLossPercent:    rc.MaxDailyLossPercent,
		MaxDrawdownPercent:     rc.MaxDrawdownPercent,
		MinConfidence:          rc.MinConfidence,
		SizingMethod:           storemodel.SizingMethod(rc.SizingMethod),
	})
}

// Run 启动周期任务与 HTTP 服务，阻塞直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if dump, err := a.cfg.Dump(); err == nil {
		logger.InfoBlock("生效配置:\n" + dump)
	}

	a.backtests.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.supervisor.Run(ctx)
	})

	err := group.Wait()
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.supervisor.Stop()
	if !a.backtests.WaitIdle(30 * time.Second) {
		logger.Warnf("仍有回测任务未结束，放弃等待")
	}
	if a.broadcaster != nil {
		_ = a.broadcaster.Close()
	}
	if err := a.store.Close(); err != nil {
		logger.Errorf("关闭数据库失败: %v", err)
	}
	logger.Infof("应用已退出")
}
