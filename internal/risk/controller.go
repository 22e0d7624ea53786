package risk

import (
	"context"
	"fmt"
	"time"

	"kestrel/internal/gateway/notifier"
	"kestrel/internal/logger"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// Controller 持有账本与告警通道，所有按策略的风控动作都经过它。
type Controller struct {
	store   *gormstore.Store
	alerter notifier.Alerter

	now func() time.Time
}

func NewController(store *gormstore.Store, alerter notifier.Alerter) *Controller {
	if alerter == nil {
		alerter = notifier.Nop{}
	}
	return &Controller{store: store, alerter: alerter, now: time.Now}
}

func (c *Controller) Config(ctx context.Context, strategyID int64) (*storemodel.RiskConfigModel, error) {
	return c.store.GetOrCreateRiskConfig(ctx, strategyID)
}

// UpdateConfig 校验后落库，非法值直接拒绝。
func (c *Controller) UpdateConfig(ctx context.Context, cfg *storemodel.RiskConfigModel) error {
	if cfg.MaxPositionSizePercent <= 0 || cfg.MaxPositionSizePercent > 1 {
		return fmt.Errorf("max_position_size_percent 必须在 (0,1]")
	}
	if cfg.MaxDailyLossPercent <= 0 || cfg.MaxDailyLossPercent > 1 {
		return fmt.Errorf("max_daily_loss_percent 必须在 (0,1]")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return fmt.Errorf("min_confidence 必须在 [0,1]")
	}
	switch cfg.SizingMethod {
	case storemodel.SizingFixed, storemodel.SizingKelly, storemodel.SizingATR:
	default:
		return fmt.Errorf("未知 sizing_method: %s", cfg.SizingMethod)
	}
	if _, err := c.store.GetOrCreateRiskConfig(ctx, cfg.StrategyID); err != nil {
		return err
	}
	return c.store.UpdateRiskConfig(ctx, cfg)
}

// CalculatePositionSize 按策略配置的口径计算名义仓位。
func (c *Controller) CalculatePositionSize(ctx context.Context, strategyID int64, balance float64, in SizeInputs) (float64, error) {
	if balance <= 0 {
		return 0, nil
	}
	cfg, err := c.store.GetOrCreateRiskConfig(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	var size float64
	switch cfg.SizingMethod {
	case storemodel.SizingKelly:
		size = kellySize(balance, cfg.MaxPositionSizePercent, in)
	case storemodel.SizingATR:
		size = atrSize(balance, cfg.MaxPositionSizePercent, in)
	default:
		size = fixedSize(balance, cfg.MaxPositionSizePercent)
	}
	logger.Debugf("策略 %d 仓位计算 method=%s balance=%.2f -> %.2f", strategyID, cfg.SizingMethod, balance, size)
	return size, nil
}

func (c *Controller) today() string {
	return c.now().UTC().Format("2006-01-02")
}

// CheckDailyLossLimit 判断当日亏损是否越限。首次越限告警并熔断策略，
// 此后只返回 true，不重复告警。
func (c *Controller) CheckDailyLossLimit(ctx context.Context, strategyID int64) (bool, error) {
	cfg, err := c.store.GetOrCreateRiskConfig(ctx, strategyID)
	if err != nil {
		return false, err
	}
	day := c.today()
	row, err := c.store.GetDailyLoss(ctx, strategyID, day)
	if err != nil {
		return false, err
	}
	if row.LimitReached {
		return true, nil
	}
	if row.TotalLossPercent < cfg.MaxDailyLossPercent {
		return false, nil
	}
	latched, err := c.store.LatchDailyLossLimit(ctx, strategyID, day)
	if err != nil {
		return true, err
	}
	if latched {
		msg := fmt.Sprintf("策略 %d 当日亏损 %.2f%% 达到上限 %.2f%%，交易暂停至次日",
			strategyID, row.TotalLossPercent*100, cfg.MaxDailyLossPercent*100)
		c.alerter.SendAlert("日内亏损超限", msg, notifier.PriorityCritical)
		if err := c.TriggerCircuitBreaker(ctx, strategyID, "daily loss limit reached"); err != nil {
			logger.Errorf("策略 %d 熔断触发失败: %v", strategyID, err)
		}
	}
	return true, nil
}

// UpdateDailyLoss 记录一笔已实现盈亏并复查限额。
func (c *Controller) UpdateDailyLoss(ctx context.Context, strategyID int64, pnl, balance float64) error {
	if _, err := c.store.ApplyDailyLoss(ctx, strategyID, c.today(), pnl, balance); err != nil {
		return err
	}
	_, err := c.CheckDailyLossLimit(ctx, strategyID)
	return err
}

// ResetDailyLoss 运维显式复位当日限额。
func (c *Controller) ResetDailyLoss(ctx context.Context, strategyID int64) error {
	return c.store.ResetDailyLossLimit(ctx, strategyID, c.today())
}

// DailyLossStatus 当日亏损快照，运维接口用。
type DailyLossStatus struct {
	Day          string  `json:"day"`
	LossAmount   float64 `json:"loss_amount"`
	LossPercent  float64 `json:"loss_percent"`
	LimitPercent float64 `json:"limit_percent"`
	TradeCount   int     `json:"trade_count"`
	LimitReached bool    `json:"limit_reached"`
}

func (c *Controller) DailyLossStatus(ctx context.Context, strategyID int64) (*DailyLossStatus, error) {
	cfg, err := c.store.GetOrCreateRiskConfig(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	day := c.today()
	row, err := c.store.GetDailyLoss(ctx, strategyID, day)
	if err != nil {
		return nil, err
	}
	return &DailyLossStatus{
		Day:          day,
		LossAmount:   row.TotalLossAmount,
		LossPercent:  row.TotalLossPercent,
		LimitPercent: cfg.MaxDailyLossPercent,
		TradeCount:   row.TradeCount,
		LimitReached: row.LimitReached,
	}, nil
}

// TriggerCircuitBreaker 熔断是带副作用的动作：持久化状态、停用策略、告警。
func (c *Controller) TriggerCircuitBreaker(ctx context.Context, strategyID int64, reason string) error {
	if err := c.store.SetStrategyBreaker(ctx, strategyID, storemodel.BreakerOpen, reason); err != nil {
		return err
	}
	if err := c.store.SetStrategyActive(ctx, strategyID, false); err != nil {
		logger.Errorf("策略 %d 停用失败: %v", strategyID, err)
	}
	c.alerter.SendAlert("策略熔断",
		fmt.Sprintf("策略 %d 已熔断并暂停：%s", strategyID, reason),
		notifier.PriorityCritical)
	return nil
}

// ResetCircuitBreaker 清除熔断状态。策略保持暂停，由运维确认后再启用。
func (c *Controller) ResetCircuitBreaker(ctx context.Context, strategyID int64) error {
	return c.store.SetStrategyBreaker(ctx, strategyID, storemodel.BreakerClosed, "manual reset")
}

// IsTripped 判断策略是否处于熔断（含急停开关）。
func (c *Controller) IsTripped(ctx context.Context, strategyID int64) (bool, string, error) {
	cfg, err := c.store.GetOrCreateRiskConfig(ctx, strategyID)
	if err != nil {
		return false, "", err
	}
	if cfg.EmergencyStop {
		return true, "emergency stop engaged", nil
	}
	st, err := c.store.GetStrategyBreaker(ctx, strategyID)
	if err != nil {
		return false, "", err
	}
	if st.State == storemodel.BreakerOpen {
		return true, st.Reason, nil
	}
	return false, "", nil
}

// SetEmergencyStop 手动急停/恢复，立即生效于所有后续决策。
func (c *Controller) SetEmergencyStop(ctx context.Context, strategyID int64, stop bool) error {
	if err := c.store.SetEmergencyStop(ctx, strategyID, stop); err != nil {
		return err
	}
	if stop {
		c.alerter.SendAlert("急停",
			fmt.Sprintf("策略 %d 已手动急停", strategyID),
			notifier.PriorityCritical)
	}
	return nil
}
