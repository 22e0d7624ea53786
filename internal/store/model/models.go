package model

import (
	"time"

	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// CanTransition 订单状态单调：pending 流向终态后不再变化。
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s == to {
		return false
	}
	return s == OrderStatusPending
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusFailed
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeOCO        OrderType = "oco"
)

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

type SizingMethod string

const (
	SizingFixed SizingMethod = "fixed"
	SizingKelly SizingMethod = "kelly"
	SizingATR   SizingMethod = "atr"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BacktestStatus string

const (
	BacktestStatusPending   BacktestStatus = "pending"
	BacktestStatusRunning   BacktestStatus = "running"
	BacktestStatusCompleted BacktestStatus = "completed"
	BacktestStatusFailed    BacktestStatus = "failed"
	BacktestStatusCancelled BacktestStatus = "cancelled"
)

type ConnectionModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Name          string `gorm:"column:name;uniqueIndex"`
	Venue         string `gorm:"column:venue"`
	Testnet       bool   `gorm:"column:testnet"`
	Active        bool   `gorm:"column:active"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (ConnectionModel) TableName() string { return "connections" }

type StrategyModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	ConnectionID  int64  `gorm:"column:connection_id;index"`
	Name          string `gorm:"column:name"`
	Symbol        string `gorm:"column:symbol;index"`
	Interval      string `gorm:"column:interval"`
	Active        bool   `gorm:"column:active"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (StrategyModel) TableName() string { return "strategies" }

type OrderModel struct {
	ID            int64       `gorm:"column:id;primaryKey"`
	ConnectionID  int64       `gorm:"column:connection_id;index"`
	StrategyID    int64       `gorm:"column:strategy_id;index"`
	VenueOrderID  string      `gorm:"column:venue_order_id;index"`
	Symbol        string      `gorm:"column:symbol"`
	Side          OrderSide   `gorm:"column:side"`
	Type          OrderType   `gorm:"column:type"`
	Amount        float64     `gorm:"column:amount"`
	Price         *float64    `gorm:"column:price"`
	StopPrice     *float64    `gorm:"column:stop_price"`
	Status        OrderStatus `gorm:"column:status;index"`
	FilledAmount  float64     `gorm:"column:filled_amount"`
	FilledPrice   float64     `gorm:"column:filled_price"`
	Fee           float64     `gorm:"column:fee"`
	OCOGroupID    string      `gorm:"column:oco_group_id"`
	LinkedOrderID *int64      `gorm:"column:linked_order_id"`
	CreatedAtUnix int64       `gorm:"column:created_at"`
	UpdatedAtUnix int64       `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderAuditModel 记录对账等来源对订单终态的显式修正。
type OrderAuditModel struct {
	ID            int64       `gorm:"column:id;primaryKey"`
	OrderID       int64       `gorm:"column:order_id;index"`
	FromStatus    OrderStatus `gorm:"column:from_status"`
	ToStatus      OrderStatus `gorm:"column:to_status"`
	Source        string      `gorm:"column:source"`
	Note          string      `gorm:"column:note"`
	CreatedAtUnix int64       `gorm:"column:created_at"`
}

func (OrderAuditModel) TableName() string { return "order_audits" }

type TradeModel struct {
	ID          int64       `gorm:"column:id;primaryKey"`
	StrategyID  int64       `gorm:"column:strategy_id;index"`
	Symbol      string      `gorm:"column:symbol;index"`
	BuyOrderID  int64       `gorm:"column:buy_order_id"`
	SellOrderID *int64      `gorm:"column:sell_order_id"`
	EntryPrice  float64     `gorm:"column:entry_price"`
	ExitPrice   *float64    `gorm:"column:exit_price"`
	Amount      float64     `gorm:"column:amount"`
	PnL         *float64    `gorm:"column:pnl"`
	PnLPercent  *float64    `gorm:"column:pnl_percent"`
	Status      TradeStatus `gorm:"column:status;index"`
	// 入场时的决策上下文（confidence/reasoning/risk_factors），复盘用
	DecisionContext datatypes.JSON `gorm:"column:decision_context"`
	OpenedAtUnix    int64          `gorm:"column:opened_at"`
	ClosedAtUnix    *int64         `gorm:"column:closed_at"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (TradeModel) TableName() string { return "trades" }

type PositionModel struct {
	ID                int64    `gorm:"column:id;primaryKey"`
	TradeID           int64    `gorm:"column:trade_id;uniqueIndex"`
	StrategyID        int64    `gorm:"column:strategy_id;index"`
	Symbol            string   `gorm:"column:symbol;index"`
	Amount            float64  `gorm:"column:amount"`
	EntryPrice        float64  `gorm:"column:entry_price"`
	CurrentPrice      float64  `gorm:"column:current_price"`
	UnrealizedPnL     float64  `gorm:"column:unrealized_pnl"`
	TrailingEnabled   bool     `gorm:"column:trailing_enabled"`
	TrailingPercent   float64  `gorm:"column:trailing_percent"`
	TrailingHighPrice float64  `gorm:"column:trailing_high_price"`
	StopOrderID       *int64   `gorm:"column:stop_order_id"`
	TakeProfitOrderID *int64   `gorm:"column:take_profit_order_id"`
	StopLossPrice     *float64 `gorm:"column:stop_loss_price"`
	TakeProfitPrice   *float64 `gorm:"column:take_profit_price"`
	CreatedAtUnix     int64    `gorm:"column:created_at"`
	UpdatedAtUnix     int64    `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (PositionModel) TableName() string { return "positions" }

type RiskConfigModel struct {
	ID                     int64        `gorm:"column:id;primaryKey"`
	StrategyID             int64        `gorm:"column:strategy_id;uniqueIndex"`
	MaxPositionSizePercent float64      `gorm:"column:max_position_size_percent"`
	MaxDailyLossPercent    float64      `gorm:"column:max_daily_loss_percent"`
	MaxDrawdownPercent     float64      `gorm:"column:max_drawdown_percent"`
	MinConfidence          float64      `gorm:"column:min_confidence"`
	SizingMethod           SizingMethod `gorm:"column:sizing_method"`
	EmergencyStop          bool         `gorm:"column:emergency_stop"`
	CreatedAtUnix          int64        `gorm:"column:created_at"`
	UpdatedAtUnix          int64        `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (RiskConfigModel) TableName() string { return "risk_configs" }

// DefaultRiskConfig 首次访问时落库的安全默认值。
func DefaultRiskConfig(strategyID int64) *RiskConfigModel {
	return &RiskConfigModel{
		StrategyID:             strategyID,
		MaxPositionSizePercent: 0.02,
		MaxDailyLossPercent:    0.05,
		MaxDrawdownPercent:     0.10,
		MinConfidence:          0.5,
		SizingMethod:           SizingFixed,
	}
}

type DailyLossModel struct {
	ID               int64   `gorm:"column:id;primaryKey"`
	StrategyID       int64   `gorm:"column:strategy_id;uniqueIndex:idx_daily_loss,priority:1"`
	Day              string  `gorm:"column:day;uniqueIndex:idx_daily_loss,priority:2"` // YYYY-MM-DD
	TotalLossAmount  float64 `gorm:"column:total_loss_amount"`
	TotalLossPercent float64 `gorm:"column:total_loss_percent"`
	TradeCount       int     `gorm:"column:trade_count"`
	LimitReached     bool    `gorm:"column:limit_reached"`
	CreatedAtUnix    int64   `gorm:"column:created_at"`
	UpdatedAtUnix    int64   `gorm:"column:updated_at"`
}

func (DailyLossModel) TableName() string { return "daily_losses" }

// BreakerStateModel 按策略持久化的熔断状态，区别于进程内对依赖的熔断器。
type BreakerStateModel struct {
	ID            int64        `gorm:"column:id;primaryKey"`
	StrategyID    int64        `gorm:"column:strategy_id;uniqueIndex"`
	State         BreakerState `gorm:"column:state"`
	Reason        string       `gorm:"column:reason"`
	TrippedAtUnix *int64       `gorm:"column:tripped_at"`
	ResetAtUnix   *int64       `gorm:"column:reset_at"`
	UpdatedAtUnix int64        `gorm:"column:updated_at"`
}

func (BreakerStateModel) TableName() string { return "strategy_circuit_breakers" }

type BacktestModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	Symbol          string         `gorm:"column:symbol"`
	Interval        string         `gorm:"column:interval"`
	StartUnix       int64          `gorm:"column:start_at"`
	EndUnix         int64          `gorm:"column:end_at"`
	InitialBalance  float64        `gorm:"column:initial_balance"`
	DecisionEvery   int            `gorm:"column:decision_every"`
	Status          BacktestStatus `gorm:"column:status;index"`
	ErrorMessage    string         `gorm:"column:error_message"`
	FinalBalance    float64        `gorm:"column:final_balance"`
	TotalPnL        float64        `gorm:"column:total_pnl"`
	TotalPnLPercent float64        `gorm:"column:total_pnl_percent"`
	TotalTrades     int            `gorm:"column:total_trades"`
	WinningTrades   int            `gorm:"column:winning_trades"`
	LosingTrades    int            `gorm:"column:losing_trades"`
	WinRate         float64        `gorm:"column:win_rate"`
	AvgWin          float64        `gorm:"column:avg_win"`
	AvgLoss         float64        `gorm:"column:avg_loss"`
	ProfitFactor    float64        `gorm:"column:profit_factor"`
	MaxDrawdown     float64        `gorm:"column:max_drawdown"`
	MaxDrawdownPct  float64        `gorm:"column:max_drawdown_percent"`
	SharpeRatio     float64        `gorm:"column:sharpe_ratio"`
	LargestWin      float64        `gorm:"column:largest_win"`
	LargestLoss     float64        `gorm:"column:largest_loss"`
	AvgDurationHrs  float64        `gorm:"column:avg_trade_duration_hours"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
}

func (BacktestModel) TableName() string { return "backtests" }

type BacktestTradeModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	BacktestID    int64   `gorm:"column:backtest_id;index"`
	Symbol        string  `gorm:"column:symbol"`
	EntryTimeUnix int64   `gorm:"column:entry_time"`
	ExitTimeUnix  int64   `gorm:"column:exit_time"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	ExitPrice     float64 `gorm:"column:exit_price"`
	Amount        float64 `gorm:"column:amount"`
	PnL           float64 `gorm:"column:pnl"`
	PnLPercent    float64 `gorm:"column:pnl_percent"`
	ExitReason    string  `gorm:"column:exit_reason"`
}

func (BacktestTradeModel) TableName() string { return "backtest_trades" }
