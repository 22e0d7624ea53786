package config

// Config 是 kestrel 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Venue      VenueConfig      `toml:"venue"`
	Risk       RiskConfig       `toml:"risk"`
	Resilience ResilienceConfig `toml:"resilience"`
	Events     EventsConfig     `toml:"events"`
	Notify     NotifyConfig     `toml:"notify"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Loops      LoopsConfig      `toml:"loops"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	HTTPAddr    string `toml:"http_addr"`
	LogPath     string `toml:"log_path"`
	JournalPath string `toml:"journal_path"` // 决策流水，独立于运行日志
	DBPath      string `toml:"db_path"`
}

type VenueConfig struct {
	Name          string  `toml:"name"`
	APIKey        string  `toml:"api_key"`
	APISecret     string  `toml:"api_secret"`
	Testnet       bool    `toml:"testnet"`
	QuoteCurrency string  `toml:"quote_currency"`
	MinNotional   float64 `toml:"min_notional"`
}

// RiskConfig 是新策略落库时的初始风控参数，支持热更新。
type RiskConfig struct {
	MaxPositionSizePercent float64 `toml:"max_position_size_percent"`
	MaxDailyLossPercent    float64 `toml:"max_daily_loss_percent"`
	MaxDrawdownPercent     float64 `toml:"max_drawdown_percent"`
	MinConfidence          float64 `toml:"min_confidence"`
	SizingMethod           string  `toml:"sizing_method"`
	MinRiskReward          float64 `toml:"min_risk_reward"`
}

type ResilienceConfig struct {
	Breaker BreakerConfig `toml:"breaker"`
	Retry   RetryConfig   `toml:"retry"`
	Limiter LimiterConfig `toml:"limiter"`
}

type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	SuccessThreshold int `toml:"success_threshold"`
	TimeoutSeconds   int `toml:"timeout_seconds"`
}

type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMs int     `toml:"initial_delay_ms"`
	MaxDelayMs     int     `toml:"max_delay_ms"`
	Factor         float64 `toml:"factor"`
}

type LimiterConfig struct {
	MaxRequests   int `toml:"max_requests"`
	WindowSeconds int `toml:"window_seconds"`
}

type EventsConfig struct {
	RedisAddr     string `toml:"redis_addr"` // 为空则只走进程内总线
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type BacktestConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
	DecisionEvery int `toml:"decision_every"`
}

type LoopsConfig struct {
	ReconcileIntervalSeconds int `toml:"reconcile_interval_seconds"`
	TrailingIntervalSeconds  int `toml:"trailing_interval_seconds"`
	MonitorIntervalSeconds   int `toml:"monitor_interval_seconds"`
}
