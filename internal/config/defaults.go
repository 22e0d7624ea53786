package config

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "data/logs/kestrel.log"
	defaultJournalPath = "data/logs/decisions.log"
	defaultDBPath      = "data/db/kestrel.db"

	defaultVenueName     = "binance"
	defaultQuoteCurrency = "USDT"
	defaultMinNotional   = 10.0

	defaultRiskMaxPositionPct = 0.02
	defaultRiskMaxDailyLoss   = 0.05
	defaultRiskMaxDrawdown    = 0.10
	defaultRiskMinConfidence  = 0.5
	defaultRiskSizingMethod   = "fixed"
	defaultRiskMinRiskReward  = 2.0

	defaultBreakerFailures  = 5
	defaultBreakerSuccesses = 1
	defaultBreakerTimeout   = 60
	defaultRetryAttempts    = 3
	defaultRetryInitialMs   = 100
	defaultRetryMaxMs       = 5000
	defaultRetryFactor      = 2.0
	defaultLimiterRequests  = 10
	defaultLimiterWindow    = 60

	defaultBacktestConcurrent = 2
	defaultBacktestDecisionN  = 6

	defaultReconcileInterval = 300
	defaultTrailingInterval  = 30
	defaultMonitorInterval   = 10
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Venue.applyDefaults()
	c.Risk.applyDefaults()
	c.Resilience.applyDefaults()
	c.Backtest.applyDefaults()
	c.Loops.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
	if a.LogPath == "" {
		a.LogPath = defaultAppLogPath
	}
	if a.JournalPath == "" {
		a.JournalPath = defaultJournalPath
	}
	if a.DBPath == "" {
		a.DBPath = defaultDBPath
	}
}

func (v *VenueConfig) applyDefaults() {
	if v.Name == "" {
		v.Name = defaultVenueName
	}
	if v.QuoteCurrency == "" {
		v.QuoteCurrency = defaultQuoteCurrency
	}
	if v.MinNotional <= 0 {
		v.MinNotional = defaultMinNotional
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.MaxPositionSizePercent <= 0 {
		r.MaxPositionSizePercent = defaultRiskMaxPositionPct
	}
	if r.MaxDailyLossPercent <= 0 {
		r.MaxDailyLossPercent = defaultRiskMaxDailyLoss
	}
	if r.MaxDrawdownPercent <= 0 {
		r.MaxDrawdownPercent = defaultRiskMaxDrawdown
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = defaultRiskMinConfidence
	}
	if r.SizingMethod == "" {
		r.SizingMethod = defaultRiskSizingMethod
	}
	if r.MinRiskReward <= 0 {
		r.MinRiskReward = defaultRiskMinRiskReward
	}
}

func (r *ResilienceConfig) applyDefaults() {
	if r.Breaker.FailureThreshold <= 0 {
		r.Breaker.FailureThreshold = defaultBreakerFailures
	}
	if r.Breaker.SuccessThreshold <= 0 {
		r.Breaker.SuccessThreshold = defaultBreakerSuccesses
	}
	if r.Breaker.TimeoutSeconds <= 0 {
		r.Breaker.TimeoutSeconds = defaultBreakerTimeout
	}
	if r.Retry.MaxAttempts <= 0 {
		r.Retry.MaxAttempts = defaultRetryAttempts
	}
	if r.Retry.InitialDelayMs <= 0 {
		r.Retry.InitialDelayMs = defaultRetryInitialMs
	}
	if r.Retry.MaxDelayMs <= 0 {
		r.Retry.MaxDelayMs = defaultRetryMaxMs
	}
	if r.Retry.Factor <= 1 {
		r.Retry.Factor = defaultRetryFactor
	}
	if r.Limiter.MaxRequests <= 0 {
		r.Limiter.MaxRequests = defaultLimiterRequests
	}
	if r.Limiter.WindowSeconds <= 0 {
		r.Limiter.WindowSeconds = defaultLimiterWindow
	}
}

func (b *BacktestConfig) applyDefaults() {
	if b.MaxConcurrent <= 0 {
		b.MaxConcurrent = defaultBacktestConcurrent
	}
	if b.DecisionEvery <= 0 {
		b.DecisionEvery = defaultBacktestDecisionN
	}
}

func (l *LoopsConfig) applyDefaults() {
	if l.ReconcileIntervalSeconds <= 0 {
		l.ReconcileIntervalSeconds = defaultReconcileInterval
	}
	if l.TrailingIntervalSeconds <= 0 {
		l.TrailingIntervalSeconds = defaultTrailingInterval
	}
	if l.MonitorIntervalSeconds <= 0 {
		l.MonitorIntervalSeconds = defaultMonitorInterval
	}
}
