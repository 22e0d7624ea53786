package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Venue.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (v *VenueConfig) validate() error {
	if strings.ToLower(v.Name) != "binance" {
		return fmt.Errorf("venue.name only supports binance, got %q", v.Name)
	}
	// testnet 可以裸跑；实盘必须配置密钥
	if !v.Testnet && (v.APIKey == "" || v.APISecret == "") {
		return fmt.Errorf("venue.api_key/api_secret required outside testnet")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositionSizePercent > 1 {
		return fmt.Errorf("risk.max_position_size_percent must be <= 1, got %f", r.MaxPositionSizePercent)
	}
	if r.MaxDailyLossPercent > 1 {
		return fmt.Errorf("risk.max_daily_loss_percent must be <= 1, got %f", r.MaxDailyLossPercent)
	}
	if r.MinConfidence > 1 {
		return fmt.Errorf("risk.min_confidence must be <= 1, got %f", r.MinConfidence)
	}
	switch r.SizingMethod {
	case "fixed", "kelly", "atr":
	default:
		return fmt.Errorf("risk.sizing_method must be fixed/kelly/atr, got %q", r.SizingMethod)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
