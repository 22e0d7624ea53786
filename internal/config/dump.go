package config

import (
	"gopkg.in/yaml.v3"
)

// redacted 在生效配置导出时替换密钥类字段。
const redacted = "[redacted]"

// Dump 输出生效配置的 YAML，密钥打码，供启动日志与排障接口使用。
func (c *Config) Dump() (string, error) {
	clone := *c
	if clone.Venue.APIKey != "" {
		clone.Venue.APIKey = redacted
	}
	if clone.Venue.APISecret != "" {
		clone.Venue.APISecret = redacted
	}
	if clone.Notify.Telegram.BotToken != "" {
		clone.Notify.Telegram.BotToken = redacted
	}
	if clone.Events.RedisPassword != "" {
		clone.Events.RedisPassword = redacted
	}
	out, err := yaml.Marshal(&clone)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
