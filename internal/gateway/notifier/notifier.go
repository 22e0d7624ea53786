package notifier

import (
	"kestrel/internal/logger"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Alerter 发送告警，调用方按即发即忘处理：发送失败绝不阻断交易流程。
type Alerter interface {
	SendAlert(subject, message string, priority Priority) bool
}

// Nop 静默实现，未配置通知渠道时使用。
type Nop struct{}

func (Nop) SendAlert(subject, message string, priority Priority) bool {
	logger.Debugf("告警（未配置通知渠道）[%s] %s: %s", priority, subject, message)
	return true
}

var _ Alerter = Nop{}
