package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kestrel/internal/logger"
	"kestrel/internal/pkg/text"
)

// 中文说明：
// Telegram 通知器：风控/熔断/对账告警推送至指定群/频道。

type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

func priorityIcon(p Priority) string {
	switch p {
	case PriorityCritical:
		return "🚨"
	case PriorityHigh:
		return "⚠️"
	case PriorityLow:
		return "ℹ️"
	default:
		return "🔔"
	}
}

// SendAlert 即发即忘：失败只记日志，返回 false。
func (t *Telegram) SendAlert(subject, message string, priority Priority) bool {
	// Telegram 单条消息上限 4096 字符
	body := text.Truncate(fmt.Sprintf("%s *%s*\n\n%s", priorityIcon(priority), subject, message), 4000)
	if err := t.sendText(body); err != nil {
		logger.Warnf("Telegram 告警发送失败 [%s] %s: %v", priority, subject, err)
		return false
	}
	return true
}

// sendText 发送文本消息（带最多 3 次重试）
func (t *Telegram) sendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

var _ Alerter = (*Telegram)(nil)
