package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/logger"
)

// 中文说明：
// 域事件总线：进程内同步分发保证发布顺序，Redis 广播尽力而为。
// 交付语义为 at-most-once，订阅方必须容忍丢失。

const (
	TypeTradeExecuted    = "trade.executed"
	TypePositionClosed   = "position.closed"
	TypePortfolioUpdated = "portfolio.updated"
)

type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ConnectionID int64          `json:"connection_id"`
	StrategyID   int64          `json:"strategy_id,omitempty"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Handler func(ctx context.Context, evt Event)

// Broadcaster 把事件推到进程外（如 Redis 频道）。
type Broadcaster interface {
	Broadcast(ctx context.Context, evt Event) error
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	broadcaster Broadcaster
}

func NewBus(broadcaster Broadcaster) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		broadcaster: broadcaster,
	}
}

func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
}

// Publish 同步调用进程内订阅者（保证同一发布方的事件顺序），
// 然后尽力广播到进程外。两者失败都不回传给发布方。
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[evt.Type]...)
	broadcaster := b.broadcaster
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("事件订阅者 panic type=%s: %v", evt.Type, r)
				}
			}()
			h(ctx, evt)
		}()
	}
	if broadcaster != nil {
		if err := broadcaster.Broadcast(ctx, evt); err != nil {
			logger.Warnf("事件广播失败 type=%s id=%s: %v", evt.Type, evt.ID, err)
		}
	}
}
