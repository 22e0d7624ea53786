package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster 发布到 events:<type> 频道，供外部消费者订阅。
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(addr, password string, db int) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}
	return &RedisBroadcaster{client: client}, nil
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	channel := "events:" + evt.Type
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisBroadcaster) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
