package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 滑动窗口限流：窗口内最多允许 maxRequests 次请求，超出时阻塞到
// 最旧的时间戳过期为止。
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		stamps:      make([]time.Time, 0, maxRequests),
		now:         time.Now,
		sleep:       sleepWithContext,
	}
}

// Acquire blocks until a slot is available, then records the acquisition.
// Eviction, the capacity check and the record happen under one mutex so
// concurrent callers never exceed maxRequests per rolling window.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		now := rl.now()
		rl.evict(now)
		if len(rl.stamps) < rl.maxRequests {
			rl.stamps = append(rl.stamps, now)
			return nil
		}
		// 等到最旧的时间戳滑出窗口
		wait := rl.window - now.Sub(rl.stamps[0])
		rl.mu.Unlock()
		err := rl.sleep(ctx, wait)
		rl.mu.Lock()
		if err != nil {
			return err
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.stamps) && !rl.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.stamps = append(rl.stamps[:0], rl.stamps[i:]...)
	}
}

// Pending returns the number of live timestamps in the current window.
func (rl *RateLimiter) Pending() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evict(rl.now())
	return len(rl.stamps)
}
