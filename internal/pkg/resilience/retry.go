package resilience

import (
	"context"
	"fmt"
	"time"

	"kestrel/internal/logger"
)

// RetryPolicy 指数退避重试：只对可重试错误生效，不可重试错误立即上抛。
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Retryable classifies errors; nil means retry everything.
	Retryable func(error) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxAttempts int, initial, max time.Duration, factor float64) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if factor <= 1 {
		factor = 2
	}
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Factor:       factor,
		sleep:        sleepWithContext,
	}
}

// Do executes fn up to MaxAttempts times. Between attempts it sleeps
// min(delay, MaxDelay) and then multiplies delay by Factor. The last error is
// returned on exhaustion.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := delay
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		logger.Debugf("重试 %s：第 %d/%d 次失败（%v），%s 后重试", op, attempt, p.MaxAttempts, lastErr, wait)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return fmt.Errorf("%s: %d 次尝试后仍失败: %w", op, p.MaxAttempts, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
