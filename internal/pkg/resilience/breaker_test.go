package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(failThreshold, successThreshold int, timeout time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test", failThreshold, successThreshold, timeout)
	cb.SetStateChangeHandler(func(string, State, State) {})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 2, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	// 两次失败不足以触发，成功已清零计数
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerProbeAndReopen(t *testing.T) {
	// threshold=3, timeout=60s, success_threshold=2
	cb, now := newTestBreaker(3, 2, 60*time.Second)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	// t+30s：冷却未到，直接拒绝
	*now = now.Add(30 * time.Second)
	invoked := false
	err := cb.Do(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
	assert.Equal(t, StateOpen, cb.State())

	// t+61s：放行一次探测
	*now = now.Add(31 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	// 探测失败立刻回到 OPEN
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cb, now := newTestBreaker(2, 2, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(2 * time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(1, 1, time.Hour)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Do(func() error { return nil }))
}

func TestCircuitBreakerDoRecordsResults(t *testing.T) {
	cb, _ := newTestBreaker(2, 1, time.Hour)

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Do(func() error { return nil }), ErrOpen)
}
