package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"kestrel/internal/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient 按回调返回，未设置的方法给零值。
type stubClient struct {
	tickerFn func(ctx context.Context, symbol string) (*Ticker, error)
	marketFn func(ctx context.Context, symbol string, side Side, amount float64) (*OrderResult, error)
}

func (s *stubClient) Name() string                                        { return "stub" }
func (s *stubClient) TestConnection(context.Context) error                { return nil }
func (s *stubClient) GetBalance(context.Context, string) (float64, error) { return 0, nil }
func (s *stubClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if s.tickerFn != nil {
		return s.tickerFn(ctx, symbol)
	}
	return &Ticker{Symbol: symbol}, nil
}
func (s *stubClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResult, error) {
	if s.marketFn != nil {
		return s.marketFn(ctx, symbol, side, amount)
	}
	return &OrderResult{}, nil
}
func (s *stubClient) PlaceLimitOrder(context.Context, string, Side, float64, float64) (*OrderResult, error) {
	return &OrderResult{}, nil
}
func (s *stubClient) PlaceStopMarketOrder(context.Context, string, Side, float64, float64) (*OrderResult, error) {
	return &OrderResult{}, nil
}
func (s *stubClient) PlaceOCOOrder(context.Context, string, Side, float64, float64, float64) (*OCOResult, error) {
	return &OCOResult{}, nil
}
func (s *stubClient) GetOrderStatus(context.Context, string, string) (*OrderStatus, error) {
	return &OrderStatus{}, nil
}
func (s *stubClient) CancelOrder(context.Context, string, string) error { return nil }
func (s *stubClient) GetOHLCV(context.Context, string, string, int) ([]Candle, error) {
	return nil, nil
}
func (s *stubClient) GetOrderBook(context.Context, string, int) (*OrderBook, error) {
	return &OrderBook{}, nil
}

func newGuardParts() (*resilience.CircuitBreaker, *resilience.RetryPolicy) {
	cb := resilience.NewCircuitBreaker("stub", 3, 1, time.Minute)
	cb.SetStateChangeHandler(func(string, resilience.State, resilience.State) {})
	retry := resilience.NewRetryPolicy(3, time.Millisecond, time.Millisecond, 2)
	return cb, retry
}

func TestGuardedRetriesTransientErrors(t *testing.T) {
	calls := 0
	stub := &stubClient{tickerFn: func(ctx context.Context, symbol string) (*Ticker, error) {
		calls++
		if calls < 3 {
			return nil, Transient("get_ticker", errors.New("timeout"))
		}
		return &Ticker{Symbol: symbol, Price: 50000}, nil
	}}
	cb, retry := newGuardParts()
	g := NewGuarded(stub, cb, resilience.NewRateLimiter(100, time.Minute), retry)

	tk, err := g.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.InDelta(t, 50000, tk.Price, 1e-9)
}

func TestGuardedDoesNotRetryAuthErrors(t *testing.T) {
	calls := 0
	stub := &stubClient{marketFn: func(context.Context, string, Side, float64) (*OrderResult, error) {
		calls++
		return nil, Auth("place_market_order", errors.New("invalid api key"))
	}}
	cb, retry := newGuardParts()
	g := NewGuarded(stub, cb, nil, retry)

	_, err := g.PlaceMarketOrder(context.Background(), "BTCUSDT", SideBuy, 1)
	assert.True(t, IsAuth(err))
	assert.Equal(t, 1, calls)
	// 鉴权错误不计入熔断
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestGuardedTripsBreakerAcrossRetries(t *testing.T) {
	calls := 0
	stub := &stubClient{tickerFn: func(context.Context, string) (*Ticker, error) {
		calls++
		return nil, Transient("get_ticker", errors.New("connection reset"))
	}}
	cb, retry := newGuardParts()
	g := NewGuarded(stub, cb, nil, retry)

	_, err := g.GetTicker(context.Background(), "BTCUSDT")
	require.Error(t, err)
	// 三次瞬时失败（跨重试累计）把熔断打到 OPEN
	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.Equal(t, 3, calls)

	// 随后所有调用直接快速失败，不再触达交易所
	_, err = g.GetTicker(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 3, calls)
}
