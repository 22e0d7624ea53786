package exchange

import (
	"context"
	"errors"

	"kestrel/internal/pkg/resilience"
)

// Guarded 在任意 Client 外套一层进程级防护：限流 -> 熔断 -> 重试。
// 同一交易所的所有并发调用共享同一组熔断器/限流器实例。
type Guarded struct {
	inner   Client
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	retry   *resilience.RetryPolicy
}

func NewGuarded(inner Client, breaker *resilience.CircuitBreaker, limiter *resilience.RateLimiter, retry *resilience.RetryPolicy) *Guarded {
	if retry != nil && retry.Retryable == nil {
		retry.Retryable = retryableForGuard
	}
	return &Guarded{inner: inner, breaker: breaker, limiter: limiter, retry: retry}
}

// 熔断打开时直接放弃，不再消耗重试预算。
func retryableForGuard(err error) bool {
	if errors.Is(err, resilience.ErrOpen) {
		return false
	}
	return IsRetryable(err)
}

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Acquire(ctx); err != nil {
				return err
			}
		}
		if g.breaker == nil {
			return fn(ctx)
		}
		if !g.breaker.Allow() {
			return resilience.ErrOpen
		}
		err := fn(ctx)
		switch {
		case err == nil:
			g.breaker.RecordSuccess()
		case IsRetryable(err):
			// 只有瞬时网络故障计入熔断；鉴权/未找到不代表交易所不可用。
			g.breaker.RecordFailure()
		}
		return err
	}
	if g.retry == nil {
		return attempt(ctx)
	}
	return g.retry.Do(ctx, op, attempt)
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) TestConnection(ctx context.Context) error {
	return g.call(ctx, "test_connection", func(ctx context.Context) error {
		return g.inner.TestConnection(ctx)
	})
}

func (g *Guarded) GetBalance(ctx context.Context, currency string) (float64, error) {
	var out float64
	err := g.call(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetBalance(ctx, currency)
		return err
	})
	return out, err
}

func (g *Guarded) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out *Ticker
	err := g.call(ctx, "get_ticker", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetTicker(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) PlaceMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResult, error) {
	var out *OrderResult
	err := g.call(ctx, "place_market_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceMarketOrder(ctx, symbol, side, amount)
		return err
	})
	return out, err
}

func (g *Guarded) PlaceLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (*OrderResult, error) {
	var out *OrderResult
	err := g.call(ctx, "place_limit_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceLimitOrder(ctx, symbol, side, amount, price)
		return err
	})
	return out, err
}

func (g *Guarded) PlaceStopMarketOrder(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*OrderResult, error) {
	var out *OrderResult
	err := g.call(ctx, "place_stop_market_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceStopMarketOrder(ctx, symbol, side, amount, stopPrice)
		return err
	})
	return out, err
}

func (g *Guarded) PlaceOCOOrder(ctx context.Context, symbol string, side Side, amount, stopPrice, limitPrice float64) (*OCOResult, error) {
	var out *OCOResult
	err := g.call(ctx, "place_oco_order", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceOCOOrder(ctx, symbol, side, amount, stopPrice, limitPrice)
		return err
	})
	return out, err
}

func (g *Guarded) GetOrderStatus(ctx context.Context, venueOrderID, symbol string) (*OrderStatus, error) {
	var out *OrderStatus
	err := g.call(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetOrderStatus(ctx, venueOrderID, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	return g.call(ctx, "cancel_order", func(ctx context.Context) error {
		return g.inner.CancelOrder(ctx, venueOrderID, symbol)
	})
}

func (g *Guarded) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var out []Candle
	err := g.call(ctx, "get_ohlcv", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetOHLCV(ctx, symbol, interval, limit)
		return err
	})
	return out, err
}

func (g *Guarded) GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	var out *OrderBook
	err := g.call(ctx, "get_order_book", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetOrderBook(ctx, symbol, limit)
		return err
	})
	return out, err
}

var _ Client = (*Guarded)(nil)
