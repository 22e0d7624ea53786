package exchange

import "context"

// Client 是交易所适配层的统一入口。所有实现都可能返回两类失败：
// 瞬时网络错误（可重试）与鉴权/参数错误（不可重试），见 errors.go。
type Client interface {
	Name() string

	TestConnection(ctx context.Context) error

	GetBalance(ctx context.Context, currency string) (float64, error)

	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResult, error)

	PlaceLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (*OrderResult, error)

	PlaceStopMarketOrder(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*OrderResult, error)

	PlaceOCOOrder(ctx context.Context, symbol string, side Side, amount, stopPrice, limitPrice float64) (*OCOResult, error)

	GetOrderStatus(ctx context.Context, venueOrderID, symbol string) (*OrderStatus, error)

	CancelOrder(ctx context.Context, venueOrderID, symbol string) error

	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error)
}
