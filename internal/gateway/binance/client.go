package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"kestrel/internal/gateway/exchange"
)

// 中文说明：
// Binance 现货适配器：把 go-binance 的字符串数值与错误码归一到 exchange 层。
// 本层不做限流/熔断/重试，统一由 exchange.Guarded 负责。

type Client struct {
	api  *binance.Client
	name string
}

type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func New(cfg Config) *Client {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	return &Client{
		api:  binance.NewClient(cfg.APIKey, cfg.APISecret),
		name: "binance",
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (c *Client) GetBalance(ctx context.Context, currency string) (float64, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("get_balance", err)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, currency) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	stats, err := c.api.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify("get_ticker", err)
	}
	if len(stats) == 0 {
		return nil, exchange.Transient("get_ticker", fmt.Errorf("%s 无行情返回", symbol))
	}
	st := stats[0]
	return &exchange.Ticker{
		Symbol:    symbol,
		Price:     parseFloat(st.LastPrice),
		Bid:       parseFloat(st.BidPrice),
		Ask:       parseFloat(st.AskPrice),
		Volume:    parseFloat(st.Volume),
		Timestamp: time.Now(),
	}, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64) (*exchange.OrderResult, error) {
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(amount)).
		Do(ctx)
	if err != nil {
		return nil, classify("place_market_order", err)
	}
	return orderResultFromCreate(symbol, side, res), nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.OrderResult, error) {
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(amount)).
		Price(formatQty(price)).
		Do(ctx)
	if err != nil {
		return nil, classify("place_limit_order", err)
	}
	return orderResultFromCreate(symbol, side, res), nil
}

func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.OrderResult, error) {
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeStopLoss).
		Quantity(formatQty(amount)).
		StopPrice(formatQty(stopPrice)).
		Do(ctx)
	if err != nil {
		return nil, classify("place_stop_market_order", err)
	}
	return orderResultFromCreate(symbol, side, res), nil
}

func (c *Client) PlaceOCOOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice, limitPrice float64) (*exchange.OCOResult, error) {
	res, err := c.api.NewCreateOCOService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Quantity(formatQty(amount)).
		Price(formatQty(limitPrice)).
		StopPrice(formatQty(stopPrice)).
		StopLimitPrice(formatQty(stopPrice)).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return nil, classify("place_oco_order", err)
	}
	out := &exchange.OCOResult{GroupID: strconv.FormatInt(res.OrderListID, 10)}
	for _, o := range res.Orders {
		out.Legs = append(out.Legs, exchange.OrderResult{
			VenueOrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:       symbol,
			Side:         side,
			Amount:       amount,
		})
	}
	return out, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, venueOrderID, symbol string) (*exchange.OrderStatus, error) {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return nil, exchange.Auth("get_order_status", fmt.Errorf("非法订单号 %q", venueOrderID))
	}
	order, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, classify("get_order_status", err)
	}
	filled := parseFloat(order.ExecutedQuantity)
	price := parseFloat(order.Price)
	// 市价单 price=0，用累计成交额反推均价
	if price == 0 && filled > 0 {
		price = parseFloat(order.CummulativeQuoteQuantity) / filled
	}
	return &exchange.OrderStatus{
		VenueOrderID: venueOrderID,
		Status:       string(order.Status),
		FilledAmount: filled,
		FilledPrice:  price,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return exchange.Auth("cancel_order", fmt.Errorf("非法订单号 %q", venueOrderID))
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classify("cancel_order", err)
	}
	return nil
}

func (c *Client) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("get_ohlcv", err)
	}
	out := make([]exchange.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, exchange.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (*exchange.OrderBook, error) {
	depth, err := c.api.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("get_order_book", err)
	}
	book := &exchange.OrderBook{}
	for _, b := range depth.Bids {
		book.Bids = append(book.Bids, exchange.BookLevel{Price: parseFloat(b.Price), Amount: parseFloat(b.Quantity)})
	}
	for _, a := range depth.Asks {
		book.Asks = append(book.Asks, exchange.BookLevel{Price: parseFloat(a.Price), Amount: parseFloat(a.Quantity)})
	}
	return book, nil
}

var _ exchange.Client = (*Client)(nil)

// classify 把 Binance 错误码折到 exchange 的三类错误上。
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2013: // Order does not exist
			return exchange.ErrNotFound
		case -1022, -2014, -2015: // 签名/API key
			return exchange.Auth(op, err)
		case -1003, -1015: // 限流
			return exchange.Transient(op, err)
		}
		if apiErr.Code <= -1000 && apiErr.Code > -1100 {
			// -10xx 一般是网关/服务侧问题
			return exchange.Transient(op, err)
		}
		return exchange.Auth(op, err)
	}
	return exchange.Transient(op, err)
}

func parseFloat(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orderResultFromCreate(symbol string, side exchange.Side, res *binance.CreateOrderResponse) *exchange.OrderResult {
	out := &exchange.OrderResult{
		VenueOrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:       symbol,
		Side:         side,
		Amount:       parseFloat(res.ExecutedQuantity),
		Status:       string(res.Status),
	}
	if out.Amount == 0 {
		out.Amount = parseFloat(res.OrigQuantity)
	}
	var notional, qty, fee float64
	for _, f := range res.Fills {
		p := parseFloat(f.Price)
		q := parseFloat(f.Quantity)
		notional += p * q
		qty += q
		fee += parseFloat(f.Commission)
	}
	if qty > 0 {
		out.Price = notional / qty
	} else {
		out.Price = parseFloat(res.Price)
	}
	out.Fee = fee
	return out
}
