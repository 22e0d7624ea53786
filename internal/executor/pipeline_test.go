package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/decision"
	"kestrel/internal/events"
	"kestrel/internal/gateway/exchange"
	"kestrel/internal/risk"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// stubVenue 可编程的交易所桩，记录全部下单调用。
type stubVenue struct {
	balance    float64
	price      float64
	marketErr  error
	ocoErr     error
	placed     []string
	nextID     int
	cancelled  []string
	stopPrices []float64
}

func (v *stubVenue) Name() string { return "stub" }

func (v *stubVenue) TestConnection(ctx context.Context) error { return nil }

func (v *stubVenue) GetBalance(ctx context.Context, currency string) (float64, error) {
	return v.balance, nil
}

func (v *stubVenue) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, Price: v.price}, nil
}

func (v *stubVenue) venueID() string {
	v.nextID++
	return string(rune('A' + v.nextID - 1))
}

func (v *stubVenue) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64) (*exchange.OrderResult, error) {
	if v.marketErr != nil {
		return nil, v.marketErr
	}
	v.placed = append(v.placed, "market:"+string(side))
	return &exchange.OrderResult{VenueOrderID: v.venueID(), Symbol: symbol, Side: side, Amount: amount, Price: v.price, Status: "FILLED"}, nil
}

func (v *stubVenue) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.OrderResult, error) {
	v.placed = append(v.placed, "limit:"+string(side))
	return &exchange.OrderResult{VenueOrderID: v.venueID(), Symbol: symbol, Side: side, Amount: amount, Price: price}, nil
}

func (v *stubVenue) PlaceStopMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.OrderResult, error) {
	v.placed = append(v.placed, "stop_market:"+string(side))
	v.stopPrices = append(v.stopPrices, stopPrice)
	return &exchange.OrderResult{VenueOrderID: v.venueID(), Symbol: symbol, Side: side, Amount: amount}, nil
}

func (v *stubVenue) PlaceOCOOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice, limitPrice float64) (*exchange.OCOResult, error) {
	if v.ocoErr != nil {
		return nil, v.ocoErr
	}
	v.placed = append(v.placed, "oco:"+string(side))
	return &exchange.OCOResult{
		GroupID: "grp-1",
		Legs: []exchange.OrderResult{
			{VenueOrderID: v.venueID(), Symbol: symbol, Side: side, Amount: amount, Price: stopPrice},
			{VenueOrderID: v.venueID(), Symbol: symbol, Side: side, Amount: amount, Price: limitPrice},
		},
	}, nil
}

func (v *stubVenue) GetOrderStatus(ctx context.Context, venueOrderID, symbol string) (*exchange.OrderStatus, error) {
	return &exchange.OrderStatus{VenueOrderID: venueOrderID, Status: "NEW"}, nil
}

func (v *stubVenue) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	v.cancelled = append(v.cancelled, venueOrderID)
	return nil
}

func (v *stubVenue) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return nil, nil
}

func (v *stubVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return nil, nil
}

type testEnv struct {
	store    *gormstore.Store
	venue    *stubVenue
	pipeline *Pipeline
	events   []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := gormstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertStrategy(context.Background(), &storemodel.StrategyModel{
		ConnectionID: 1, Name: "t", Symbol: "BTCUSDT", Interval: "1h", Active: true,
	}))

	env := &testEnv{store: st, venue: &stubVenue{balance: 10000, price: 100}}
	bus := events.NewBus(nil)
	for _, typ := range []string{events.TypeTradeExecuted, events.TypePositionClosed, events.TypePortfolioUpdated} {
		typ := typ
		bus.Subscribe(typ, func(ctx context.Context, evt events.Event) {
			env.events = append(env.events, typ)
		})
	}
	riskCtl := risk.NewController(st, nil)
	env.pipeline = NewPipeline(st, env.venue, riskCtl, bus, nil, Config{ConnectionID: 1})
	return env
}

func buyDecision() *decision.TradingDecision {
	return &decision.TradingDecision{
		Symbol:              "BTCUSDT",
		Action:              decision.ActionBuy,
		Confidence:          0.8,
		PositionSizePercent: 0.02,
		StopLossPercent:     0.05,
		TakeProfitPercent:   0.10,
	}
}

func TestExecuteBuySkipsWhenPortfolioOverheated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 在手仓位名义 60000，余额 10000：热度 12% 超过 10% 上限
	trade := &storemodel.TradeModel{StrategyID: 1, Symbol: "ETHUSDT", EntryPrice: 3000, Amount: 20}
	pos := &storemodel.PositionModel{Amount: 20, EntryPrice: 3000, CurrentPrice: 3000}
	require.NoError(t, env.store.OpenTrade(ctx, trade, pos))

	out := env.pipeline.Execute(ctx, 1, buyDecision())
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, SkipOverheated, out.SkipReason)
	assert.Empty(t, env.venue.placed, "过热时不得有任何下单动作")
}

func TestExecuteBuyOpensTradeWithBrackets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out := env.pipeline.Execute(ctx, 1, buyDecision())
	require.True(t, out.Executed(), "outcome: %s", out)

	// 余额 10000，fixed 1% = 100，决策 2% = 200，取小者 100，market 价 100 -> 1 枚
	assert.InDelta(t, 1.0, out.Amount, 1e-9)
	assert.Equal(t, 100.0, out.ExecutedPrice)
	assert.Zero(t, out.Slippage)

	pos, ok, err := env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, pos.Amount, 1e-9)
	require.NotNil(t, pos.StopLossPrice)
	require.NotNil(t, pos.TakeProfitPrice)
	assert.InDelta(t, 95.0, *pos.StopLossPrice, 1e-9)
	assert.InDelta(t, 110.0, *pos.TakeProfitPrice, 1e-9)

	assert.Contains(t, env.venue.placed, "oco:SELL")
	assert.Equal(t, []string{events.TypeTradeExecuted, events.TypePortfolioUpdated}, env.events)

	trade, err := env.store.GetTrade(ctx, out.TradeID)
	require.NoError(t, err)
	assert.Contains(t, string(trade.DecisionContext), "confidence")
}

func TestExecuteBuyOCOFallback(t *testing.T) {
	env := newTestEnv(t)
	env.venue.ocoErr = errors.New("oco not supported")
	ctx := context.Background()

	out := env.pipeline.Execute(ctx, 1, buyDecision())
	require.True(t, out.Executed(), "outcome: %s", out)

	assert.Contains(t, env.venue.placed, "stop_market:SELL")
	assert.Contains(t, env.venue.placed, "limit:SELL")
	assert.NotContains(t, env.venue.placed, "oco:SELL")

	pos, ok, err := env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, pos.StopOrderID)
	assert.NotNil(t, pos.TakeProfitOrderID)
}

func TestExecuteSellClosesPositionInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.pipeline.Execute(ctx, 1, buyDecision()).Executed())
	env.events = nil

	env.venue.price = 120
	out := env.pipeline.Execute(ctx, 1, &decision.TradingDecision{
		Symbol: "BTCUSDT", Action: decision.ActionSell, Confidence: 0.9,
	})
	require.True(t, out.Executed(), "outcome: %s", out)
	assert.InDelta(t, 20.0, out.RealizedPnL, 1e-9)

	_, ok, err := env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	// 事件顺序：closed -> executed -> updated
	assert.Equal(t, []string{
		events.TypePositionClosed,
		events.TypeTradeExecuted,
		events.TypePortfolioUpdated,
	}, env.events)

	// 平仓前撤掉保护腿
	assert.NotEmpty(t, env.venue.cancelled)
}

func TestExecuteSellWithoutPositionSkips(t *testing.T) {
	env := newTestEnv(t)
	out := env.pipeline.Execute(context.Background(), 1, &decision.TradingDecision{
		Symbol: "BTCUSDT", Action: decision.ActionSell, Confidence: 0.9,
	})
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, SkipNoPosition, out.SkipReason)
	assert.Empty(t, env.venue.placed)
}

func TestExecuteHoldSkips(t *testing.T) {
	env := newTestEnv(t)
	out := env.pipeline.Execute(context.Background(), 1, &decision.TradingDecision{
		Symbol: "BTCUSDT", Action: decision.ActionHold, Confidence: 0.9,
	})
	assert.Equal(t, SkipHold, out.SkipReason)
}

func TestExecuteLowConfidenceSkips(t *testing.T) {
	env := newTestEnv(t)
	d := buyDecision()
	d.Confidence = 0.3 // 默认下限 0.5
	out := env.pipeline.Execute(context.Background(), 1, d)
	assert.Equal(t, SkipLowConfidence, out.SkipReason)
	assert.Empty(t, env.venue.placed)
}

func TestExecuteRiskRewardGateBeforeEntry(t *testing.T) {
	env := newTestEnv(t)
	d := buyDecision()
	d.StopLossPercent = 0.05
	d.TakeProfitPercent = 0.08 // 1.6 < 2.0
	out := env.pipeline.Execute(context.Background(), 1, d)
	assert.Equal(t, SkipLowRiskReward, out.SkipReason)
	assert.Empty(t, env.venue.placed, "风险回报闸门必须在任何下单之前")
}

func TestExecuteCircuitOpenSkips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	riskCtl := risk.NewController(env.store, nil)
	require.NoError(t, riskCtl.TriggerCircuitBreaker(ctx, 1, "test trip"))

	out := env.pipeline.Execute(ctx, 1, buyDecision())
	assert.Equal(t, SkipCircuitOpen, out.SkipReason)
	assert.Empty(t, env.venue.placed)
}

func TestExecuteBelowMinNotionalSkips(t *testing.T) {
	env := newTestEnv(t)
	env.venue.balance = 500 // fixed 1% = 5 < 最小名义 10
	out := env.pipeline.Execute(context.Background(), 1, buyDecision())
	assert.Equal(t, SkipBelowMinNotional, out.SkipReason)
	assert.Empty(t, env.venue.placed)
}

func TestExecuteBuyVenueFailureMarksOrderFailed(t *testing.T) {
	env := newTestEnv(t)
	env.venue.marketErr = errors.New("exchange down")
	ctx := context.Background()

	out := env.pipeline.Execute(ctx, 1, buyDecision())
	assert.Equal(t, StatusFailed, out.Status)
	require.Error(t, out.Err)

	orders, err := env.store.ListPendingOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders, "失败订单不应停留在 pending")
}

func TestTrailingStopRatchetsUpOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.venue.ocoErr = errors.New("no oco") // 独立止损腿便于撤换
	require.True(t, env.pipeline.Execute(ctx, 1, buyDecision()).Executed())

	pos, ok, err := env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.store.UpdateTrailingStop(ctx, pos.ID, 100, pos.StopOrderID, pos.StopLossPrice))
	require.NoError(t, env.store.EnableTrailing(ctx, pos.ID, 0.03))

	// 新高 110：止损上移至 110*0.97 = 106.7
	env.venue.price = 110
	env.pipeline.UpdateTrailingStops(ctx, 1)
	pos, _, err = env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 110.0, pos.TrailingHighPrice)
	require.NotNil(t, pos.StopLossPrice)
	assert.InDelta(t, 106.7, *pos.StopLossPrice, 1e-9)

	// 回落 105：不动
	env.venue.price = 105
	env.pipeline.UpdateTrailingStops(ctx, 1)
	pos, _, err = env.store.GetOpenPosition(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 110.0, pos.TrailingHighPrice)
	assert.InDelta(t, 106.7, *pos.StopLossPrice, 1e-9)
}
