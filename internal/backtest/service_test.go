package backtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/decision"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

func newTestService(t *testing.T, source CandleSource, decider Decider) (*Service, *gormstore.Store) {
	t.Helper()
	st, err := gormstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, NewEngine(source, decider), 2), st
}

func waitForTerminal(t *testing.T, svc *Service, id int64) *storemodel.BacktestModel {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("回测 %d 超时未结束", id)
		case <-time.After(20 * time.Millisecond):
		}
		run, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		switch run.Status {
		case storemodel.BacktestStatusCompleted, storemodel.BacktestStatusFailed, storemodel.BacktestStatusCancelled:
			return run
		}
	}
}

func TestSubmitPersistsCompletedRun(t *testing.T) {
	candles := flatThenRising(110, 100, 120)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {
			Action:              decision.ActionBuy,
			Confidence:          0.9,
			PositionSizePercent: 0.10,
			StopLossPercent:     0.05,
			TakeProfitPercent:   0.50,
		},
		9: {Action: decision.ActionSell, Confidence: 0.9},
	}}
	svc, st := newTestService(t, staticSource(candles), decider)
	ctx := context.Background()

	row, err := svc.Submit(ctx, runParams(candles, 1))
	require.NoError(t, err)
	require.NotZero(t, row.ID)
	assert.Equal(t, storemodel.BacktestStatusPending, row.Status)

	run := waitForTerminal(t, svc, row.ID)
	assert.Equal(t, storemodel.BacktestStatusCompleted, run.Status)
	assert.InDelta(t, 10200.0, run.FinalBalance, 1e-9)
	assert.Equal(t, 1, run.TotalTrades)
	assert.Equal(t, 100.0, run.WinRate)
	assert.NotNil(t, run.CompletedAtUnix)

	trades, err := st.ListBacktestTrades(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 200.0, trades[0].PnL, 1e-9)
	assert.Equal(t, "decision", trades[0].ExitReason)
}

func TestSubmitInsufficientDataMarksFailed(t *testing.T) {
	candles := flatThenRising(30, 100, 100)
	svc, _ := newTestService(t, staticSource(candles), nil)

	row, err := svc.Submit(context.Background(), Params{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		Start:          candles[0].OpenTime,
		End:            candles[len(candles)-1].OpenTime,
		InitialBalance: 10000,
	})
	require.NoError(t, err)

	run := waitForTerminal(t, svc, row.ID)
	assert.Equal(t, storemodel.BacktestStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "backtest data error")
}

func TestDeleteCascades(t *testing.T) {
	candles := flatThenRising(110, 100, 120)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {Action: decision.ActionBuy, Confidence: 0.9, PositionSizePercent: 0.10, StopLossPercent: 0.05, TakeProfitPercent: 0.50},
	}}
	svc, st := newTestService(t, staticSource(candles), decider)
	ctx := context.Background()

	row, err := svc.Submit(ctx, runParams(candles, 1))
	require.NoError(t, err)
	waitForTerminal(t, svc, row.ID)

	require.NoError(t, svc.Delete(ctx, row.ID))
	_, err = svc.Get(ctx, row.ID)
	assert.Error(t, err)
	trades, err := st.ListBacktestTrades(ctx, row.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestWriteReportRendersEquityCurve(t *testing.T) {
	candles := flatThenRising(110, 100, 120)
	decider := &scriptedDecider{decisions: map[int]*decision.TradingDecision{
		0: {Action: decision.ActionBuy, Confidence: 0.9, PositionSizePercent: 0.10, StopLossPercent: 0.05, TakeProfitPercent: 0.50},
		9: {Action: decision.ActionSell, Confidence: 0.9},
	}}
	svc, _ := newTestService(t, staticSource(candles), decider)
	ctx := context.Background()

	row, err := svc.Submit(ctx, runParams(candles, 1))
	require.NoError(t, err)
	waitForTerminal(t, svc, row.ID)

	var buf strings.Builder
	require.NoError(t, svc.WriteReport(ctx, row.ID, &buf))
	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "BTCUSDT")
}
