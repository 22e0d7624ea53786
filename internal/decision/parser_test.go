package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedDecision(t *testing.T) {
	raw := "分析如下。\n```json\n" + `{
  "symbol": "btcusdt",
  "action": "buy",
  "confidence": 0.75,
  "position_size_percent": 0.01,
  "stop_loss_percent": 0.03,
  "take_profit_percent": 0.08,
  "reasoning": "趋势向上",
  "risk_factors": ["宏观事件"]
}` + "\n```\n"

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, ActionBuy, d.Action)
	assert.InDelta(t, 0.75, d.Confidence, 1e-9)
	assert.InDelta(t, 0.01, d.PositionSizePercent, 1e-9)
	assert.Equal(t, []string{"宏观事件"}, d.RiskFactors)
}

func TestParseNormalizesSlashSymbol(t *testing.T) {
	d, err := Parse(`{"symbol":"btc/usdt","action":"buy","confidence":0.8}`)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", d.Symbol)
}

func TestParseNormalizesSynonyms(t *testing.T) {
	cases := map[string]Action{
		"long":  ActionBuy,
		"exit":  ActionSell,
		"wait":  ActionHold,
		"HOLD":  ActionHold,
		"short": ActionSell,
	}
	for in, want := range cases {
		d, err := Parse(`{"symbol":"ETHUSDT","action":"` + in + `","confidence":0.8}`)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.Action, in)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	_, err := Parse(`{"symbol":"BTCUSDT","confidence":0.8}`)
	assert.ErrorContains(t, err, "action")

	_, err = Parse(`{"symbol":"BTCUSDT","action":"BUY"}`)
	assert.ErrorContains(t, err, "confidence")

	_, err = Parse("完全没有 JSON 的回复")
	assert.Error(t, err)
}

func TestParseRejectsOutOfRange(t *testing.T) {
	_, err := Parse(`{"action":"BUY","confidence":1.5}`)
	assert.Error(t, err)

	_, err = Parse(`{"action":"BUY","confidence":0.8,"position_size_percent":0.05}`)
	assert.Error(t, err)

	_, err = Parse(`{"action":"defenestrate","confidence":0.8}`)
	assert.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	d := &TradingDecision{Action: ActionBuy, Confidence: 0.9, StopLossPercent: 0.11}
	assert.Error(t, Validate(d))
	d.StopLossPercent = 0.10
	assert.NoError(t, Validate(d))
	d.TakeProfitPercent = 0.25
	assert.Error(t, Validate(d))
}
