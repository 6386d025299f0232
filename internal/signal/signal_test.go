package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/market"
)

func candle(i int, closePrice, spread float64) market.Candle {
	return market.Candle{
		OpenTime: int64(i) * 60_000,
		Open:     closePrice,
		High:     closePrice + spread,
		Low:      closePrice - spread,
		Close:    closePrice,
		Volume:   1,
	}
}

func flatSeries(n int, price, spread float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = candle(i, price, spread)
	}
	return out
}

func rampSeries(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = candle(i, start+float64(i)*step, 0.5)
	}
	return out
}

func lastOf(history []market.Candle) market.Candle {
	return history[len(history)-1]
}

func TestNewRejectsUnknownSide(t *testing.T) {
	_, err := New(Spec{Type: TypeImmediate, Side: "sideways"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(Spec{Type: "astrology", Side: SideLong})
	assert.Error(t, err)
}

func TestNewRejectsBadManualSpec(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
	}{
		{"unknown trigger", Spec{Type: TypeManual, Side: SideLong, Trigger: "volume_spike", Percent: 2, Lookback: 20}},
		{"zero percent", Spec{Type: TypeManual, Side: SideLong, Trigger: TriggerPriceDrop, Lookback: 20}},
		{"zero lookback", Spec{Type: TypeManual, Side: SideLong, Trigger: TriggerPriceDrop, Percent: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.spec)
			assert.Error(t, err)
		})
	}
}

func TestImmediateAlwaysEnters(t *testing.T) {
	eval, err := New(Spec{Type: TypeImmediate, Side: SideLong})
	require.NoError(t, err)
	assert.True(t, eval.ShouldEnter(market.Candle{}, nil))
}

func TestManualPriceDropLong(t *testing.T) {
	eval, err := New(Spec{Type: TypeManual, Side: SideLong, Trigger: TriggerPriceDrop, Percent: 2, Lookback: 20})
	require.NoError(t, err)

	history := flatSeries(20, 100, 0)
	history[19] = candle(19, 98, 0) // 2% below the 20-bar high

	assert.True(t, eval.ShouldEnter(lastOf(history), history))

	history[19] = candle(19, 98.5, 0) // only 1.5% down
	assert.False(t, eval.ShouldEnter(lastOf(history), history))

	short := flatSeries(5, 100, 0)
	assert.False(t, eval.ShouldEnter(lastOf(short), short))
}

func TestManualPriceRiseShort(t *testing.T) {
	eval, err := New(Spec{Type: TypeManual, Side: SideShort, Trigger: TriggerPriceRise, Percent: 2, Lookback: 20})
	require.NoError(t, err)

	history := flatSeries(20, 100, 0)
	history[19] = candle(19, 102.1, 0) // 2.1% above the 20-bar low

	assert.True(t, eval.ShouldEnter(lastOf(history), history))

	history[19] = candle(19, 101, 0)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestManualMismatchedTriggerNeverFires(t *testing.T) {
	longRise, err := New(Spec{Type: TypeManual, Side: SideLong, Trigger: TriggerPriceRise, Percent: 2, Lookback: 20})
	require.NoError(t, err)
	shortDrop, err := New(Spec{Type: TypeManual, Side: SideShort, Trigger: TriggerPriceDrop, Percent: 2, Lookback: 20})
	require.NoError(t, err)

	rise := flatSeries(20, 100, 0)
	rise[19] = candle(19, 110, 0)
	assert.False(t, longRise.ShouldEnter(lastOf(rise), rise))

	drop := flatSeries(20, 100, 0)
	drop[19] = candle(19, 90, 0)
	assert.False(t, shortDrop.ShouldEnter(lastOf(drop), drop))
}

// 长期上行后急跌: 快 EMA 仍在慢 EMA 上方而 RSI 被砸进超卖区。
func pullbackAfterRally() []market.Candle {
	out := rampSeries(250, 100, 0.4)
	price := out[249].Close
	for i := 250; i < 260; i++ {
		price -= 4
		out = append(out, candle(i, price, 0.5))
	}
	return out
}

func TestTrendMomentumLongAfterPullback(t *testing.T) {
	eval, err := New(Spec{Type: TypeTrendMomentum, Side: SideLong})
	require.NoError(t, err)

	history := pullbackAfterRally()
	assert.True(t, eval.ShouldEnter(lastOf(history), history))
}

func TestTrendMomentumNeedsFullWarmup(t *testing.T) {
	eval, err := New(Spec{Type: TypeTrendMomentum, Side: SideLong})
	require.NoError(t, err)

	history := rampSeries(100, 100, 0.4)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestTrendMomentumRejectsOverheatedTrend(t *testing.T) {
	eval, err := New(Spec{Type: TypeTrendMomentum, Side: SideLong})
	require.NoError(t, err)

	// A clean uptrend keeps RSI pinned near 100, so no pullback entry.
	history := rampSeries(260, 100, 0.4)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestTrendMomentumShortMirrors(t *testing.T) {
	eval, err := New(Spec{Type: TypeTrendMomentum, Side: SideShort})
	require.NoError(t, err)

	// Downtrend with a sharp bounce: fast EMA below slow, RSI overbought.
	out := rampSeries(250, 300, -0.4)
	price := out[249].Close
	for i := 250; i < 260; i++ {
		price += 4
		out = append(out, candle(i, price, 0.5))
	}
	assert.True(t, eval.ShouldEnter(lastOf(out), out))
}

// 前段剧烈震荡、后段收敛: ATR 跌破其均值的 80%。
func calmAfterStorm() []market.Candle {
	out := make([]market.Candle, 60)
	for i := range out {
		spread := 3.0
		if i >= 40 {
			spread = 0.2
		}
		out[i] = candle(i, 100, spread)
	}
	return out
}

func TestVolatilityBounceInCalmMarket(t *testing.T) {
	long, err := New(Spec{Type: TypeVolatilityBounce, Side: SideLong})
	require.NoError(t, err)
	short, err := New(Spec{Type: TypeVolatilityBounce, Side: SideShort})
	require.NoError(t, err)

	history := calmAfterStorm()

	// Flat closes sit inside the 1% band tolerance on both edges.
	assert.True(t, long.ShouldEnter(lastOf(history), history))
	assert.True(t, short.ShouldEnter(lastOf(history), history))
}

func TestVolatilityBounceRejectsHighVolatility(t *testing.T) {
	eval, err := New(Spec{Type: TypeVolatilityBounce, Side: SideLong})
	require.NoError(t, err)

	history := flatSeries(60, 100, 3)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestVolatilityBounceNeedsWarmup(t *testing.T) {
	eval, err := New(Spec{Type: TypeVolatilityBounce, Side: SideLong})
	require.NoError(t, err)

	history := flatSeries(10, 100, 0.2)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

// 上升趋势内的短暂回踩: SuperTrend 保持多头方向，StochRSI 落到窗口底部。
func dipInUptrend() []market.Candle {
	out := rampSeries(117, 100, 1)
	price := out[116].Close
	for i := 117; i < 120; i++ {
		price -= 0.5
		out = append(out, candle(i, price, 0.5))
	}
	return out
}

func TestMomentumTrendLongOnDip(t *testing.T) {
	eval, err := New(Spec{Type: TypeMomentumTrend, Side: SideLong})
	require.NoError(t, err)

	history := dipInUptrend()
	assert.True(t, eval.ShouldEnter(lastOf(history), history))
}

func TestMomentumTrendShortNeedsDowntrend(t *testing.T) {
	eval, err := New(Spec{Type: TypeMomentumTrend, Side: SideShort})
	require.NoError(t, err)

	history := dipInUptrend()
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestMomentumTrendNeedsWarmup(t *testing.T) {
	eval, err := New(Spec{Type: TypeMomentumTrend, Side: SideLong})
	require.NoError(t, err)

	history := rampSeries(20, 100, 1)
	assert.False(t, eval.ShouldEnter(lastOf(history), history))
}

func TestSupertrendDirectionFollowsTrend(t *testing.T) {
	high, low, closes := ohlcSeries(rampSeries(60, 100, 1))
	direction := supertrendDirection(high, low, closes, 10, 3)

	assert.Equal(t, 0, direction[5], "warmup stays neutral")
	assert.Equal(t, 1, direction[len(direction)-1])

	high, low, closes = ohlcSeries(rampSeries(60, 300, -1))
	direction = supertrendDirection(high, low, closes, 10, 3)
	assert.Equal(t, -1, direction[len(direction)-1])
}
