package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/market"
)

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Symbol:       "BTCUSDT",
		StartBalance: 1000,
		Entry:        EntryConfig{Type: "immediate"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	return eng
}

func TestOrderQuantityPercentSizing(t *testing.T) {
	eng := newTestEngine(t, nil)

	// 10% of 1000 = 100 margin, 1x leverage, so one unit at price 100.
	assert.InDelta(t, 1.0, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityLeverageScalesSize(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) { c.Leverage = 5 })

	// Same 100 margin now controls 500 of position value.
	assert.InDelta(t, 5.0, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityFixedAmountWins(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.FirstOrder = FirstOrderConfig{AmountPercent: 10, AmountFixed: 250, RiskPercent: 5}
	})

	assert.InDelta(t, 2.5, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityRiskPercent(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.FirstOrder = FirstOrderConfig{RiskPercent: 2}
	})

	// Risk 2% of 1000 = 20, stop-loss distance 10% => 200 of position value.
	assert.InDelta(t, 2.0, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityRiskPercentWithoutStopLoss(t *testing.T) {
	off := false
	eng := newTestEngine(t, func(c *Config) {
		c.FirstOrder = FirstOrderConfig{RiskPercent: 2}
		c.StopLoss.Enabled = &off
	})

	// No stop distance to scale by, risk amount is used directly.
	assert.InDelta(t, 0.2, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityRefusedBeyondDrawdownCeiling(t *testing.T) {
	eng := newTestEngine(t, nil)
	eng.Account().Balance = 750
	// Peak stays at 1000: drawdown 25% >= 20% ceiling.

	assert.Equal(t, 0.0, eng.orderQuantity(100, false, 0))
}

func TestOrderQuantityMarginCap(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.FirstOrder = FirstOrderConfig{AmountFixed: 5000}
	})

	// 5000 notional needs 5000 margin at 1x, capped to 90% of balance.
	assert.InDelta(t, 9.0, eng.orderQuantity(100, false, 0), 1e-12)
}

func TestOrderQuantityMartingale(t *testing.T) {
	cases := []struct {
		name        string
		progression Progression
		level       int
		want        float64
	}{
		{"exponential level 1", ProgressionExponential, 1, 2},
		{"exponential level 3", ProgressionExponential, 3, 8},
		{"linear level 3", ProgressionLinear, 3, 4},
		{"fibonacci level 2", ProgressionFibonacci, 2, 2},
		{"fibonacci level 5", ProgressionFibonacci, 5, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t, func(c *Config) {
				c.StartBalance = 100000 // keep the margin cap out of the way
				c.FirstOrder = FirstOrderConfig{AmountFixed: 100}
				c.DCA.Enabled = true
				c.DCA.Martingale = MartingaleConfig{Enabled: true, Multiplier: 2, Progression: tc.progression}
			})
			base := 100.0 / 100.0
			assert.InDelta(t, base*tc.want, eng.orderQuantity(100, true, tc.level), 1e-9)
		})
	}
}

func TestProgressionMultiplierFibonacciTable(t *testing.T) {
	want := []float64{1, 1, 2, 3, 5, 8}
	for level, expected := range want {
		assert.Equal(t, expected, fibonacciMultiplier(level), "level %d", level)
	}
}

func TestDynamicStepFixedPercent(t *testing.T) {
	eng := newTestEngine(t, nil)
	assert.InDelta(t, 0.015, eng.dynamicStep(0, nil), 1e-12)
	assert.InDelta(t, 0.015, eng.dynamicStep(3, nil), 1e-12)
}

func TestDynamicStepWidensPerLevel(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.DCA.StepPrice = StepPriceConfig{Type: StepDynamicPercent, Value: 2, DynamicMultiplier: 1.5}
	})

	assert.InDelta(t, 0.02, eng.dynamicStep(0, nil), 1e-12)
	assert.InDelta(t, 0.03, eng.dynamicStep(1, nil), 1e-12)
	assert.InDelta(t, 0.045, eng.dynamicStep(2, nil), 1e-12)
}

func TestDynamicStepATRFallsBackOnShortHistory(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.DCA.StepPrice = StepPriceConfig{Type: StepATRBased, Value: 1.5}
	})

	history := []market.Candle{{Open: 100, High: 101, Low: 99, Close: 100}}
	assert.InDelta(t, 0.015, eng.dynamicStep(0, history), 1e-12)
}

func TestDynamicStepATRUsesVolatility(t *testing.T) {
	eng := newTestEngine(t, func(c *Config) {
		c.DCA.StepPrice = StepPriceConfig{Type: StepATRBased, Value: 1.5, ATRMultiplier: 2}
	})

	// Constant 2-point true range on a flat close keeps ATR(14) at 2.
	history := make([]market.Candle, 40)
	for i := range history {
		history[i] = market.Candle{
			OpenTime: int64(i) * 60000,
			Open:     100,
			High:     101,
			Low:      99,
			Close:    100,
			Volume:   1,
		}
	}

	// fraction = 2/100, scaled by atr_multiplier 2.
	assert.InDelta(t, 0.04, eng.dynamicStep(0, history), 1e-9)
}
