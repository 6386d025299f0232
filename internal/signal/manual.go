package signal

import (
	"fmt"

	"stratlab/internal/market"
)

// immediateEvaluator 在第一个可入场的 tick 上无条件开仓。
type immediateEvaluator struct{}

func (immediateEvaluator) ShouldEnter(market.Candle, []market.Candle) bool {
	return true
}

// manualEvaluator 按近期极值的偏离幅度触发:
// 多头等价格从近期高点回落、空头等价格从近期低点上冲。
type manualEvaluator struct {
	short    bool
	trigger  string
	percent  float64
	lookback int
}

func newManualEvaluator(spec Spec) (*manualEvaluator, error) {
	switch spec.Trigger {
	case TriggerPriceDrop, TriggerPriceRise:
	default:
		return nil, fmt.Errorf("signal: unknown manual trigger %q", spec.Trigger)
	}
	if spec.Percent <= 0 {
		return nil, fmt.Errorf("signal: manual entry requires percent > 0")
	}
	if spec.Lookback < 1 {
		return nil, fmt.Errorf("signal: manual entry requires lookback >= 1")
	}
	return &manualEvaluator{
		short:    spec.short(),
		trigger:  spec.Trigger,
		percent:  spec.Percent / 100,
		lookback: spec.Lookback,
	}, nil
}

func (m *manualEvaluator) ShouldEnter(current market.Candle, history []market.Candle) bool {
	if len(history) < m.lookback {
		return false
	}
	recent := history[len(history)-m.lookback:]
	recentHigh, recentLow := recent[0].High, recent[0].Low
	for _, c := range recent[1:] {
		if c.High > recentHigh {
			recentHigh = c.High
		}
		if c.Low < recentLow {
			recentLow = c.Low
		}
	}

	price := current.Close
	if m.trigger == TriggerPriceDrop && !m.short {
		if recentHigh <= 0 {
			return false
		}
		return (recentHigh-price)/recentHigh >= m.percent
	}
	if m.trigger == TriggerPriceRise && m.short {
		if recentLow <= 0 {
			return false
		}
		return (price-recentLow)/recentLow >= m.percent
	}
	return false
}
