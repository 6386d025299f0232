package signal

import (
	"github.com/markcheno/go-talib"

	"stratlab/internal/market"
)

// momentumTrend 以 SuperTrend 方向做趋势过滤，StochRSI 的 %K
// 超卖 (<20) 做多、超买 (>80) 做空。
type momentumTrend struct {
	short    bool
	stPeriod int
	stMult   float64
	stochK   int
	stochD   int
}

func newMomentumTrend(spec Spec) *momentumTrend {
	return &momentumTrend{
		short:    spec.short(),
		stPeriod: int(spec.param("supertrend_period", 10)),
		stMult:   spec.param("supertrend_multiplier", 3),
		stochK:   int(spec.param("stoch_rsi_k", 14)),
		stochD:   int(spec.param("stoch_rsi_d", 3)),
	}
}

func (m *momentumTrend) ShouldEnter(_ market.Candle, history []market.Candle) bool {
	need := m.stPeriod + 1
	if stochNeed := m.stochK*2 + m.stochD; stochNeed > need {
		need = stochNeed
	}
	if len(history) < need {
		return false
	}

	high, low, closes := ohlcSeries(history)
	direction := supertrendDirection(high, low, closes, m.stPeriod, m.stMult)
	fastK, _ := talib.StochRsi(closes, m.stochK, m.stochK, m.stochD, talib.SMA)

	last := len(closes) - 1
	dir := direction[last]
	k := fastK[last]

	if m.short {
		return dir == -1 && k > 80
	}
	return dir == 1 && k < 20
}

// supertrendDirection 基于 ATR 通道计算 SuperTrend 方向序列:
// 1 为多头趋势、-1 为空头趋势、0 为未成熟段。
func supertrendDirection(high, low, closes []float64, period int, multiplier float64) []int {
	n := len(closes)
	direction := make([]int, n)
	if n <= period {
		return direction
	}

	atr := talib.Atr(high, low, closes, period)
	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)

	for i := period; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		upper := mid + multiplier*atr[i]
		lower := mid - multiplier*atr[i]

		if i == period {
			finalUpper[i] = upper
			finalLower[i] = lower
			if closes[i] > upper {
				direction[i] = 1
			} else {
				direction[i] = -1
			}
			continue
		}

		// 通道只能向价格方向收紧，突破前值后重置
		if upper < finalUpper[i-1] || closes[i-1] > finalUpper[i-1] {
			finalUpper[i] = upper
		} else {
			finalUpper[i] = finalUpper[i-1]
		}
		if lower > finalLower[i-1] || closes[i-1] < finalLower[i-1] {
			finalLower[i] = lower
		} else {
			finalLower[i] = finalLower[i-1]
		}

		switch {
		case closes[i] > finalUpper[i-1]:
			direction[i] = 1
		case closes[i] < finalLower[i-1]:
			direction[i] = -1
		default:
			direction[i] = direction[i-1]
		}
	}
	return direction
}
