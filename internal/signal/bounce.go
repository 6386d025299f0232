package signal

import (
	"github.com/markcheno/go-talib"

	"stratlab/internal/market"
)

// 布林带触碰允许 1% 容差，低波动定义为 ATR 低于近 20 期均值的 80%。
const (
	bbTouchTolerance = 0.01
	lowVolFactor     = 0.8
	atrAverageWindow = 20
)

// volatilityBounce 在低波动环境下做布林带边缘的反弹:
// 多头贴下轨、空头贴上轨。
type volatilityBounce struct {
	short     bool
	bbPeriod  int
	bbStd     float64
	atrPeriod int
}

func newVolatilityBounce(spec Spec) *volatilityBounce {
	return &volatilityBounce{
		short:     spec.short(),
		bbPeriod:  int(spec.param("bb_period", 20)),
		bbStd:     spec.param("bb_std", 2),
		atrPeriod: int(spec.param("atr_period", 14)),
	}
}

func (v *volatilityBounce) ShouldEnter(current market.Candle, history []market.Candle) bool {
	need := v.bbPeriod
	if v.atrPeriod+1 > need {
		need = v.atrPeriod + 1
	}
	if len(history) < need {
		return false
	}

	high, low, closes := ohlcSeries(history)
	upper, _, lower := talib.BBands(closes, v.bbPeriod, v.bbStd, v.bbStd, talib.SMA)
	atr := talib.Atr(high, low, closes, v.atrPeriod)

	last := len(closes) - 1
	if upper[last] <= 0 || lower[last] <= 0 || atr[last] <= 0 {
		return false
	}

	avgATR := tailMean(atr, atrAverageWindow)
	if avgATR <= 0 {
		return false
	}
	lowVolatility := atr[last] < avgATR*lowVolFactor

	price := current.Close
	if v.short {
		touchingUpper := price >= upper[last]*(1-bbTouchTolerance)
		return touchingUpper && lowVolatility
	}
	touchingLower := price <= lower[last]*(1+bbTouchTolerance)
	return touchingLower && lowVolatility
}

// tailMean 取序列尾部 window 个值中非零项的均值，零值视为未成熟段。
func tailMean(values []float64, window int) float64 {
	if len(values) == 0 {
		return 0
	}
	start := len(values) - window
	if start < 0 {
		start = 0
	}
	sum, count := 0.0, 0
	for _, v := range values[start:] {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
