package signal

import (
	"github.com/markcheno/go-talib"

	"stratlab/internal/market"
)

// trendMomentum 组合 EMA 趋势过滤与 RSI 回调:
// 多头要求 EMA 快线在慢线上方且 RSI < 40，空头取反且 RSI > 60。
type trendMomentum struct {
	short     bool
	emaShort  int
	emaLong   int
	rsiPeriod int
}

func newTrendMomentum(spec Spec) *trendMomentum {
	return &trendMomentum{
		short:     spec.short(),
		emaShort:  int(spec.param("ema_short", 50)),
		emaLong:   int(spec.param("ema_long", 200)),
		rsiPeriod: int(spec.param("rsi_period", 14)),
	}
}

func (t *trendMomentum) ShouldEnter(_ market.Candle, history []market.Candle) bool {
	need := t.emaLong
	if t.rsiPeriod+1 > need {
		need = t.rsiPeriod + 1
	}
	if len(history) < need {
		return false
	}

	closes := closeSeries(history)
	emaFast := talib.Ema(closes, t.emaShort)
	emaSlow := talib.Ema(closes, t.emaLong)
	rsi := talib.Rsi(closes, t.rsiPeriod)

	last := len(closes) - 1
	fast, slow, momentum := emaFast[last], emaSlow[last], rsi[last]
	if fast <= 0 || slow <= 0 || momentum <= 0 {
		return false
	}

	if t.short {
		return fast < slow && momentum > 60
	}
	return fast > slow && momentum < 40
}
