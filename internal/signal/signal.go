// Package signal 提供开仓信号评估器。评估器是历史 K 线的纯函数，
// 每次调用全量重算指标，不做跨 tick 缓存。
package signal

import (
	"fmt"

	"stratlab/internal/market"
)

// 评估器类型的封闭集合。
const (
	TypeImmediate        = "immediate"
	TypeManual           = "manual"
	TypeTrendMomentum    = "trend_momentum"
	TypeVolatilityBounce = "volatility_bounce"
	TypeMomentumTrend    = "momentum_trend"
)

// 手动触发方式。
const (
	TriggerPriceDrop = "price_drop"
	TriggerPriceRise = "price_rise"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

// Evaluator 在每根分析 K 线上判定是否开仓。
// history 的最后一个元素即当前分析 K 线。
type Evaluator interface {
	ShouldEnter(current market.Candle, history []market.Candle) bool
}

// Spec 描述评估器的构造参数。Params 携带指标类评估器的周期等数值参数。
type Spec struct {
	Type     string
	Side     string
	Trigger  string
	Percent  float64
	Lookback int
	Params   map[string]float64
}

func (s Spec) param(key string, def float64) float64 {
	if v, ok := s.Params[key]; ok && v > 0 {
		return v
	}
	return def
}

func (s Spec) short() bool {
	return s.Side == SideShort
}

// New 按 Spec 构造评估器。未知类型或非法参数在此处失败，
// 回测循环内不再出现配置类错误。
func New(spec Spec) (Evaluator, error) {
	if spec.Side != SideLong && spec.Side != SideShort {
		return nil, fmt.Errorf("signal: side must be long or short, got %q", spec.Side)
	}
	switch spec.Type {
	case TypeImmediate:
		return immediateEvaluator{}, nil
	case TypeManual:
		return newManualEvaluator(spec)
	case TypeTrendMomentum:
		return newTrendMomentum(spec), nil
	case TypeVolatilityBounce:
		return newVolatilityBounce(spec), nil
	case TypeMomentumTrend:
		return newMomentumTrend(spec), nil
	default:
		return nil, fmt.Errorf("signal: unknown entry type %q", spec.Type)
	}
}

// closeSeries 拆出收盘价序列。
func closeSeries(history []market.Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close
	}
	return out
}

// ohlcSeries 拆出高低收三列。
func ohlcSeries(history []market.Candle) (high, low, closes []float64) {
	high = make([]float64, len(history))
	low = make([]float64, len(history))
	closes = make([]float64, len(history))
	for i, c := range history {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}
	return high, low, closes
}
