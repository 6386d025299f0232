package engine

import (
	"github.com/markcheno/go-talib"

	"stratlab/internal/market"
)

// 保留 10% 余额作为缓冲，单笔保证金最多占用 90%。
const maxMarginShare = 0.9

const atrPeriod = 14

// orderQuantity 计算下单数量 (币数)。马丁倍投作用于数量而非美元金额。
// 回撤超限时拒绝开仓，返回 0。
func (e *Engine) orderQuantity(price float64, isAddOn bool, level int) float64 {
	if price <= 0 {
		return 0
	}
	if e.account.DrawdownFraction() >= e.cfg.Risk.MaxDrawdownPercent/100 {
		return 0
	}

	// base 是仓位价值而非保证金: 10 USD 在 10x 杠杆下只占用 1 USD 保证金。
	var base float64
	switch {
	case e.cfg.FirstOrder.AmountFixed > 0:
		base = e.cfg.FirstOrder.AmountFixed
	case e.cfg.FirstOrder.RiskPercent > 0:
		riskAmount := e.account.Balance * e.cfg.FirstOrder.RiskPercent / 100
		if e.cfg.StopLoss.On() && e.cfg.StopLoss.Percent > 0 {
			base = riskAmount / (e.cfg.StopLoss.Percent / 100)
		} else {
			base = riskAmount
		}
	default:
		margin := e.account.Balance * e.cfg.FirstOrder.AmountPercent / 100
		base = margin * float64(e.account.Leverage)
	}

	quantity := base / price
	if isAddOn && e.cfg.DCA.Martingale.Enabled {
		quantity *= progressionMultiplier(e.cfg.DCA.Martingale.Progression, e.cfg.DCA.Martingale.Multiplier, level)
	}

	// 校验保证金占用而非仓位全额
	required := quantity * price / float64(e.account.Leverage)
	if required > e.account.Balance*maxMarginShare {
		maxValue := e.account.Balance * maxMarginShare * float64(e.account.Leverage)
		quantity = maxValue / price
	}
	return quantity
}

// progressionMultiplier 返回第 level 次加仓的数量倍数。
func progressionMultiplier(p Progression, multiplier float64, level int) float64 {
	switch p {
	case ProgressionLinear:
		return 1 + (multiplier-1)*float64(level)
	case ProgressionFibonacci:
		return fibonacciMultiplier(level)
	default:
		return powFloat(multiplier, level)
	}
}

func fibonacciMultiplier(level int) float64 {
	if level <= 1 {
		return 1
	}
	a, b := 1.0, 1.0
	for i := 0; i < level-1; i++ {
		a, b = b, a+b
	}
	return b
}

func powFloat(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// dynamicStep 返回第 level 次加仓要求的逆势幅度 (小数)。
// atr_based 在历史不足或 ATR 为零时退回固定步长。
func (e *Engine) dynamicStep(level int, history []market.Candle) float64 {
	base := e.cfg.DCA.StepPrice.Value / 100

	switch e.cfg.DCA.StepPrice.Type {
	case StepDynamicPercent:
		return base * powFloat(e.cfg.DCA.StepPrice.DynamicMultiplier, level)
	case StepATRBased:
		atr, last := atrOfHistory(history)
		if atr <= 0 || last <= 0 {
			return base
		}
		fraction := atr / last
		if e.cfg.DCA.Martingale.Enabled {
			return fraction * powFloat(e.cfg.DCA.Martingale.Multiplier, level)
		}
		atrMultiplier := e.cfg.DCA.StepPrice.ATRMultiplier
		if atrMultiplier <= 0 {
			atrMultiplier = 1.0
		}
		return fraction * atrMultiplier
	default:
		return base
	}
}

// atrOfHistory 返回最近一根 K 线的 ATR(14) 与收盘价。
func atrOfHistory(history []market.Candle) (atr, lastClose float64) {
	if len(history) < atrPeriod+1 {
		return 0, 0
	}
	high := make([]float64, len(history))
	low := make([]float64, len(history))
	closes := make([]float64, len(history))
	for i, c := range history {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}
	values := talib.Atr(high, low, closes, atrPeriod)
	if len(values) == 0 {
		return 0, 0
	}
	return values[len(values)-1], closes[len(closes)-1]
}
