package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne      = decimal.NewFromInt(1)
	decimalEps  = decimal.NewFromFloat(1e-8)
	decimalZero = decimal.Zero
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }
func decimalLT(a, b float64) bool  { return decimalCompare(a, b) < 0 }
func decimalGT(a, b float64) bool  { return decimalCompare(a, b) > 0 }

// profitTarget 返回均价按盈利方向偏移 pct (小数) 后的触发价。
func profitTarget(side Side, avg, pct float64) float64 {
	if avg <= 0 {
		return 0
	}
	base := decFromFloat(avg)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	if side == SideShort {
		factor = decOne.Sub(pctDec)
	} else {
		factor = decOne.Add(pctDec)
	}
	return decToFloat(base.Mul(factor))
}

// lossTarget 返回均价按亏损方向偏移 pct (小数) 后的触发价。
func lossTarget(side Side, avg, pct float64) float64 {
	if avg <= 0 {
		return 0
	}
	base := decFromFloat(avg)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	if side == SideShort {
		factor = decOne.Add(pctDec)
	} else {
		factor = decOne.Sub(pctDec)
	}
	return decToFloat(base.Mul(factor))
}

// profitTargetHit 报告价格是否达到盈利触发价。
func profitTargetHit(side Side, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	if side == SideShort {
		return decimalLTE(price, target)
	}
	return decimalGTE(price, target)
}

// lossTargetHit 报告价格是否达到亏损触发价。
func lossTargetHit(side Side, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	if side == SideShort {
		return decimalGTE(price, target)
	}
	return decimalLTE(price, target)
}

// trailingAnchorFor 按回撤距离 pct (小数) 从当前价推出移动锚点。
func trailingAnchorFor(side Side, price, pct float64) float64 {
	if price <= 0 || pct <= 0 {
		return 0
	}
	base := decFromFloat(price)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	if side == SideShort {
		factor = decOne.Add(pctDec)
	} else {
		factor = decOne.Sub(pctDec)
	}
	return decToFloat(base.Mul(factor))
}

// shouldAdvanceAnchor 报告新锚点是否优于当前锚点。
// 多头只上移、空头只下移，带 epsilon 防止浮点抖动来回改写。
func shouldAdvanceAnchor(side Side, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if side == SideShort {
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	}
	return cand.Cmp(curr.Add(decimalEps)) > 0
}

// anchorBreached 报告价格是否触及移动锚点。
func anchorBreached(side Side, price, anchor float64) bool {
	if anchor <= 0 || price <= 0 {
		return false
	}
	if side == SideShort {
		return decimalGTE(price, anchor)
	}
	return decimalLTE(price, anchor)
}
