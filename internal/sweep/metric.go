package sweep

import (
	"fmt"
	"math"
	"strings"

	"stratlab/internal/stats"
)

const (
	MetricTotalPnL     = "total_pnl"
	MetricReturnPct    = "return_pct"
	MetricWinRate      = "win_rate"
	MetricProfitFactor = "profit_factor"
	MetricSharpe       = "sharpe_ratio"
	MetricMaxDrawdown  = "max_drawdown"
)

// 无亏损时利润因子无上界，截断后参与排序。
const profitFactorCap = 1e9

// ParseMetric 归一化排序指标，空值取 total_pnl。
func ParseMetric(s string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(s))
	if m == "" {
		return MetricTotalPnL, nil
	}
	switch m {
	case MetricTotalPnL, MetricReturnPct, MetricWinRate, MetricProfitFactor, MetricSharpe, MetricMaxDrawdown:
		return m, nil
	}
	return "", fmt.Errorf("不支持的排序指标: %s", s)
}

// metricScore 把摘要折算成越大越优的分数。
func metricScore(metric string, sum stats.Summary) float64 {
	switch metric {
	case MetricReturnPct:
		return sum.TotalReturnPercent
	case MetricWinRate:
		return sum.WinRate
	case MetricProfitFactor:
		if math.IsInf(sum.ProfitFactor, 1) {
			return profitFactorCap
		}
		if math.IsNaN(sum.ProfitFactor) {
			return 0
		}
		return math.Min(sum.ProfitFactor, profitFactorCap)
	case MetricSharpe:
		return sum.SharpeRatio
	case MetricMaxDrawdown:
		return -sum.MaxDrawdownPercent
	default:
		return sum.TotalPnL
	}
}
