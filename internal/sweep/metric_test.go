package sweep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/stats"
)

func TestParseMetricNormalizes(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricTotalPnL, m)

	m, err = ParseMetric("  Win_Rate ")
	require.NoError(t, err)
	assert.Equal(t, MetricWinRate, m)

	for _, known := range []string{
		MetricTotalPnL, MetricReturnPct, MetricWinRate,
		MetricProfitFactor, MetricSharpe, MetricMaxDrawdown,
	} {
		m, err = ParseMetric(known)
		require.NoError(t, err)
		assert.Equal(t, known, m)
	}

	_, err = ParseMetric("alpha")
	assert.ErrorContains(t, err, "不支持的排序指标")
}

func TestMetricScore(t *testing.T) {
	sum := stats.Summary{
		TotalPnL:           42.5,
		TotalReturnPercent: 4.25,
		WinRate:            66.7,
		ProfitFactor:       1.8,
		SharpeRatio:        0.9,
		MaxDrawdownPercent: 12.5,
	}

	assert.Equal(t, 42.5, metricScore(MetricTotalPnL, sum))
	assert.Equal(t, 4.25, metricScore(MetricReturnPct, sum))
	assert.Equal(t, 66.7, metricScore(MetricWinRate, sum))
	assert.Equal(t, 1.8, metricScore(MetricProfitFactor, sum))
	assert.Equal(t, 0.9, metricScore(MetricSharpe, sum))
	// 回撤越小越优，折算成分数后取负。
	assert.Equal(t, -12.5, metricScore(MetricMaxDrawdown, sum))
}

func TestMetricScoreProfitFactorBounds(t *testing.T) {
	sum := stats.Summary{ProfitFactor: math.Inf(1)}
	assert.Equal(t, profitFactorCap, metricScore(MetricProfitFactor, sum))

	sum.ProfitFactor = math.NaN()
	assert.Equal(t, 0.0, metricScore(MetricProfitFactor, sum))

	sum.ProfitFactor = 5e12
	assert.Equal(t, profitFactorCap, metricScore(MetricProfitFactor, sum))
}
