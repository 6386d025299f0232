package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSeriesDropsInvalidRows(t *testing.T) {
	rows := []Candle{
		{OpenTime: 1000, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1},
		{OpenTime: 2000, Open: 10, High: 9, Low: 8, Close: 10, Volume: 1},  // high < open
		{OpenTime: 3000, Open: -1, High: 11, Low: 9, Close: 10, Volume: 1}, // 非正价格
		{OpenTime: 4000, Open: 10, High: 11, Low: 9, Close: 10.2, Volume: 1},
	}

	cleaned, report := NormalizeSeries(rows)
	require.Len(t, cleaned, 2)
	assert.Equal(t, 2, report.DroppedInvalid)
	assert.Equal(t, int64(1000), report.FirstOpenTime)
	assert.Equal(t, int64(4000), report.LastOpenTime)
}

func TestNormalizeSeriesDedupesAndSorts(t *testing.T) {
	rows := []Candle{
		{OpenTime: 3000, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{OpenTime: 1000, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{OpenTime: 3000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 2},
	}

	cleaned, report := NormalizeSeries(rows)
	require.Len(t, cleaned, 2)
	assert.Equal(t, 1, report.DuplicateTimestamps)
	assert.Equal(t, int64(1000), cleaned[0].OpenTime)
	// 重复时间戳保留后出现的一行。
	assert.Equal(t, 11.0, cleaned[1].Close)
}

func TestNormalizeSeriesCountsGapsAndAnomalies(t *testing.T) {
	rows := []Candle{
		{OpenTime: 0, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{OpenTime: 60_000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{OpenTime: 120_000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		// 缺口：跳过三根
		{OpenTime: 360_000, Open: 100, High: 300, Low: 99, Close: 250, Volume: 1}, // 价格跳变 > 50%
		{OpenTime: 420_000, Open: 250, High: 260, Low: 240, Close: 255, Volume: 1},
	}

	_, report := NormalizeSeries(rows)
	assert.Equal(t, 1, report.DataGaps)
	assert.Equal(t, 1, report.PriceAnomalies)
	assert.Equal(t, 0, report.DroppedInvalid)
}
