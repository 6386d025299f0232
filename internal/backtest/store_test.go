package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/market"
)

// 1_700_000_040_000 = 2023-11-14T22:14:00Z，落在 1m 网格上。
const (
	baseOpenTime = int64(1_700_000_040_000)
	minuteMillis = int64(60_000)
)

func tf1m(t *testing.T) market.Timeframe {
	t.Helper()
	tf, err := market.ParseTimeframe("1m")
	require.NoError(t, err)
	return tf
}

// gridCandles 生成连续 1m K 线，价格以每根 +0.2 缓慢上行。
func gridCandles(start int64, n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := 100 + 0.2*float64(i)
		out = append(out, market.Candle{
			OpenTime:  start + int64(i)*minuteMillis,
			CloseTime: start + int64(i+1)*minuteMillis - 1,
			Open:      open,
			High:      open + 0.3,
			Low:       open - 0.1,
			Close:     open + 0.2,
			Volume:    10 + float64(i%5),
			Trades:    int64(20 + i),
		})
	}
	return out
}

func newCandleStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreInsertAndQueryCandles(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()

	candles := gridCandles(baseOpenTime, 10)
	n, err := s.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := s.QueryCandles(ctx, "BTCUSDT", "1m", baseOpenTime, baseOpenTime+9*minuteMillis, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, candles[0], got[0])
	assert.Equal(t, candles[9], got[9])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].OpenTime, got[i-1].OpenTime)
	}
}

func TestStoreUpsertOverwritesSameOpenTime(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()

	first := gridCandles(baseOpenTime, 1)
	_, err := s.InsertCandles(ctx, "BTCUSDT", "1m", first)
	require.NoError(t, err)

	updated := first[0]
	updated.Close = 123.45
	updated.Volume = 99
	_, err = s.InsertCandles(ctx, "BTCUSDT", "1m", []market.Candle{updated})
	require.NoError(t, err)

	got, err := s.RangeCandles(ctx, "BTCUSDT", "1m", baseOpenTime, baseOpenTime)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 123.45, got[0].Close)
	assert.Equal(t, 99.0, got[0].Volume)

	m, err := s.Manifest(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Rows)
}

func TestStoreManifestReflectsData(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()

	_, err := s.InsertCandles(ctx, "ethusdt", "1m", gridCandles(baseOpenTime, 10))
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "ethusdt", "1m")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", m.Symbol)
	assert.Equal(t, "1m", m.Timeframe)
	assert.Equal(t, baseOpenTime, m.MinTime)
	assert.Equal(t, baseOpenTime+9*minuteMillis, m.MaxTime)
	assert.Equal(t, int64(10), m.Rows)
	assert.Greater(t, m.LastSyncAt, int64(0))
	assert.NotEmpty(t, m.Path)
}

func TestStoreCheckIntegrityFindsGaps(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()
	tf := tf1m(t)

	head := gridCandles(baseOpenTime, 5)
	tail := gridCandles(baseOpenTime+8*minuteMillis, 2)
	_, err := s.InsertCandles(ctx, "BTCUSDT", "1m", append(head, tail...))
	require.NoError(t, err)

	end := baseOpenTime + 9*minuteMillis
	report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1m", tf, baseOpenTime, end)
	require.NoError(t, err)
	assert.False(t, report.Complete())
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(7), report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, baseOpenTime+5*minuteMillis, report.Gaps[0].From)
	assert.Equal(t, baseOpenTime+7*minuteMillis, report.Gaps[0].To)

	_, err = s.InsertCandles(ctx, "BTCUSDT", "1m", gridCandles(baseOpenTime+5*minuteMillis, 3))
	require.NoError(t, err)
	report, err = s.CheckIntegrity(ctx, "BTCUSDT", "1m", tf, baseOpenTime, end)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, int64(10), report.Present)
}

func TestStoreCheckIntegrityTrailingGap(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()
	tf := tf1m(t)

	_, err := s.InsertCandles(ctx, "BTCUSDT", "1m", gridCandles(baseOpenTime, 5))
	require.NoError(t, err)

	end := baseOpenTime + 9*minuteMillis
	report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1m", tf, baseOpenTime, end)
	require.NoError(t, err)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, baseOpenTime+5*minuteMillis, report.Gaps[0].From)
	assert.Equal(t, end, report.Gaps[0].To)
	assert.Equal(t, int64(5), report.Present)
}

func TestStoreQueryCandlesTailWindow(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()

	_, err := s.InsertCandles(ctx, "BTCUSDT", "1m", gridCandles(baseOpenTime, 10))
	require.NoError(t, err)

	// 两端缺省: 从尾部取 limit 条，升序返回。
	got, err := s.QueryCandles(ctx, "BTCUSDT", "1m", 0, 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, baseOpenTime+7*minuteMillis, got[0].OpenTime)
	assert.Equal(t, baseOpenTime+9*minuteMillis, got[2].OpenTime)

	// 只给 end: 取 end 之前的 limit 条。
	got, err = s.QueryCandles(ctx, "BTCUSDT", "1m", 0, baseOpenTime+4*minuteMillis, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, baseOpenTime+3*minuteMillis, got[0].OpenTime)
	assert.Equal(t, baseOpenTime+4*minuteMillis, got[1].OpenTime)
}

func TestStoreRangeCandlesValidation(t *testing.T) {
	s := newCandleStore(t)
	ctx := context.Background()

	_, err := s.RangeCandles(ctx, "BTCUSDT", "1m", 0, baseOpenTime)
	assert.Error(t, err)

	_, err = s.QueryCandles(ctx, "", "1m", baseOpenTime, baseOpenTime, 10)
	assert.ErrorContains(t, err, "不能为空")
}
