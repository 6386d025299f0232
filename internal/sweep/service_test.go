package sweep

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/engine"
	"stratlab/internal/market"
	"stratlab/internal/store"
	"stratlab/internal/store/sqlite"
)

// 1m 网格上的起点，对应 2023-11-14T22:14:00Z。
const (
	sweepBaseTime = int64(1_700_000_040_000)
	sweepStep     = int64(60_000)
)

// memoryCandles 用内存切片充当 K 线仓库，并记录读盘次数。
type memoryCandles struct {
	mu    sync.Mutex
	rows  []market.Candle
	calls int
}

func (m *memoryCandles) RangeCandles(_ context.Context, _, _ string, start, end int64) ([]market.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []market.Candle
	for _, c := range m.rows {
		if c.OpenTime >= start && c.OpenTime <= end {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryCandles) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// risingCandles 生成单边缓慢上涨的 1m K 线，保证做多组合都能稳定止盈。
func risingCandles(start int64, n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := 100 + 0.2*float64(i)
		out = append(out, market.Candle{
			OpenTime:  start + int64(i)*sweepStep,
			CloseTime: start + int64(i+1)*sweepStep - 1,
			Open:      open,
			High:      open + 0.3,
			Low:       open - 0.1,
			Close:     open + 0.2,
			Volume:    10,
			Trades:    20,
		})
	}
	return out
}

func newSweepLibrary(t *testing.T) *sqlite.Library {
	t.Helper()
	lib, err := sqlite.NewLibrary(filepath.Join(t.TempDir(), "sweeps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func sweepBaseConfig() engine.Config {
	return engine.Config{
		Side:       engine.SideLong,
		Leverage:   2,
		TakeProfit: engine.ExitRule{Percent: 1.0},
		StopLoss:   engine.ExitRule{Percent: 50},
		Entry:      engine.EntryConfig{Type: "immediate", Lookback: 20},
	}
}

func waitSweepStatus(t *testing.T, lib *sqlite.Library, id, status string) store.SweepRecord {
	t.Helper()
	var rec store.SweepRecord
	require.Eventually(t, func() bool {
		got, err := lib.GetSweep(context.Background(), id)
		if err != nil {
			return false
		}
		rec = got
		return got.Status == status
	}, 10*time.Second, 25*time.Millisecond)
	return rec
}

func TestNewServiceValidation(t *testing.T) {
	lib := newSweepLibrary(t)

	_, err := NewService(ServiceConfig{Results: lib})
	assert.ErrorContains(t, err, "candle loader 不能为空")

	_, err = NewService(ServiceConfig{Candles: &memoryCandles{}})
	assert.ErrorContains(t, err, "sweep 存储不能为空")
}

func TestSubmitValidation(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 10)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: loader, Results: lib, MaxCombos: 3})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	good := Request{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "1m",
		StartTS:            sweepBaseTime,
		EndTS:              sweepBaseTime + 100*sweepStep,
		Config:             &cfg,
		Grid:               map[string][]any{"leverage": {2, 3}},
	}

	bad := good
	bad.Symbol = "  "
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "symbol 不能为空")

	bad = good
	bad.Config = nil
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "config 不能为空")

	bad = good
	bad.Metric = "alpha"
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "不支持的排序指标")

	bad = good
	bad.ExecutionTimeframe = "7m"
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "execution timeframe 无效")

	bad = good
	bad.ExecutionTimeframe = "15m"
	bad.StrategyTimeframe = "1m"
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "不能快于")

	bad = good
	bad.EndTS = bad.StartTS
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "start/end 非法")

	bad = good
	bad.Grid = nil
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "参数网格不能为空")

	bad = good
	bad.Grid = map[string][]any{"leverage": {2, 3}, "take_profit.percent": {1.0, 2.0}}
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "超出上限")

	bad = good
	bad.Grid = map[string][]any{"order_type": {"sideways"}}
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "组合 order_type=sideways")

	bad = good
	bad.Grid = map[string][]any{"bogus": {1}}
	_, err = svc.Submit(bad)
	assert.ErrorContains(t, err, "未知参数 bogus")
}

func TestSubmitEvaluatesGridAndRanksResults(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 161)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: loader, Results: lib, MaxParallel: 2})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	rec, err := svc.Submit(Request{
		Symbol:             "btcusdt",
		ExecutionTimeframe: "1m",
		StartTS:            sweepBaseTime + 40*sweepStep,
		EndTS:              sweepBaseTime + 160*sweepStep,
		Config:             &cfg,
		Grid: map[string][]any{
			"leverage":            {2, 3},
			"take_profit.percent": {1.0, 2.0},
		},
		Metric: "total_pnl",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "BTCUSDT", rec.Symbol)
	assert.Equal(t, MetricTotalPnL, rec.Metric)
	assert.Equal(t, 4, rec.Total)

	done := waitSweepStatus(t, lib, rec.ID, StatusDone)
	assert.Equal(t, 4, done.Completed)
	assert.Equal(t, "完成", done.Message)
	assert.False(t, done.CompletedAt.IsZero())

	results, err := lib.ListSweepResults(context.Background(), rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.Greater(t, r.Summary.TotalTrades, 0)
		assert.Contains(t, r.Params, "leverage")
		assert.Contains(t, r.Params, "take_profit.percent")
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
	}
}

func TestSubmitReportsPartialFailures(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 161)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: loader, Results: lib})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	rec, err := svc.Submit(Request{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "1m",
		StartTS:            sweepBaseTime + 40*sweepStep,
		EndTS:              sweepBaseTime + 160*sweepStep,
		Config:             &cfg,
		// 第二个组合的回看窗口远超可用数据量，评估必然失败。
		Grid: map[string][]any{"entry_conditions.lookback": {20, 5000}},
	})
	require.NoError(t, err)

	done := waitSweepStatus(t, lib, rec.ID, StatusDone)
	assert.Equal(t, 2, done.Completed)
	assert.Contains(t, done.Message, "1 个组合失败")

	results, err := lib.ListSweepResults(context.Background(), rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 20.0, results[0].Params["entry_conditions.lookback"])
}

func TestSubmitFailsWhenAllCombosFail(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 161)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: loader, Results: lib})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	rec, err := svc.Submit(Request{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "1m",
		StartTS:            sweepBaseTime + 40*sweepStep,
		EndTS:              sweepBaseTime + 160*sweepStep,
		Config:             &cfg,
		Grid:               map[string][]any{"entry_conditions.lookback": {5000}},
	})
	require.NoError(t, err)

	failed := waitSweepStatus(t, lib, rec.ID, StatusFailed)
	assert.Contains(t, failed.Message, "全部组合评估失败")
}

func TestSubmitFailsWithoutData(t *testing.T) {
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: &memoryCandles{}, Results: lib})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	rec, err := svc.Submit(Request{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "1m",
		StartTS:            sweepBaseTime + 40*sweepStep,
		EndTS:              sweepBaseTime + 160*sweepStep,
		Config:             &cfg,
		Grid:               map[string][]any{"leverage": {2}},
	})
	require.NoError(t, err)

	failed := waitSweepStatus(t, lib, rec.ID, StatusFailed)
	assert.Contains(t, failed.Message, "无数据")
}

func TestSubmitDualTimeframe(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 161)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{Candles: loader, Results: lib})
	require.NoError(t, err)

	cfg := sweepBaseConfig()
	rec, err := svc.Submit(Request{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "1m",
		StrategyTimeframe:  "15m",
		StartTS:            sweepBaseTime + 40*sweepStep,
		EndTS:              sweepBaseTime + 160*sweepStep,
		Config:             &cfg,
		Grid:               map[string][]any{"leverage": {2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "15m", rec.StrategyTimeframe)

	waitSweepStatus(t, lib, rec.ID, StatusDone)

	results, err := lib.ListSweepResults(context.Background(), rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Summary.TotalTrades, 0)
}

func TestSubmitReusesCandleCache(t *testing.T) {
	loader := &memoryCandles{rows: risingCandles(sweepBaseTime, 161)}
	lib := newSweepLibrary(t)
	svc, err := NewService(ServiceConfig{
		Candles: loader,
		Results: lib,
		Cache:   store.NewMemoryCandleCache(),
	})
	require.NoError(t, err)

	submit := func() store.SweepRecord {
		cfg := sweepBaseConfig()
		rec, err := svc.Submit(Request{
			Symbol:             "BTCUSDT",
			ExecutionTimeframe: "1m",
			StartTS:            sweepBaseTime + 40*sweepStep,
			EndTS:              sweepBaseTime + 160*sweepStep,
			Config:             &cfg,
			Grid:               map[string][]any{"leverage": {2}},
		})
		require.NoError(t, err)
		return rec
	}

	first := submit()
	waitSweepStatus(t, lib, first.ID, StatusDone)
	require.Equal(t, 1, loader.callCount())

	second := submit()
	waitSweepStatus(t, lib, second.ID, StatusDone)
	assert.Equal(t, 1, loader.callCount())
}
