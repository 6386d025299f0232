package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/engine"
	"stratlab/internal/stats"
	"stratlab/internal/store"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := NewLibrary(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func sampleConfig(symbol string) engine.Config {
	cfg := engine.Config{Symbol: symbol, Side: engine.SideLong, Leverage: 3}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewLibraryValidation(t *testing.T) {
	_, err := NewLibrary("  ")
	assert.ErrorContains(t, err, "empty")

	_, err = NewLibraryFromDB(nil)
	assert.Error(t, err)
}

func TestStrategySaveAndGet(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()
	cfg := sampleConfig("BTCUSDT")

	err := lib.SaveStrategy(ctx, store.StrategyRecord{
		Name:        "grid-long",
		Description: "低杠杆网格",
		Config:      cfg,
	})
	require.NoError(t, err)

	got, err := lib.GetStrategy(ctx, "grid-long")
	require.NoError(t, err)
	assert.Equal(t, "grid-long", got.Name)
	assert.Equal(t, "低杠杆网格", got.Description)
	assert.Equal(t, cfg, got.Config)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	assert.ErrorContains(t, lib.SaveStrategy(ctx, store.StrategyRecord{}), "策略名不能为空")

	_, err = lib.GetStrategy(ctx, "missing")
	assert.ErrorContains(t, err, "不存在")
}

func TestStrategyUpsertKeepsSingleRow(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{
		Name:   "grid-long",
		Config: sampleConfig("BTCUSDT"),
	}))

	updated := sampleConfig("ETHUSDT")
	updated.Leverage = 8
	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{
		Name:        "grid-long",
		Description: "改为 ETH",
		Config:      updated,
	}))

	list, err := lib.ListStrategies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "改为 ETH", list[0].Description)
	assert.Equal(t, "ETHUSDT", list[0].Config.Symbol)
	assert.Equal(t, 8, list[0].Config.Leverage)
}

func TestStrategyListOrdersByName(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{Name: "zeta", Config: sampleConfig("BTCUSDT")}))
	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{Name: "alpha", Config: sampleConfig("BTCUSDT")}))

	list, err := lib.ListStrategies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestStrategyDelete(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{Name: "gone", Config: sampleConfig("BTCUSDT")}))
	require.NoError(t, lib.DeleteStrategy(ctx, "gone"))

	_, err := lib.GetStrategy(ctx, "gone")
	assert.ErrorContains(t, err, "不存在")
	assert.ErrorContains(t, lib.DeleteStrategy(ctx, "gone"), "不存在")
}

func TestStrategyConfigForRunner(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()
	cfg := sampleConfig("BTCUSDT")

	require.NoError(t, lib.SaveStrategy(ctx, store.StrategyRecord{Name: "ref", Config: cfg}))

	got, err := lib.StrategyConfig(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSweepLifecycle(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	base := sampleConfig("BTCUSDT")
	rec := store.SweepRecord{
		ID:                 "sweep-1",
		Symbol:             "BTCUSDT",
		Status:             "pending",
		Metric:             "total_pnl",
		ExecutionTimeframe: "1m",
		StrategyTimeframe:  "15m",
		StartTS:            1_700_000_040_000,
		EndTS:              1_700_006_040_000,
		Base:               base,
		Grid: map[string][]any{
			"leverage":            {2, 5},
			"take_profit.percent": {1.5, 3.0},
		},
		Total: 4,
	}
	require.NoError(t, lib.InsertSweep(ctx, rec))

	got, err := lib.GetSweep(ctx, "sweep-1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "total_pnl", got.Metric)
	assert.Equal(t, base, got.Base)
	assert.Equal(t, 4, got.Total)
	// JSON 回读后网格候选值统一为 float64。
	assert.Equal(t, []any{2.0, 5.0}, got.Grid["leverage"])

	require.NoError(t, lib.UpdateSweepStatus(ctx, "sweep-1", "running", "加载数据"))
	require.NoError(t, lib.UpdateSweepProgress(ctx, "sweep-1", 2))
	got, err = lib.GetSweep(ctx, "sweep-1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, 2, got.Completed)

	results := []store.SweepResultRecord{
		{
			Rank:   1,
			Params: map[string]any{"leverage": 5.0, "take_profit.percent": 3.0},
			Score:  120.5,
			Summary: stats.Summary{
				TotalTrades:        12,
				WinRate:            75,
				TotalPnL:           120.5,
				TotalReturnPercent: 12.05,
				MaxDrawdownPercent: 3.4,
				ActualBalance:      1120.5,
			},
		},
		{
			Rank:   2,
			Params: map[string]any{"leverage": 2.0, "take_profit.percent": 1.5},
			Score:  64.2,
			Summary: stats.Summary{
				TotalTrades:        20,
				WinRate:            60,
				TotalPnL:           64.2,
				TotalReturnPercent: 6.42,
				ActualBalance:      1064.2,
			},
		},
	}
	require.NoError(t, lib.InsertSweepResults(ctx, "sweep-1", results))

	listed, err := lib.ListSweepResults(ctx, "sweep-1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].Rank)
	assert.Equal(t, 120.5, listed[0].Score)
	assert.Equal(t, 5.0, listed[0].Params["leverage"])
	assert.Equal(t, 12, listed[0].Summary.TotalTrades)
	assert.Equal(t, 2, listed[1].Rank)

	require.NoError(t, lib.CompleteSweep(ctx, "sweep-1", "done", 4, "完成"))
	got, err = lib.GetSweep(ctx, "sweep-1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
	assert.Equal(t, 4, got.Completed)
	assert.Equal(t, "完成", got.Message)
	assert.False(t, got.CompletedAt.IsZero())

	sweeps, err := lib.ListSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "sweep-1", sweeps[0].ID)
}

func TestGetSweepMissing(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.GetSweep(context.Background(), "nope")
	assert.ErrorContains(t, err, "不存在")
}
