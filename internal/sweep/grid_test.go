package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/engine"
)

func TestExpandGridOrderedCombos(t *testing.T) {
	combos, err := expandGrid(map[string][]any{
		"b": {10, 20},
		"a": {1, 2},
	})
	require.NoError(t, err)

	want := []map[string]any{
		{"a": 1, "b": 10},
		{"a": 1, "b": 20},
		{"a": 2, "b": 10},
		{"a": 2, "b": 20},
	}
	assert.Equal(t, want, combos)
}

func TestExpandGridErrors(t *testing.T) {
	_, err := expandGrid(nil)
	assert.ErrorContains(t, err, "参数网格不能为空")

	_, err = expandGrid(map[string][]any{"x": {}})
	assert.ErrorContains(t, err, "参数 x 没有候选值")

	_, err = expandGrid(map[string][]any{"  ": {1}})
	assert.ErrorContains(t, err, "参数路径不能为空")
}

func TestApplyOverridesWritesNestedPaths(t *testing.T) {
	base := engine.Config{Symbol: "BTCUSDT"}
	base.ApplyDefaults()

	cfg, err := applyOverrides(base, map[string]any{
		"leverage":                           7,
		"take_profit.percent":                2.5,
		"entry_conditions.lookback":          45,
		"dca.martingale.multiplier":          3.0,
		"risk_management.max_open_positions": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Leverage)
	assert.Equal(t, 2.5, cfg.TakeProfit.Percent)
	assert.Equal(t, 45, cfg.Entry.Lookback)
	assert.Equal(t, 3.0, cfg.DCA.Martingale.Multiplier)
	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions)
	// 未覆盖的字段保持基准值。
	assert.Equal(t, base.StartBalance, cfg.StartBalance)
	assert.Equal(t, base.Symbol, cfg.Symbol)
}

func TestApplyOverridesPathErrors(t *testing.T) {
	base := engine.Config{}
	base.ApplyDefaults()

	_, err := applyOverrides(base, map[string]any{"bogus": 1})
	assert.ErrorContains(t, err, "未知参数 bogus")

	_, err = applyOverrides(base, map[string]any{"take_profit.bogus": 1})
	assert.ErrorContains(t, err, "未知参数 take_profit.bogus")

	_, err = applyOverrides(base, map[string]any{"leverage.deep": 1})
	assert.ErrorContains(t, err, "参数路径 leverage 不是对象")

	_, err = applyOverrides(base, map[string]any{"nope.x": 1})
	assert.ErrorContains(t, err, "未知参数路径 nope")
}

func TestApplyOverridesRejectsInvalidResult(t *testing.T) {
	base := engine.Config{}
	base.ApplyDefaults()

	_, err := applyOverrides(base, map[string]any{"commission_rate": 1.5})
	assert.ErrorContains(t, err, "commission_rate")

	_, err = applyOverrides(base, map[string]any{"order_type": "sideways"})
	assert.ErrorContains(t, err, "order_type")
}

func TestComboLabelSortsKeys(t *testing.T) {
	label := comboLabel(map[string]any{"b": 2, "a": 1.5})
	assert.Equal(t, "a=1.5,b=2", label)
	assert.Equal(t, "", comboLabel(nil))
}
