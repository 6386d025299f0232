package stats

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/engine"
)

const hourMS = int64(3_600_000)

func tradeWith(pnl, pnlPercent float64, entry, exit int64, reason engine.CloseReason) engine.Trade {
	return engine.Trade{
		Symbol:     "BTCUSDT",
		Side:       engine.SideLong,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		EntryTime:  entry,
		ExitTime:   exit,
		Reason:     reason,
	}
}

func sampleTrades() []engine.Trade {
	return []engine.Trade{
		tradeWith(10, 10, 0, 1*hourMS, engine.CloseTakeProfit),
		tradeWith(20, 5, 1*hourMS, 3*hourMS, engine.CloseTakeProfit),
		tradeWith(-15, -7.5, 3*hourMS, 6*hourMS, engine.CloseStopLoss),
		tradeWith(5, 2.5, 6*hourMS, 8*hourMS, engine.CloseTakeProfit),
		tradeWith(99, 9, 8*hourMS, 9*hourMS, engine.CloseEndOfData),
	}
}

func TestComputeExcludesForcedClose(t *testing.T) {
	s := Compute(1000, 1119, sampleTrades())

	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 3, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.Equal(t, 1, s.OpenPositions)
	assert.InDelta(t, 75.0, s.WinRate, 1e-12)

	assert.InDelta(t, 20.0, s.TotalPnL, 1e-12)
	assert.InDelta(t, 5.0, s.AveragePnL, 1e-12)
	assert.Equal(t, 20.0, s.MaxProfit)
	assert.Equal(t, -15.0, s.MaxLoss)
	assert.InDelta(t, 35.0/3, s.AverageProfit, 1e-9)
	assert.Equal(t, -15.0, s.AverageLoss)

	// The forced close keeps its pnl in the real balance only.
	assert.InDelta(t, 1020.0, s.CompletedBalance, 1e-12)
	assert.Equal(t, 1119.0, s.ActualBalance)
	assert.InDelta(t, 2.0, s.TotalReturnPercent, 1e-12)
}

func TestComputeAdvancedMetrics(t *testing.T) {
	s := Compute(1000, 1119, sampleTrades())

	assert.InDelta(t, 35.0/15, s.ProfitFactor, 1e-9)

	// Balance walk 1000,1010,1030,1015,1020: worst dip is 15 off the 1030 peak.
	assert.InDelta(t, 15.0/1030*100, s.MaxDrawdownPercent, 1e-9)

	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 1, s.MaxConsecutiveLosses)

	// Durations 1h, 2h, 3h, 2h.
	assert.InDelta(t, 2.0, s.AvgTradeDurationHours, 1e-9)

	// mean 0.025 over sample std of {0.10, 0.05, -0.075, 0.025}.
	assert.InDelta(t, 0.339683, s.SharpeRatio, 1e-5)
}

func TestComputeNoCompletedTrades(t *testing.T) {
	s := Compute(1000, 987, []engine.Trade{
		tradeWith(-13, -1.3, 0, hourMS, engine.CloseEndOfData),
	})

	assert.Equal(t, 0, s.TotalTrades)
	assert.Equal(t, 1, s.OpenPositions)
	assert.Equal(t, 0.0, s.WinRate)
	assert.Equal(t, 0.0, s.ProfitFactor)
	assert.Equal(t, 0.0, s.SharpeRatio)
	assert.Equal(t, 1000.0, s.CompletedBalance)
	assert.Equal(t, 987.0, s.ActualBalance)
}

func TestComputeProfitFactorWithoutLosses(t *testing.T) {
	trades := []engine.Trade{
		tradeWith(10, 1, 0, hourMS, engine.CloseTakeProfit),
		tradeWith(12, 1.2, hourMS, 2*hourMS, engine.CloseTakeProfit),
	}
	s := Compute(1000, 1022, trades)

	assert.True(t, math.IsInf(s.ProfitFactor, 1))
	assert.Equal(t, 0.0, s.MaxDrawdownPercent)
	assert.Equal(t, 2, s.MaxConsecutiveWins)
}

func TestSummaryJSONHandlesInfinity(t *testing.T) {
	infinite := Compute(1000, 1022, []engine.Trade{
		tradeWith(10, 1, 0, hourMS, engine.CloseTakeProfit),
		tradeWith(12, 1.2, hourMS, 2*hourMS, engine.CloseTakeProfit),
	})
	raw, err := json.Marshal(infinite)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"profit_factor":null`)

	finite := Compute(1000, 1119, sampleTrades())
	raw, err = json.Marshal(finite)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.InDelta(t, 35.0/15, decoded["profit_factor"].(float64), 1e-9)
	assert.InDelta(t, 75.0, decoded["win_rate"].(float64), 1e-12)
}

func TestBalanceHistoryWalk(t *testing.T) {
	points := BalanceHistory(1000, sampleTrades())
	require.Len(t, points, 4)

	assert.Equal(t, int64(1*hourMS), points[0].Timestamp)
	assert.InDelta(t, 1010.0, points[0].Balance, 1e-12)
	assert.InDelta(t, 1030.0, points[1].Balance, 1e-12)
	assert.InDelta(t, 1015.0, points[2].Balance, 1e-12)
	assert.InDelta(t, 1020.0, points[3].Balance, 1e-12)
	assert.InDelta(t, 20.0, points[3].CumulativePnL, 1e-12)

	assert.Nil(t, BalanceHistory(1000, nil))
}

func TestSharpeRatioDegenerateCases(t *testing.T) {
	one := []engine.Trade{tradeWith(10, 1, 0, hourMS, engine.CloseTakeProfit)}
	assert.Equal(t, 0.0, Compute(1000, 1010, one).SharpeRatio)

	same := []engine.Trade{
		tradeWith(10, 1, 0, hourMS, engine.CloseTakeProfit),
		tradeWith(10, 1, hourMS, 2*hourMS, engine.CloseTakeProfit),
	}
	assert.Equal(t, 0.0, Compute(1000, 1020, same).SharpeRatio)
}
