// Package stats 从成交记录推导回测统计。所有比率类指标只统计完结的
// 成交，数据耗尽的强平单独计入未完结持仓数，不参与胜率与回撤。
package stats

import (
	"encoding/json"
	"math"

	"stratlab/internal/engine"
)

const msPerHour = 3_600_000

// Summary 是一次回测的统计汇总。CompletedBalance 只含完结成交的盈亏，
// ActualBalance 是包含强平结算的真实余额。
type Summary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	TotalPnL      float64 `json:"total_pnl"`
	AveragePnL    float64 `json:"average_pnl"`
	MaxProfit     float64 `json:"max_profit"`
	MaxLoss       float64 `json:"max_loss"`
	AverageProfit float64 `json:"average_profit"`
	AverageLoss   float64 `json:"average_loss"`

	CompletedBalance   float64 `json:"completed_balance"`
	ActualBalance      float64 `json:"actual_balance"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	OpenPositions      int     `json:"open_positions"`

	MaxDrawdownPercent    float64 `json:"max_drawdown_percent"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	ProfitFactor          float64 `json:"profit_factor"`
	AvgTradeDurationHours float64 `json:"avg_trade_duration_hours"`
	MaxConsecutiveWins    int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses  int     `json:"max_consecutive_losses"`
}

// MarshalJSON 把无亏损时的无穷大盈亏比序列化为 null，
// 其余字段按默认规则输出。
func (s Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	out := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(s)}
	if !math.IsInf(s.ProfitFactor, 0) && !math.IsNaN(s.ProfitFactor) {
		pf := s.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}

// BalancePoint 是一笔完结成交落袋后的余额轨迹点。
type BalancePoint struct {
	Timestamp     int64   `json:"timestamp"`
	Balance       float64 `json:"balance"`
	PnL           float64 `json:"pnl"`
	CumulativePnL float64 `json:"cumulative_pnl"`
}

// Compute 汇总全部统计指标。trades 按平仓顺序排列，
// actualBalance 传入引擎结算后的最终余额。
func Compute(initialBalance, actualBalance float64, trades []engine.Trade) Summary {
	completed := completedTrades(trades)

	out := Summary{
		OpenPositions:    len(trades) - len(completed),
		CompletedBalance: initialBalance,
		ActualBalance:    actualBalance,
	}
	if len(completed) == 0 {
		return out
	}

	var totalPnL, grossProfit, grossLoss, sumProfit, sumLoss, sumDuration float64
	maxProfit, maxLoss := completed[0].PnL, completed[0].PnL
	for _, t := range completed {
		totalPnL += t.PnL
		if t.PnL > 0 {
			out.WinningTrades++
			sumProfit += t.PnL
			grossProfit += t.PnL
		} else {
			out.LosingTrades++
			sumLoss += t.PnL
		}
		if t.PnL < 0 {
			grossLoss += -t.PnL
		}
		if t.PnL > maxProfit {
			maxProfit = t.PnL
		}
		if t.PnL < maxLoss {
			maxLoss = t.PnL
		}
		sumDuration += float64(t.ExitTime-t.EntryTime) / msPerHour
	}

	n := float64(len(completed))
	out.TotalTrades = len(completed)
	out.WinRate = float64(out.WinningTrades) / n * 100
	out.TotalPnL = totalPnL
	out.AveragePnL = totalPnL / n
	out.MaxProfit = maxProfit
	out.MaxLoss = maxLoss
	out.AvgTradeDurationHours = sumDuration / n
	if out.WinningTrades > 0 {
		out.AverageProfit = sumProfit / float64(out.WinningTrades)
	}
	if out.LosingTrades > 0 {
		out.AverageLoss = sumLoss / float64(out.LosingTrades)
	}

	out.CompletedBalance = initialBalance + totalPnL
	if initialBalance > 0 {
		out.TotalReturnPercent = (out.CompletedBalance - initialBalance) / initialBalance * 100
	}

	if grossLoss > 0 {
		out.ProfitFactor = grossProfit / grossLoss
	} else {
		out.ProfitFactor = math.Inf(1)
	}

	out.SharpeRatio = sharpeRatio(completed)
	out.MaxDrawdownPercent = maxDrawdownPercent(initialBalance, completed)
	out.MaxConsecutiveWins = maxConsecutive(completed, true)
	out.MaxConsecutiveLosses = maxConsecutive(completed, false)
	return out
}

// BalanceHistory 返回逐笔完结成交后的余额轨迹。
func BalanceHistory(initialBalance float64, trades []engine.Trade) []BalancePoint {
	completed := completedTrades(trades)
	if len(completed) == 0 {
		return nil
	}

	points := make([]BalancePoint, 0, len(completed))
	balance, cumulative := initialBalance, 0.0
	for _, t := range completed {
		balance += t.PnL
		cumulative += t.PnL
		points = append(points, BalancePoint{
			Timestamp:     t.ExitTime,
			Balance:       balance,
			PnL:           t.PnL,
			CumulativePnL: cumulative,
		})
	}
	return points
}

func completedTrades(trades []engine.Trade) []engine.Trade {
	out := make([]engine.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Reason.Completed() {
			out = append(out, t)
		}
	}
	return out
}

// sharpeRatio 是简化夏普: 单笔收益率的均值除以样本标准差。
// 少于两笔或标准差为零时返回 0。
func sharpeRatio(completed []engine.Trade) float64 {
	if len(completed) < 2 {
		return 0
	}
	n := float64(len(completed))

	var mean float64
	for _, t := range completed {
		mean += t.PnLPercent / 100
	}
	mean /= n

	var variance float64
	for _, t := range completed {
		d := t.PnLPercent/100 - mean
		variance += d * d
	}
	std := math.Sqrt(variance / (n - 1))
	if std <= 0 {
		return 0
	}
	return mean / std
}

// maxDrawdownPercent 在 初始余额 + 逐笔结算余额 的序列上找最大回撤。
func maxDrawdownPercent(initialBalance float64, completed []engine.Trade) float64 {
	peak, balance, maxDD := initialBalance, initialBalance, 0.0
	for _, t := range completed {
		balance += t.PnL
		if balance > peak {
			peak = balance
		}
		if peak > 0 {
			if dd := (peak - balance) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func maxConsecutive(completed []engine.Trade, wins bool) int {
	best, current := 0, 0
	for _, t := range completed {
		isWin := t.PnL > 0
		if isWin == wins {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return best
}
