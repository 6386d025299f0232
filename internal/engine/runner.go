package engine

import (
	"fmt"

	"stratlab/internal/market"
)

// 入场信号至少需要的热身 K 线数，与回看窗口取较大者。
const minWarmupBars = 20

// Result 是一次完整回放的输出。Actions 与 Trades 的顺序即产生顺序，
// 相同输入与配置下逐字节一致。
type Result struct {
	Actions        []Action `json:"actions"`
	Trades         []Trade  `json:"trades"`
	InitialBalance float64  `json:"initial_balance"`
	FinalBalance   float64  `json:"final_balance"`
}

// RunSingle 在单一周期上回放 K 线: 从热身偏移开始逐根推进，
// 历史窗口包含当前 K 线，每根 K 线都视为新的分析 K 线。
// 数据耗尽时以末根收盘价强平，成交原因标记 end_of_data。
func RunSingle(eng *Engine, candles []market.Candle) (*Result, error) {
	if eng == nil {
		return nil, fmt.Errorf("runner: engine is nil")
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("runner: candle series is empty")
	}

	res := &Result{InitialBalance: eng.Account().Initial}
	for i := eng.warmupOffset(); i < len(candles); i++ {
		tick := Tick{
			Row:            candles[i],
			History:        candles[:i+1],
			NewStrategyBar: true,
		}
		res.Actions = append(res.Actions, eng.ProcessTick(tick)...)
	}

	last := candles[len(candles)-1]
	eng.CloseOpenPosition(last.Close, last.OpenTime, CloseEndOfData)

	res.Trades = eng.Trades()
	res.FinalBalance = eng.Account().Balance
	return res, nil
}

// RunDual 以快周期驱动、慢周期分析的方式回放。每个执行 tick 先解析
// 已收盘的慢周期历史，入场只在新慢周期 K 线出现时评估; 出场与保证金
// 检查在每个执行 tick 上进行。
func RunDual(eng *Engine, execution []market.Candle, strategyTF market.Timeframe) (*Result, error) {
	if eng == nil {
		return nil, fmt.Errorf("runner: engine is nil")
	}
	if len(execution) == 0 {
		return nil, fmt.Errorf("runner: candle series is empty")
	}

	strategy := market.Aggregate(execution, strategyTF)

	res := &Result{InitialBalance: eng.Account().Initial}
	lastBar := int64(-1)
	for _, row := range execution {
		idx := market.ResolveClosedBar(row.OpenTime, strategy, strategyTF)
		tick := Tick{Row: row}
		if idx >= 0 {
			tick.History = strategy[:idx+1]
			if barTS := strategy[idx].OpenTime; barTS > lastBar {
				tick.NewStrategyBar = true
				lastBar = barTS
			}
		}
		res.Actions = append(res.Actions, eng.ProcessTick(tick)...)
	}

	last := execution[len(execution)-1]
	eng.CloseOpenPosition(last.Close, last.OpenTime, CloseEndOfData)

	res.Trades = eng.Trades()
	res.FinalBalance = eng.Account().Balance
	return res, nil
}

// warmupOffset 返回单周期回放跳过的热身 K 线数。
func (e *Engine) warmupOffset() int {
	if lb := e.cfg.Entry.Lookback; lb > minWarmupBars {
		return lb
	}
	return minWarmupBars
}
