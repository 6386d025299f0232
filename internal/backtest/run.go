package backtest

import (
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/stats"
)

// 回测任务状态。done/failed 为终态。
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run 是一次回测任务的描述与汇总。Config 为归一化后的生效配置，
// 配合相同的 K 线区间可逐字节复现 Actions/Trades。
// TotalPnL/ReturnPct/WinRate/MaxDrawdownPct 与 Stats 同源，
// 平铺出来供列表页直接读取。
type Run struct {
	ID                 string        `json:"id"`
	Symbol             string        `json:"symbol"`
	Profile            string        `json:"profile"`
	Status             string        `json:"status"`
	StartTS            int64         `json:"start_ts"`
	EndTS              int64         `json:"end_ts"`
	ExecutionTimeframe string        `json:"execution_timeframe"`
	StrategyTimeframe  string        `json:"strategy_timeframe,omitempty"`
	InitialBalance     float64       `json:"initial_balance"`
	FinalBalance       float64       `json:"final_balance"`
	TotalPnL           float64       `json:"total_pnl"`
	ReturnPct          float64       `json:"return_pct"`
	WinRate            float64       `json:"win_rate"`
	MaxDrawdownPct     float64       `json:"max_drawdown_pct"`
	Trades             int64         `json:"trades"`
	Actions            int64         `json:"actions"`
	Message            string        `json:"message"`
	Config             engine.Config `json:"config"`
	Stats              stats.Summary `json:"stats"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	CompletedAt        time.Time     `json:"completed_at"`
}

// RunRequest 是创建回测的请求体。策略来源三选一:
// Config 内联、Strategy 引用策略库记录、Profile 引用已加载模板；
// 同时给出时按 Config > Strategy > Profile 取值。
// StrategyTimeframe 缺省或与执行周期相同时走单周期调度。
type RunRequest struct {
	Symbol             string         `json:"symbol" binding:"required"`
	StartTS            int64          `json:"start_ts" binding:"required"`
	EndTS              int64          `json:"end_ts" binding:"required"`
	ExecutionTimeframe string         `json:"execution_timeframe" binding:"required"`
	StrategyTimeframe  string         `json:"strategy_timeframe"`
	Profile            string         `json:"profile"`
	Strategy           string         `json:"strategy"`
	Config             *engine.Config `json:"config"`

	// 可选覆盖项，零值沿用策略配置。
	InitialBalance float64 `json:"initial_balance"`
	Leverage       int     `json:"leverage"`
}
