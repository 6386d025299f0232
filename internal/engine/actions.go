package engine

// CloseReason 标识平仓原因；end_of_data 不计入任何统计口径。
type CloseReason string

const (
	CloseTakeProfit         CloseReason = "take_profit"
	CloseStopLoss           CloseReason = "stop_loss"
	CloseTrailingTakeProfit CloseReason = "trailing_take_profit"
	CloseTrailingStopLoss   CloseReason = "trailing_stop_loss"
	CloseMaxDrawdown        CloseReason = "max_drawdown_reached"
	CloseLiquidationPrice   CloseReason = "liquidation_price_reached"
	CloseMarginCall         CloseReason = "margin_call_liquidation"
	CloseEndOfData          CloseReason = "end_of_data"
)

// Completed 报告该原因是否计入统计（end_of_data 除外）。
func (r CloseReason) Completed() bool {
	return r != "" && r != CloseEndOfData
}

// ActionType 标识单个 tick 内引擎产生的动作。
type ActionType string

const (
	ActionOpenPosition  ActionType = "open_position"
	ActionDCAOrder      ActionType = "dca_order"
	ActionClosePosition ActionType = "close_position"
	ActionMarginCall    ActionType = "margin_call"
	ActionMarginWarning ActionType = "margin_call_warning"
)

// Action 是动作日志的一行；相同输入与配置必须产生逐字节一致的序列。
type Action struct {
	Type      ActionType  `json:"type"`
	Timestamp int64       `json:"timestamp"`
	OrderID   int64       `json:"order_id,omitempty"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity,omitempty"`
	Level     int         `json:"level,omitempty"`
	Reason    CloseReason `json:"reason,omitempty"`
	Trade     *Trade      `json:"trade,omitempty"`
}

// Trade 是平仓时产出的不可变成交记录。
type Trade struct {
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	EntryPrice   float64     `json:"entry_price"`
	AveragePrice float64     `json:"average_price"`
	ExitPrice    float64     `json:"exit_price"`
	Quantity     float64     `json:"quantity"`
	PnL          float64     `json:"pnl"`
	PnLPercent   float64     `json:"pnl_percent"`
	EntryTime    int64       `json:"entry_time"`
	ExitTime     int64       `json:"exit_time"`
	Reason       CloseReason `json:"reason"`
	AddOnCount   int         `json:"dca_orders_count"`
	TotalOrders  int         `json:"total_orders"`
}
