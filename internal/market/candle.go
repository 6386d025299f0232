package market

// Candle 表示一根 K 线，OpenTime/CloseTime 均为毫秒时间戳。
// 引擎侧以 OpenTime 作为 bar 标签（左闭左标）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}
