package backtest

import (
	"context"

	"stratlab/internal/market"
)

// FetchRequest 描述一次远端 K 线请求，时间为毫秒时间戳。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64 // 0 表示不限制
	Limit    int
}

// CandleSource 统一不同交易所/数据源的拉取行为。
// 实现必须按 open_time 升序返回，且只返回已收盘的 K 线。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
