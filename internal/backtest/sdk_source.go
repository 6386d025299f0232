package backtest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stratlab/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

// SDKSource 通过 go-binance SDK 拉取合约 K 线，走 SDK 的签名与重试
// 语义，适合需要自定义网关地址的部署。
type SDKSource struct {
	client *futures.Client
}

func NewSDKSource(baseURL string, timeout time.Duration) *SDKSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &SDKSource{client: client}
}

func (s *SDKSource) Name() string { return "binance_sdk" }

func (s *SDKSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	svc := s.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
