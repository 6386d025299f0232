// Package report 把单次回测渲染成 echarts 图表页：K 线叠加开仓、加仓、
// 平仓标记，外加权益曲线和逐笔盈亏柱状图。页面可直接作为 HTML 输出，
// 也可以用无头浏览器截成 PNG 快照。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"stratlab/internal/engine"
	"stratlab/internal/market"
	"stratlab/internal/stats"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorAddOn         = "#fbbf24"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 300
	pnlHeightPx    = 260
)

// Data 汇集渲染一份报表需要的全部素材。Actions 可以为空，
// 此时开平仓标记退化为按成交记录绘制。
type Data struct {
	RunID     string
	Symbol    string
	Timeframe string
	Candles   []market.Candle
	Trades    []engine.Trade
	Actions   []engine.Action
	Equity    []stats.BalancePoint
	Summary   stats.Summary
}

// Renderer 无状态，可在多个请求间复用。
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// HTML 把回测结果渲染为一页自包含的 echarts HTML。
func (r *Renderer) HTML(data Data) ([]byte, error) {
	if data.Symbol == "" {
		return nil, fmt.Errorf("symbol required for report render")
	}
	if len(data.Candles) == 0 {
		return nil, fmt.Errorf("no candles to render for %s", data.Symbol)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildKlineChart(data),
		buildEquityChart(data),
		buildPnLChart(data),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNG 渲染 HTML 后用 chromedp 截图。首次调用会探测无头浏览器是否可用。
func (r *Renderer) PNG(ctx context.Context, data Data) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	html, err := r.HTML(data)
	if err != nil {
		return nil, err
	}
	height := klineHeightPx + equityHeightPx + pnlHeightPx
	if height < 520 {
		height = 520
	}
	return renderHTMLToPNG(ctx, html, chartWidthPx, height)
}

func buildKlineChart(data Data) *charts.Kline {
	candles := data.Candles
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	minAxis := round(minPrice-padding, 4)
	maxAxis := round(maxPrice+padding, 4)

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s 回测", strings.ToUpper(data.Symbol), data.Timeframe),
			Subtitle:      summarySubtitle(data.Summary),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       minAxis,
			Max:       maxAxis,
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(candles)
	klineData := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries(fmt.Sprintf("Price_%s", data.Timeframe), klineData)

	entries, addons, exits := buildMarkers(data)
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("开仓", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	scatter.AddSeries("加仓", addons, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorAddOn}))
	scatter.AddSeries("平仓", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	kline.Overlap(scatter)
	return kline
}

// buildMarkers 把动作时间戳映射到所属 K 线的刻度位上。动作流缺失时
// 退化为只画每笔成交的首次开仓和离场两类标记。
func buildMarkers(data Data) (entries, addons, exits []opts.ScatterData) {
	n := len(data.Candles)
	entries = emptyScatter(n)
	addons = emptyScatter(n)
	exits = emptyScatter(n)

	put := func(series []opts.ScatterData, ts int64, price float64, symbol string, size int) {
		idx := candleIndex(data.Candles, ts)
		if idx < 0 {
			return
		}
		series[idx] = opts.ScatterData{Value: round(price, 4), Symbol: symbol, SymbolSize: size}
	}

	if len(data.Actions) > 0 {
		for _, a := range data.Actions {
			switch a.Type {
			case engine.ActionOpenPosition:
				put(entries, a.Timestamp, a.Price, "triangle", 12)
			case engine.ActionDCAOrder:
				put(addons, a.Timestamp, a.Price, "diamond", 10)
			case engine.ActionClosePosition:
				put(exits, a.Timestamp, a.Price, "pin", 14)
			}
		}
		return entries, addons, exits
	}

	for _, t := range data.Trades {
		put(entries, t.EntryTime, t.EntryPrice, "triangle", 12)
		put(exits, t.ExitTime, t.ExitPrice, "pin", 14)
	}
	return entries, addons, exits
}

func buildEquityChart(data Data) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)

	// 权益序列只含平仓点，起点补一条初始余额，曲线才不会凭空从
	// 第一笔盈亏后开始。
	xAxis := make([]string, 0, len(data.Equity)+1)
	values := make([]opts.LineData, 0, len(data.Equity)+1)
	if len(data.Equity) > 0 {
		xAxis = append(xAxis, "start")
		values = append(values, opts.LineData{Value: round(data.Equity[0].Balance-data.Equity[0].PnL, 2)})
	}
	for _, p := range data.Equity {
		xAxis = append(xAxis, formatMillis(p.Timestamp))
		values = append(values, opts.LineData{Value: round(p.Balance, 2)})
	}

	line.SetXAxis(xAxis)
	line.AddSeries("Equity", values,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildPnLChart(data Data) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", pnlHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)

	xAxis := make([]string, len(data.Equity))
	bars := make([]opts.BarData, len(data.Equity))
	for i, p := range data.Equity {
		color := colorBear
		if p.PnL >= 0 {
			color = colorBull
		}
		xAxis[i] = formatMillis(p.Timestamp)
		bars[i] = opts.BarData{
			Value: round(p.PnL, 2),
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.8),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", bars)
	return bar
}

func summarySubtitle(s stats.Summary) string {
	return fmt.Sprintf("收益 %.2f (%+.2f%%) | 胜率 %.1f%% | 最大回撤 %.2f%% | 交易 %d 笔",
		s.TotalPnL, s.TotalReturnPercent, s.WinRate, s.MaxDrawdownPercent, s.TotalTrades)
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = formatMillis(c.CloseTime)
	}
	return x
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("01-02 15:04")
}

func emptyScatter(n int) []opts.ScatterData {
	out := make([]opts.ScatterData, n)
	for i := range out {
		out[i] = opts.ScatterData{Value: nil}
	}
	return out
}

// candleIndex 返回覆盖 ts 的 K 线下标，早于首根时返回 -1，
// 晚于末根时落到末根上。
func candleIndex(candles []market.Candle, ts int64) int {
	idx := sort.Search(len(candles), func(i int) bool {
		return candles[i].OpenTime > ts
	}) - 1
	if idx >= len(candles) {
		idx = len(candles) - 1
	}
	return idx
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测一次无头浏览器环境，结果在进程内缓存。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
