package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"stratlab/internal/market"
)

const maxImportWarnings = 20

// ImportResult 汇总一次 CSV 导入的行处理情况。
type ImportResult struct {
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

// ReadCandlesCSV 解析 OHLCV CSV 并做行级校验: 数字解析失败或违反
// OHLC 不变量的行被丢弃，重复 open_time 保留后出现者，open_time
// 不在周期网格上的行向下对齐。返回值按 open_time 升序。
//
// 表头不区分大小写，时间列接受 open_time/timestamp/time/time_utc，
// 值接受毫秒、秒或 RFC3339 时间。volume/trades/close_time 可缺省。
func ReadCandlesCSV(r io.Reader, tf market.Timeframe) ([]market.Candle, ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, ImportResult{}, err
	}
	if len(records) < 2 {
		return nil, ImportResult{}, fmt.Errorf("CSV 缺少数据行")
	}

	colIdx := map[string]int{}
	for idx, col := range records[0] {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = idx
	}
	for _, col := range []string{"open", "high", "low", "close"} {
		if _, ok := colIdx[col]; !ok {
			return nil, ImportResult{}, fmt.Errorf("缺少列 %q", col)
		}
	}
	tsIdx := -1
	for _, name := range []string{"open_time", "timestamp", "time", "time_utc"} {
		if idx, ok := colIdx[name]; ok {
			tsIdx = idx
			break
		}
	}
	if tsIdx == -1 {
		return nil, ImportResult{}, fmt.Errorf("缺少时间列（open_time/timestamp/time/time_utc）")
	}

	var res ImportResult
	warn := func(format string, args ...any) {
		if len(res.Warnings) < maxImportWarnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
		}
	}
	step := tf.DurationMillis()

	byOpen := make(map[int64]market.Candle, len(records)-1)
	for i := 1; i < len(records); i++ {
		rec := records[i]
		if len(rec) <= tsIdx {
			res.Skipped++
			continue
		}
		ts, ok := parseTimestampMillis(rec[tsIdx])
		if !ok {
			res.Skipped++
			warn("第 %d 行时间无法解析: %q", i+1, rec[tsIdx])
			continue
		}
		c := market.Candle{OpenTime: ts}
		if c.Open, ok = fieldFloat(rec, colIdx, "open"); !ok {
			res.Skipped++
			warn("第 %d 行 open 无法解析", i+1)
			continue
		}
		if c.High, ok = fieldFloat(rec, colIdx, "high"); !ok {
			res.Skipped++
			warn("第 %d 行 high 无法解析", i+1)
			continue
		}
		if c.Low, ok = fieldFloat(rec, colIdx, "low"); !ok {
			res.Skipped++
			warn("第 %d 行 low 无法解析", i+1)
			continue
		}
		if c.Close, ok = fieldFloat(rec, colIdx, "close"); !ok {
			res.Skipped++
			warn("第 %d 行 close 无法解析", i+1)
			continue
		}
		if v, ok := fieldFloat(rec, colIdx, "volume"); ok {
			c.Volume = v
		}
		if v, ok := fieldFloat(rec, colIdx, "trades"); ok {
			c.Trades = int64(v)
		}
		if v, ok := fieldFloat(rec, colIdx, "close_time"); ok {
			c.CloseTime = int64(v)
		}
		if err := validateOHLC(c); err != nil {
			res.Skipped++
			warn("第 %d 行被丢弃: %v", i+1, err)
			continue
		}
		if step > 0 {
			if aligned, _ := tf.AlignRange(c.OpenTime, c.OpenTime); aligned != c.OpenTime {
				warn("第 %d 行 open_time %d 未对齐网格，向下取整到 %d", i+1, c.OpenTime, aligned)
				c.OpenTime = aligned
			}
		}
		if c.CloseTime <= c.OpenTime {
			c.CloseTime = c.OpenTime + step - 1
		}
		if _, dup := byOpen[c.OpenTime]; dup {
			warn("open_time %d 重复，保留后出现的行", c.OpenTime)
		}
		byOpen[c.OpenTime] = c
	}
	if len(byOpen) == 0 {
		return nil, res, fmt.Errorf("没有可用数据行（跳过 %d 行）", res.Skipped)
	}

	out := make([]market.Candle, 0, len(byOpen))
	for _, c := range byOpen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })

	if step > 0 {
		gaps := 0
		for i := 1; i < len(out); i++ {
			if out[i].OpenTime-out[i-1].OpenTime > step {
				gaps++
			}
		}
		if gaps > 0 {
			warn("序列存在 %d 处缺口，可通过拉取服务补齐", gaps)
		}
	}
	return out, res, nil
}

func validateOHLC(c market.Candle) error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("价格必须 > 0")
	}
	if c.High < c.Low {
		return fmt.Errorf("high %.8g < low %.8g", c.High, c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("high 低于 open/close")
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low 高于 open/close")
	}
	return nil
}

func fieldFloat(rec []string, colIdx map[string]int, name string) (float64, bool) {
	idx, ok := colIdx[name]
	if !ok || idx >= len(rec) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseTimestampMillis 接受毫秒/秒整数或常见时间文本，统一为毫秒。
func parseTimestampMillis(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0, false
		}
		// 秒级时间戳在 2286 年前都小于 1e10
		if n < 1e10 {
			return n * 1000, true
		}
		return n, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
