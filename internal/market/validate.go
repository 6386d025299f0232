package market

import (
	"math"
	"sort"
)

// ValidationReport 汇总一段序列的质量检查结果。
type ValidationReport struct {
	TotalRecords        int   `json:"total_records"`
	DroppedInvalid      int   `json:"dropped_invalid"`
	DuplicateTimestamps int   `json:"duplicate_timestamps"`
	DataGaps            int   `json:"data_gaps"`
	PriceAnomalies      int   `json:"price_anomalies"`
	FirstOpenTime       int64 `json:"first_open_time"`
	LastOpenTime        int64 `json:"last_open_time"`
}

// NormalizeSeries 排序、去重并剔除非法行（OHLC 不变量破坏、非正价格、NaN）。
// 返回清洗后的序列与报告；时间缺口与价格异常只计数不修补。
func NormalizeSeries(rows []Candle) ([]Candle, ValidationReport) {
	report := ValidationReport{TotalRecords: len(rows)}
	if len(rows) == 0 {
		return nil, report
	}

	cleaned := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if !validOHLC(row) {
			report.DroppedInvalid++
			continue
		}
		cleaned = append(cleaned, row)
	}
	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i].OpenTime < cleaned[j].OpenTime })

	deduped := cleaned[:0]
	var lastTS int64 = math.MinInt64
	for _, row := range cleaned {
		if row.OpenTime == lastTS {
			report.DuplicateTimestamps++
			deduped[len(deduped)-1] = row
			continue
		}
		deduped = append(deduped, row)
		lastTS = row.OpenTime
	}

	report.DataGaps, report.PriceAnomalies = seriesAnomalies(deduped)
	if len(deduped) > 0 {
		report.FirstOpenTime = deduped[0].OpenTime
		report.LastOpenTime = deduped[len(deduped)-1].OpenTime
	}
	return deduped, report
}

func validOHLC(c Candle) bool {
	vals := []float64{c.Open, c.High, c.Low, c.Close}
	for _, v := range vals {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if c.Volume < 0 || math.IsNaN(c.Volume) {
		return false
	}
	lo := math.Min(c.Open, c.Close)
	hi := math.Max(c.Open, c.Close)
	return c.Low <= lo && hi <= c.High
}

// seriesAnomalies 统计时间缺口（步长超过中位数两倍）与价格跳变（收盘价变动超 50%）。
func seriesAnomalies(rows []Candle) (gaps, anomalies int) {
	if len(rows) < 3 {
		return 0, 0
	}
	diffs := make([]int64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		diffs = append(diffs, rows[i].OpenTime-rows[i-1].OpenTime)
	}
	sorted := append([]int64(nil), diffs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	for _, d := range diffs {
		if median > 0 && d > median*2 {
			gaps++
		}
	}
	for i := 1; i < len(rows); i++ {
		prev := rows[i-1].Close
		if prev <= 0 {
			continue
		}
		if math.Abs(rows[i].Close-prev)/prev > 0.5 {
			anomalies++
		}
	}
	return gaps, anomalies
}
