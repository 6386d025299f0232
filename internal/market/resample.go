package market

// Aggregate 将执行周期的 K 线聚合为更大的策略周期：左闭左标，
// bar 的 OpenTime = 窗口起点，open 取首根、high/low 取极值、close 取末根、volume 求和。
// 纯函数：不修改输入，相同输入恒得相同输出。
func Aggregate(rows []Candle, tf Timeframe) []Candle {
	if len(rows) == 0 {
		return nil
	}
	step := tf.DurationMillis()
	if step <= 0 {
		return nil
	}

	out := make([]Candle, 0, len(rows)/int(maxInt64(step/60000, 1))+1)
	var cur Candle
	curStart := int64(-1)
	for _, row := range rows {
		start := alignDown(row.OpenTime, step)
		if start != curStart {
			if curStart >= 0 {
				out = append(out, cur)
			}
			curStart = start
			cur = Candle{
				OpenTime:  start,
				CloseTime: start + step - 1,
				Open:      row.Open,
				High:      row.High,
				Low:       row.Low,
				Close:     row.Close,
				Volume:    row.Volume,
				Trades:    row.Trades,
			}
			continue
		}
		if row.High > cur.High {
			cur.High = row.High
		}
		if row.Low < cur.Low {
			cur.Low = row.Low
		}
		cur.Close = row.Close
		cur.Volume += row.Volume
		cur.Trades += row.Trades
	}
	if curStart >= 0 {
		out = append(out, cur)
	}
	return out
}

// ResolveClosedBar 返回 bars 中最后一根已收盘 bar 的下标：
// OpenTime+period <= execTS 即视为已收盘（恰好等于收盘瞬间时可见），否则 -1。
// bar 在 T 开盘则 execTS < T+period 时不可见，保证不产生未来信息泄漏。
func ResolveClosedBar(execTS int64, bars []Candle, tf Timeframe) int {
	step := tf.DurationMillis()
	if step <= 0 || len(bars) == 0 {
		return -1
	}
	// bars 按 OpenTime 升序，二分找第一根未收盘 bar。
	lo, hi := 0, len(bars)
	for lo < hi {
		mid := (lo + hi) / 2
		if bars[mid].OpenTime+step <= execTS {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
