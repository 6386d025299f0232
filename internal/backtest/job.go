package backtest

import "time"

// 拉取任务状态。partial 表示任务走完但远端仍给不出完整数据。
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次 K 线拉取请求，时间为毫秒时间戳。
type FetchParams struct {
	Exchange  string `json:"exchange,omitempty"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start_ts"`
	End       int64  `json:"end_ts"`
}

// Gap 是一段缺失的 open_time 闭区间，端点均落在周期网格上。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 汇总区间内应有/已有的 K 线数量与缺口列表。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// Complete 报告区间是否无缺口。
func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0
}

// FetchJob 是一次异步拉取任务的快照。Completed 以写入行数计。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Missing   []Gap       `json:"missing,omitempty"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// copy 返回值拷贝，切片字段深拷贝，避免快照与内部状态共享底层数组。
func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap{}, j.Missing...)
	out.Warnings = append([]string{}, j.Warnings...)
	return out
}
