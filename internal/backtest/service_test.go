package backtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/market"
)

// fakeSource 按请求区间生成网格 K 线，可配置为空结果或失败。
type fakeSource struct {
	mu    sync.Mutex
	calls int
	empty bool
	fail  bool
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("boom")
	}
	if f.empty {
		return nil, nil
	}
	n := int((req.End-req.Start)/minuteMillis) + 1
	if req.Limit > 0 && n > req.Limit {
		n = req.Limit
	}
	return gridCandles(req.Start, n), nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFetchService(t *testing.T, src CandleSource) (*Service, *Store) {
	t.Helper()
	store := newCandleStore(t)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"binance": src},
		DefaultExchange: "binance",
		RateLimitPerMin: 60_000,
		MaxBatch:        500,
	})
	require.NoError(t, err)
	return svc, store
}

func waitJobStatus(t *testing.T, svc *Service, id, status string) FetchJob {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := svc.JobSnapshot(id)
		return ok && job.Status == status
	}, 5*time.Second, 20*time.Millisecond, "任务未进入 %s 状态", status)
	job, _ := svc.JobSnapshot(id)
	return job
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.ErrorContains(t, err, "store")

	store := newCandleStore(t)
	_, err = NewService(ServiceConfig{Store: store})
	assert.ErrorContains(t, err, "数据源")
}

func TestSubmitFetchShortCircuitsWhenComplete(t *testing.T) {
	src := &fakeSource{}
	svc, store := newFetchService(t, src)
	ctx := context.Background()

	_, err := store.InsertCandles(ctx, "BTCUSDT", "1m", gridCandles(baseOpenTime, 10))
	require.NoError(t, err)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Start:     baseOpenTime,
		End:       baseOpenTime + 9*minuteMillis,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Contains(t, job.Message, "无需重新拉取")
	assert.Equal(t, 0, src.callCount())
}

func TestSubmitFetchFillsGaps(t *testing.T) {
	src := &fakeSource{}
	svc, store := newFetchService(t, src)
	ctx := context.Background()

	end := baseOpenTime + 19*minuteMillis
	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Start:     baseOpenTime,
		End:       end,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), job.Total)

	done := waitJobStatus(t, svc, job.ID, JobStatusDone)
	assert.Equal(t, int64(20), done.Completed)
	assert.Empty(t, done.Missing)
	assert.GreaterOrEqual(t, src.callCount(), 1)

	candles, err := store.RangeCandles(ctx, "BTCUSDT", "1m", baseOpenTime, end)
	require.NoError(t, err)
	assert.Len(t, candles, 20)
}

func TestSubmitFetchPartialWhenSourceEmpty(t *testing.T) {
	src := &fakeSource{empty: true}
	svc, _ := newFetchService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Start:     baseOpenTime,
		End:       baseOpenTime + 9*minuteMillis,
	})
	require.NoError(t, err)

	partial := waitJobStatus(t, svc, job.ID, JobStatusPartial)
	assert.NotEmpty(t, partial.Missing)
	assert.Contains(t, strings.Join(partial.Warnings, "\n"), "拉取为空")
}

func TestSubmitFetchFailsWhenSourceErrors(t *testing.T) {
	src := &fakeSource{fail: true}
	svc, _ := newFetchService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Start:     baseOpenTime,
		End:       baseOpenTime + 9*minuteMillis,
	})
	require.NoError(t, err)

	failed := waitJobStatus(t, svc, job.ID, JobStatusFailed)
	assert.Contains(t, failed.Message, "拉取失败")
}

func TestSubmitFetchValidation(t *testing.T) {
	svc, _ := newFetchService(t, &fakeSource{})

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1m", Start: baseOpenTime, End: baseOpenTime + minuteMillis})
	assert.ErrorContains(t, err, "symbol")

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "7m", Start: baseOpenTime, End: baseOpenTime + minuteMillis})
	assert.ErrorContains(t, err, "不支持的周期")

	// 对齐后 start == end，构不成区间。
	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: baseOpenTime, End: baseOpenTime + 30_000})
	assert.ErrorContains(t, err, "区间")

	_, err = svc.SubmitFetch(FetchParams{Exchange: "kraken", Symbol: "BTCUSDT", Timeframe: "1m", Start: baseOpenTime, End: baseOpenTime + minuteMillis})
	assert.ErrorContains(t, err, "未知数据源")
}

func TestImportCSVWritesCandles(t *testing.T) {
	svc, store := newFetchService(t, &fakeSource{})
	ctx := context.Background()

	csvText := "open_time,open,high,low,close,volume\n" +
		"1700000040000,100,101,99.5,100.5,12.5\n" +
		"1700000100000,100.5,101.2,100.1,100.9,8\n" +
		"1700000160000,100.9,101.5,100.6,101.3,9.25\n"
	res, err := svc.ImportCSV(ctx, "ethusdt", "1m", strings.NewReader(csvText))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Skipped)

	candles, err := store.RangeCandles(ctx, "ETHUSDT", "1m", baseOpenTime, baseOpenTime+2*minuteMillis)
	require.NoError(t, err)
	assert.Len(t, candles, 3)

	_, err = svc.ImportCSV(ctx, "", "1m", strings.NewReader(csvText))
	assert.ErrorContains(t, err, "不能为空")
}
