// Package sweep 在同一数据窗口上并行评估参数网格，每个组合使用独立
// 引擎，结果按指标从优到劣排序后入库。
package sweep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/stats"
	"stratlab/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const (
	defaultParallel  = 4
	defaultMaxCombos = 500
	warmupFloor      = 20
	warmupPad        = 5
)

// CandleLoader 提供整段回放窗口。
type CandleLoader interface {
	RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// Request 描述一次参数扫描。Grid 的键是基准配置里的点分 JSON 路径，
// 值是候选取值列表。
type Request struct {
	Symbol             string           `json:"symbol" binding:"required"`
	ExecutionTimeframe string           `json:"execution_timeframe" binding:"required"`
	StrategyTimeframe  string           `json:"strategy_timeframe"`
	StartTS            int64            `json:"start_ts" binding:"required"`
	EndTS              int64            `json:"end_ts" binding:"required"`
	Config             *engine.Config   `json:"config" binding:"required"`
	Grid               map[string][]any `json:"grid" binding:"required"`
	Metric             string           `json:"metric"`
	Parallel           int              `json:"parallel"`
}

// ServiceConfig 配置扫描服务。Cache 可空，缺省直接读盘。
type ServiceConfig struct {
	Candles     CandleLoader
	Results     store.SweepRepository
	Cache       store.CandleCache
	MaxParallel int
	MaxCombos   int
}

type Service struct {
	candles     CandleLoader
	results     store.SweepRepository
	cache       store.CandleCache
	maxParallel int
	maxCombos   int

	sem     chan struct{}
	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Candles == nil {
		return nil, fmt.Errorf("candle loader 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("sweep 存储不能为空")
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultParallel
	}
	maxCombos := cfg.MaxCombos
	if maxCombos <= 0 {
		maxCombos = defaultMaxCombos
	}
	return &Service{
		candles:     cfg.Candles,
		results:     cfg.Results,
		cache:       cfg.Cache,
		maxParallel: maxParallel,
		maxCombos:   maxCombos,
		sem:         make(chan struct{}, 1),
		baseCtx:     context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台评估取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

type candidate struct {
	params map[string]any
	cfg    engine.Config
}

type sweepPlan struct {
	symbol    string
	execTF    market.Timeframe
	stratTF   market.Timeframe
	dual      bool
	start     int64
	end       int64
	warmStart int64
	metric    string
	parallel  int
	cands     []candidate
}

type outcome struct {
	params  map[string]any
	summary stats.Summary
	score   float64
	err     error
}

// Submit 校验请求、展开并预校验全部组合，然后立即返回，
// 评估在后台进行。
func (s *Service) Submit(req Request) (store.SweepRecord, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return store.SweepRecord{}, fmt.Errorf("symbol 不能为空")
	}
	if req.Config == nil {
		return store.SweepRecord{}, fmt.Errorf("config 不能为空")
	}
	metric, err := ParseMetric(req.Metric)
	if err != nil {
		return store.SweepRecord{}, err
	}
	execTF, err := market.ParseTimeframe(req.ExecutionTimeframe)
	if err != nil {
		return store.SweepRecord{}, fmt.Errorf("execution timeframe 无效: %w", err)
	}
	plan := sweepPlan{symbol: symbol, execTF: execTF, metric: metric}
	if key := strings.TrimSpace(req.StrategyTimeframe); key != "" {
		stratTF, err := market.ParseTimeframe(key)
		if err != nil {
			return store.SweepRecord{}, fmt.Errorf("strategy timeframe 无效: %w", err)
		}
		if stratTF.Duration < execTF.Duration {
			return store.SweepRecord{}, fmt.Errorf("strategy timeframe 不能快于 execution timeframe")
		}
		if stratTF.Key != execTF.Key {
			plan.stratTF = stratTF
			plan.dual = true
		}
	}
	start, end := execTF.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= start {
		return store.SweepRecord{}, fmt.Errorf("start/end 非法")
	}
	plan.start, plan.end = start, end

	base := req.Config.Clone()
	base.Symbol = symbol
	base.ApplyDefaults()
	if err := base.Validate(); err != nil {
		return store.SweepRecord{}, fmt.Errorf("基准配置无效: %w", err)
	}

	combos, err := expandGrid(req.Grid)
	if err != nil {
		return store.SweepRecord{}, err
	}
	if len(combos) > s.maxCombos {
		return store.SweepRecord{}, fmt.Errorf("参数组合 %d 个，超出上限 %d", len(combos), s.maxCombos)
	}
	cands := make([]candidate, 0, len(combos))
	maxLookback := warmupFloor
	for _, combo := range combos {
		cfg, err := applyOverrides(base, combo)
		if err != nil {
			return store.SweepRecord{}, fmt.Errorf("组合 %s: %w", comboLabel(combo), err)
		}
		cfg.Symbol = symbol
		if lb := cfg.Entry.Lookback; lb > maxLookback {
			maxLookback = lb
		}
		cands = append(cands, candidate{params: combo, cfg: cfg})
	}
	plan.cands = cands

	bars := int64(maxLookback + warmupPad)
	if plan.dual {
		plan.warmStart = start - bars*plan.stratTF.DurationMillis()
	} else {
		plan.warmStart = start - bars*execTF.DurationMillis()
	}
	if step := execTF.DurationMillis(); plan.warmStart < step {
		plan.warmStart = step
	}

	parallel := req.Parallel
	if parallel <= 0 || parallel > s.maxParallel {
		parallel = s.maxParallel
	}
	plan.parallel = parallel

	rec := store.SweepRecord{
		ID:                 uuid.NewString(),
		Symbol:             symbol,
		Status:             StatusPending,
		Metric:             metric,
		ExecutionTimeframe: execTF.Key,
		StartTS:            start,
		EndTS:              end,
		Base:               base,
		Grid:               req.Grid,
		Total:              len(cands),
	}
	if plan.dual {
		rec.StrategyTimeframe = plan.stratTF.Key
	}
	if err := s.results.InsertSweep(s.ctx(), rec); err != nil {
		return store.SweepRecord{}, err
	}
	logger.Infof("[sweep] %s 提交: %s %s 组合=%d 指标=%s", rec.ID, symbol, execTF.Key, len(cands), metric)
	go s.run(rec.ID, plan)
	return rec, nil
}

func (s *Service) run(id string, plan sweepPlan) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[sweep] %s 等待可用 worker", id)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateSweepStatus(ctx, id, StatusRunning, "加载数据")
	s.execute(ctx, id, plan)
}

// execute 自行记录扫描结果: 成功写入排序后的结果并标记 done，
// 失败标记 failed 并带上原因。
func (s *Service) execute(ctx context.Context, id string, plan sweepPlan) {
	fail := func(completed int, err error) {
		logger.Warnf("[sweep] %s 失败: %v", id, err)
		_ = s.results.CompleteSweep(ctx, id, StatusFailed, completed, err.Error())
	}

	candles, err := s.loadWindow(ctx, plan)
	if err != nil {
		fail(0, err)
		return
	}
	if len(candles) == 0 {
		fail(0, fmt.Errorf("%s %s 窗口 [%d, %d] 无数据", plan.symbol, plan.execTF.Key, plan.warmStart, plan.end))
		return
	}
	startIdx := 0
	for startIdx < len(candles) && candles[startIdx].OpenTime < plan.start {
		startIdx++
	}

	var done atomic.Int64
	progressCtx, stopProgress := context.WithCancel(ctx)
	go s.reportProgress(progressCtx, id, &done)

	outcomes := make([]outcome, len(plan.cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.parallel)
	for i, cand := range plan.cands {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			sum, err := s.evaluate(cand.cfg, candles, startIdx, plan)
			if err != nil {
				// 单个组合失败不终止整个扫描
				outcomes[i] = outcome{params: cand.params, err: err}
			} else {
				outcomes[i] = outcome{
					params:  cand.params,
					summary: sum,
					score:   metricScore(plan.metric, sum),
				}
			}
			done.Add(1)
			return nil
		})
	}
	err = g.Wait()
	stopProgress()
	if err != nil {
		fail(int(done.Load()), err)
		return
	}

	var successes []outcome
	var failed int
	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		successes = append(successes, o)
	}
	if len(successes) == 0 {
		fail(len(plan.cands), fmt.Errorf("全部组合评估失败: %v", firstErr))
		return
	}
	sort.Slice(successes, func(i, j int) bool {
		if successes[i].score != successes[j].score {
			return successes[i].score > successes[j].score
		}
		return comboLabel(successes[i].params) < comboLabel(successes[j].params)
	})
	results := make([]store.SweepResultRecord, len(successes))
	for i, o := range successes {
		results[i] = store.SweepResultRecord{
			SweepID: id,
			Rank:    i + 1,
			Params:  o.params,
			Score:   o.score,
			Summary: o.summary,
		}
	}
	if err := s.results.InsertSweepResults(ctx, id, results); err != nil {
		fail(len(plan.cands), err)
		return
	}
	msg := "完成"
	if failed > 0 {
		msg = fmt.Sprintf("完成，%d 个组合失败", failed)
	}
	_ = s.results.CompleteSweep(ctx, id, StatusDone, len(plan.cands), msg)
	logger.Infof("[sweep] %s 完成: 有效组合=%d 最优分=%.4f", id, len(successes), results[0].Score)
}

func (s *Service) loadWindow(ctx context.Context, plan sweepPlan) ([]market.Candle, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(plan.symbol, plan.execTF.Key, plan.warmStart, plan.end); ok {
			return cached, nil
		}
	}
	candles, err := s.candles.RangeCandles(ctx, plan.symbol, plan.execTF.Key, plan.warmStart, plan.end)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(candles) > 0 {
		s.cache.Set(plan.symbol, plan.execTF.Key, plan.warmStart, plan.end, candles)
	}
	return candles, nil
}

// evaluate 在共享窗口上评估单个组合。单周期模式按组合自身的回看
// 窗口切片，保证每个组合都从首个不早于 start 的 K 线开始处理。
func (s *Service) evaluate(cfg engine.Config, candles []market.Candle, startIdx int, plan sweepPlan) (stats.Summary, error) {
	eng, err := engine.New(cfg)
	if err != nil {
		return stats.Summary{}, err
	}
	var res *engine.Result
	if plan.dual {
		res, err = engine.RunDual(eng, candles, plan.stratTF)
	} else {
		offset := cfg.Entry.Lookback
		if offset < warmupFloor {
			offset = warmupFloor
		}
		sub := candles
		if startIdx > offset {
			sub = candles[startIdx-offset:]
		}
		if len(sub) <= offset {
			return stats.Summary{}, fmt.Errorf("数据不足: 仅 %d 条，需要 > %d", len(sub), offset)
		}
		res, err = engine.RunSingle(eng, sub)
	}
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Compute(res.InitialBalance, res.FinalBalance, res.Trades), nil
}

func (s *Service) reportProgress(ctx context.Context, id string, done *atomic.Int64) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.results.UpdateSweepProgress(s.ctx(), id, int(done.Load()))
		}
	}
}
