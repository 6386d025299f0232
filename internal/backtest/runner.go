package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/stats"

	"github.com/google/uuid"
)

// 热身参数: 入场评估至少准备这么多根分析 K 线，外加少量余量。
const (
	warmupFloor = 20
	warmupPad   = 5
)

// ProfileSource 将命名模板解析为策略配置。
type ProfileSource interface {
	StrategyConfig(name string) (engine.Config, bool)
}

// LibrarySource 从策略库加载已保存的配置。
type LibrarySource interface {
	StrategyConfig(ctx context.Context, name string) (engine.Config, error)
}

// RunnerConfig 配置回测编排器。Fetcher/Profiles/Library 可空，
// 对应能力（自动补数、模板、策略库）缺省关闭。
type RunnerConfig struct {
	Candles        *Store
	Results        *ResultStore
	Fetcher        *Service
	Profiles       ProfileSource
	Library        LibrarySource
	DefaultProfile string
	MaxConcurrent  int
}

// Runner 把 RunRequest 推演成持久化的回测结果: 解析策略配置、
// 准备 K 线、驱动撮合引擎并落盘成交/动作/资金曲线。
type Runner struct {
	store          *Store
	results        *ResultStore
	fetcher        *Service
	profiles       ProfileSource
	library        LibrarySource
	defaultProfile string

	sem     chan struct{}
	baseCtx context.Context
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Candles == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		store:          cfg.Candles,
		results:        cfg.Results,
		fetcher:        cfg.Fetcher,
		profiles:       cfg.Profiles,
		library:        cfg.Library,
		defaultProfile: cfg.DefaultProfile,
		sem:            make(chan struct{}, maxConcurrent),
		baseCtx:        context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台回放取消。
func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

func (r *Runner) ctx() context.Context {
	if r.baseCtx != nil {
		return r.baseCtx
	}
	return context.Background()
}

// runPlan 是 StartRun 校验后的执行计划。
type runPlan struct {
	cfg     engine.Config
	execTF  market.Timeframe
	stratTF market.Timeframe
	dual    bool
	start   int64
	end     int64
}

// StartRun 创建回测任务并立即返回，回放在后台进行。
func (r *Runner) StartRun(req RunRequest) (Run, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	cfg, profileName, err := r.resolveConfig(req)
	if err != nil {
		return Run{}, err
	}
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.InitialBalance > 0 {
		cfg.StartBalance = req.InitialBalance
	}
	if req.Leverage > 0 {
		cfg.Leverage = req.Leverage
	}

	execTF, err := market.ParseTimeframe(req.ExecutionTimeframe)
	if err != nil {
		return Run{}, fmt.Errorf("execution timeframe 无效: %w", err)
	}
	plan := runPlan{execTF: execTF}
	if key := strings.TrimSpace(req.StrategyTimeframe); key != "" {
		stratTF, err := market.ParseTimeframe(key)
		if err != nil {
			return Run{}, fmt.Errorf("strategy timeframe 无效: %w", err)
		}
		if stratTF.Duration < execTF.Duration {
			return Run{}, fmt.Errorf("strategy timeframe 不能快于 execution timeframe")
		}
		if stratTF.Key != execTF.Key {
			plan.stratTF = stratTF
			plan.dual = true
		}
	}

	start, end := execTF.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	plan.start, plan.end = start, end

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	plan.cfg = cfg

	run := Run{
		ID:                 uuid.NewString(),
		Symbol:             cfg.Symbol,
		Profile:            profileName,
		Status:             RunStatusPending,
		StartTS:            start,
		EndTS:              end,
		ExecutionTimeframe: execTF.Key,
		InitialBalance:     cfg.StartBalance,
		FinalBalance:       cfg.StartBalance,
		Config:             cfg,
	}
	if plan.dual {
		run.StrategyTimeframe = plan.stratTF.Key
	}
	if err := r.results.InsertRun(r.ctx(), run); err != nil {
		return Run{}, err
	}
	go r.runLoop(run.ID, plan)
	return run, nil
}

// resolveConfig 按 Config > Strategy > Profile 的顺序确定策略配置，
// 返回值第二项是展示用的来源名。
func (r *Runner) resolveConfig(req RunRequest) (engine.Config, string, error) {
	if req.Config != nil {
		return req.Config.Clone(), "", nil
	}
	if name := strings.TrimSpace(req.Strategy); name != "" {
		if r.library == nil {
			return engine.Config{}, "", fmt.Errorf("策略库未启用")
		}
		cfg, err := r.library.StrategyConfig(r.ctx(), name)
		if err != nil {
			return engine.Config{}, "", fmt.Errorf("加载策略 %s 失败: %w", name, err)
		}
		return cfg, name, nil
	}
	name := strings.TrimSpace(req.Profile)
	if name == "" {
		name = r.defaultProfile
	}
	if name == "" || r.profiles == nil {
		return engine.Config{}, "", fmt.Errorf("缺少策略配置: config/strategy/profile 至少给一项")
	}
	cfg, ok := r.profiles.StrategyConfig(name)
	if !ok {
		return engine.Config{}, "", fmt.Errorf("未知 profile: %s", name)
	}
	return cfg, name, nil
}

func (r *Runner) runLoop(runID string, plan runPlan) {
	select {
	case r.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		r.sem <- struct{}{}
	}
	defer func() { <-r.sem }()

	ctx := r.ctx()
	_ = r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "准备数据…")
	if err := r.execute(ctx, runID, plan); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = r.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

func (r *Runner) execute(ctx context.Context, runID string, plan runPlan) error {
	warmStart := r.warmupStart(plan)
	if err := r.ensureData(ctx, runID, plan, warmStart); err != nil {
		return err
	}

	candles, err := r.store.RangeCandles(ctx, plan.cfg.Symbol, plan.execTF.Key, warmStart, plan.end)
	if err != nil {
		return err
	}
	candles, quality := market.NormalizeSeries(candles)
	if quality.DroppedInvalid > 0 || quality.DuplicateTimestamps > 0 {
		logger.Warnf("[backtest] run %s 数据清洗: 丢弃=%d 去重=%d 缺口=%d 异常=%d",
			runID, quality.DroppedInvalid, quality.DuplicateTimestamps, quality.DataGaps, quality.PriceAnomalies)
	}
	eng, err := engine.New(plan.cfg)
	if err != nil {
		return err
	}

	var res *engine.Result
	if plan.dual {
		if len(candles) < 2 {
			return fmt.Errorf("执行周期 %s 数据不足: 仅 %d 条", plan.execTF.Key, len(candles))
		}
		_ = r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, fmt.Sprintf("回放 %d 根 K 线", len(candles)))
		res, err = engine.RunDual(eng, candles, plan.stratTF)
	} else {
		candles = r.trimSingle(candles, plan)
		offset := lookbackBars(plan.cfg)
		if len(candles) <= offset {
			return fmt.Errorf("执行周期 %s warmup 数据不足: 仅 %d 条，需要 > %d", plan.execTF.Key, len(candles), offset)
		}
		_ = r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, fmt.Sprintf("回放 %d 根 K 线", len(candles)))
		res, err = engine.RunSingle(eng, candles)
	}
	if err != nil {
		return err
	}

	summary := stats.Compute(res.InitialBalance, res.FinalBalance, res.Trades)
	equity := stats.BalanceHistory(res.InitialBalance, res.Trades)
	if err := r.results.InsertTrades(ctx, runID, res.Trades); err != nil {
		return err
	}
	if err := r.results.InsertActions(ctx, runID, res.Actions); err != nil {
		return err
	}
	if err := r.results.InsertEquity(ctx, runID, equity); err != nil {
		return err
	}
	if err := r.results.UpdateRunSummary(ctx, runID, RunStatusDone, summary,
		int64(len(res.Trades)), int64(len(res.Actions)), "完成"); err != nil {
		return err
	}
	logger.Infof("[backtest] run %s 完成: trades=%d final=%.2f", runID, len(res.Trades), res.FinalBalance)
	return nil
}

// warmupStart 把回放起点向前推出热身区间。双周期按分析周期数,
// 单周期按执行周期数。
func (r *Runner) warmupStart(plan runPlan) int64 {
	bars := int64(lookbackBars(plan.cfg) + warmupPad)
	var warmStart int64
	if plan.dual {
		warmStart = plan.start - bars*plan.stratTF.DurationMillis()
	} else {
		warmStart = plan.start - bars*plan.execTF.DurationMillis()
	}
	if step := plan.execTF.DurationMillis(); warmStart < step {
		warmStart = step
	}
	return warmStart
}

// trimSingle 对齐热身窗口: 让引擎跳过的热身段恰好结束在请求的
// start 上，热身数据不足时退回整段回放。
func (r *Runner) trimSingle(candles []market.Candle, plan runPlan) []market.Candle {
	offset := lookbackBars(plan.cfg)
	startIdx := 0
	for startIdx < len(candles) && candles[startIdx].OpenTime < plan.start {
		startIdx++
	}
	if startIdx > offset {
		return candles[startIdx-offset:]
	}
	return candles
}

func lookbackBars(cfg engine.Config) int {
	if lb := cfg.Entry.Lookback; lb > warmupFloor {
		return lb
	}
	return warmupFloor
}

func (r *Runner) ensureData(ctx context.Context, runID string, plan runPlan, warmStart int64) error {
	symbol, tfKey := plan.cfg.Symbol, plan.execTF.Key
	report, err := r.store.CheckIntegrity(ctx, symbol, tfKey, plan.execTF, warmStart, plan.end)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("数据检查 %s %s: %d/%d", symbol, tfKey, report.Present, report.Expected)
	if err := r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, msg); err != nil {
		logger.Debugf("update run status failed: %v", err)
	}
	if report.Complete() {
		return nil
	}
	if r.fetcher == nil {
		return fmt.Errorf("%s %s 数据缺失（%d 段），未配置拉取服务", symbol, tfKey, len(report.Gaps))
	}
	job, err := r.fetcher.SubmitFetch(FetchParams{
		Symbol:    symbol,
		Timeframe: tfKey,
		Start:     warmStart,
		End:       plan.end,
	})
	if err != nil {
		return err
	}
	return r.waitFetch(ctx, runID, job, plan.execTF, warmStart, plan.end)
}

func (r *Runner) waitFetch(ctx context.Context, runID string, job FetchJob, tf market.Timeframe, start, end int64) error {
	symbol := job.Params.Symbol
	updateProgress := func(j FetchJob) {
		message := fmt.Sprintf("下载 %s %s: %s", j.Params.Symbol, j.Params.Timeframe, j.Status)
		if j.Total > 0 {
			percent := float64(j.Completed) / float64(j.Total) * 100
			message = fmt.Sprintf("下载 %s %s: %.1f%%", j.Params.Symbol, j.Params.Timeframe, percent)
		}
		if j.Message != "" {
			message = message + " " + j.Message
		}
		if err := r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, message); err != nil {
			logger.Debugf("update run status failed: %v", err)
		}
	}

	checkFinal := func() error {
		finalReport, err := r.store.CheckIntegrity(ctx, symbol, tf.Key, tf, start, end)
		if err != nil {
			return err
		}
		if !finalReport.Complete() {
			return fmt.Errorf("%s %s 数据仍缺失（%d 段）", symbol, tf.Key, len(finalReport.Gaps))
		}
		return nil
	}

	updateProgress(job)
	if job.Status == JobStatusDone {
		return checkFinal()
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, ok := r.fetcher.JobSnapshot(job.ID)
			if !ok {
				continue
			}
			updateProgress(snap)
			switch snap.Status {
			case JobStatusDone:
				return checkFinal()
			case JobStatusFailed:
				if snap.Message != "" {
					return fmt.Errorf("下载 %s %s 失败: %s", symbol, tf.Key, snap.Message)
				}
				return fmt.Errorf("下载 %s %s 失败", symbol, tf.Key)
			case JobStatusPartial:
				return fmt.Errorf("下载 %s %s 未能补齐，缺口=%d", symbol, tf.Key, len(snap.Missing))
			}
		}
	}
}
