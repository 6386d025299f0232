package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/config"
	"stratlab/internal/logger"
	"stratlab/internal/profile"
	"stratlab/internal/report"
	"stratlab/internal/store"
	storesqlite "stratlab/internal/store/sqlite"
	"stratlab/internal/sweep"
)

type AppBuilder struct {
	cfg *config.Config

	sourcesFn func(config.MarketConfig, time.Duration) (map[string]backtest.CandleSource, error)

	libraryOverride *storesqlite.Library
	cacheOverride   store.CandleCache
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		sourcesFn: buildCandleSources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithCandleSources 替换数据源构建逻辑，回放测试用。
func WithCandleSources(fn func(config.MarketConfig, time.Duration) (map[string]backtest.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}

// WithLibrary 注入已打开的策略库（通常是内存 sqlite），测试用。
func WithLibrary(lib *storesqlite.Library) AppBuilderOption {
	return func(b *AppBuilder) { b.libraryOverride = lib }
}

// WithCandleCache 替换扫描用的 K 线窗口缓存。
func WithCandleCache(cache store.CandleCache) AppBuilderOption {
	return func(b *AppBuilder) { b.cacheOverride = cache }
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	app := &App{cfg: cfg}

	candles, err := backtest.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线库失败: %w", err)
	}
	app.closers = append(app.closers, candles.Close)

	results, err := backtest.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	app.closers = append(app.closers, results.Close)

	library := b.libraryOverride
	if library == nil {
		library, err = storesqlite.NewLibrary(cfg.Data.LibraryPath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("初始化策略库失败: %w", err)
		}
		app.closers = append(app.closers, library.Close)
	}

	fetchTimeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	sources, err := b.sourcesFn(cfg.Market, fetchTimeout)
	if err != nil {
		app.Close()
		return nil, err
	}

	fetch, err := backtest.NewService(backtest.ServiceConfig{
		Store:           candles,
		Sources:         sources,
		DefaultExchange: cfg.Market.ResolveActiveSource().Name,
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxBatch:        cfg.Fetch.MaxBatch,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化拉取服务失败: %w", err)
	}
	app.fetch = fetch

	var profiles *profile.Registry
	if path := strings.TrimSpace(cfg.Profiles.Path); path != "" {
		profiles, err = profile.NewRegistry(path)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("加载策略 profile 失败: %w", err)
		}
		logger.Infof("✓ 已加载 %d 个策略 profile（%s）", len(profiles.Names()), path)
	} else {
		logger.Warnf("未配置 profiles.path，模板引用不可用")
	}

	runnerCfg := backtest.RunnerConfig{
		Candles:        candles,
		Results:        results,
		Fetcher:        fetch,
		Library:        library,
		DefaultProfile: cfg.Backtest.DefaultProfile,
		MaxConcurrent:  cfg.Backtest.MaxConcurrentRuns,
	}
	// typed-nil 注意: 只有注册表真实存在才塞进接口字段。
	if profiles != nil {
		runnerCfg.Profiles = profiles
	}
	runner, err := backtest.NewRunner(runnerCfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化回测执行器失败: %w", err)
	}
	app.runner = runner

	cache := b.cacheOverride
	if cache == nil {
		cache = store.NewMemoryCandleCache()
	}
	sweeps, err := sweep.NewService(sweep.ServiceConfig{
		Candles:     candles,
		Results:     library,
		Cache:       cache,
		MaxParallel: cfg.Sweep.MaxParallel,
		MaxCombos:   cfg.Sweep.MaxCombos,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化参数扫描失败: %w", err)
	}
	app.sweeps = sweeps

	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:     cfg.App.HTTPAddr,
		Svc:      fetch,
		Runner:   runner,
		Results:  results,
		Profiles: profiles,
		Library:  library,
		Sweeps:   sweeps,
		Reports:  report.NewRenderer(),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	app.server = server

	logger.Infof("✓ 应用装配完成（env=%s，addr=%s，source=%s）",
		cfg.App.Env, cfg.App.HTTPAddr, cfg.Market.ResolveActiveSource().Name)
	return app, nil
}

// buildCandleSources 按配置实例化各数据源。未知名称视为配置错误，
// 在任何 tick 跑起来之前失败。
func buildCandleSources(mc config.MarketConfig, timeout time.Duration) (map[string]backtest.CandleSource, error) {
	out := make(map[string]backtest.CandleSource)
	for _, src := range mc.Sources {
		if !src.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		switch name {
		case "binance":
			out[name] = backtest.NewBinanceSource(src.RESTBaseURL)
		case "binance_sdk":
			out[name] = backtest.NewSDKSource(src.RESTBaseURL, timeout)
		default:
			return nil, fmt.Errorf("未知数据源: %s", src.Name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("没有启用任何数据源")
	}
	return out, nil
}
