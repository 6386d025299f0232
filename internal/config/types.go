package config

import "strings"

// Config 是 stratlab 进程的主配置载体。策略参数不在这里:
// engine.Config 由 profile 文件与策略库单独管理。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Fetch    FetchConfig    `toml:"fetch"`
	Market   MarketConfig   `toml:"market"`
	Backtest BacktestConfig `toml:"backtest"`
	Profiles ProfilesConfig `toml:"profiles"`
	Sweep    SweepConfig    `toml:"sweep"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 指定各类 sqlite 数据的落盘位置。
type DataConfig struct {
	Root        string `toml:"root"`         // K 线库目录，每个 symbol@timeframe 一个文件
	ResultsPath string `toml:"results_path"` // 回测运行结果库
	LibraryPath string `toml:"library_path"` // 策略库与扫描结果库
}

// FetchConfig 控制远端 K 线拉取的限速、批量与并发。
type FetchConfig struct {
	RateLimitPerMin int `toml:"rate_limit_per_min"`
	MaxBatch        int `toml:"max_batch"`
	MaxConcurrent   int `toml:"max_concurrent"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

// MarketSource 描述一个候选 K 线数据源。Name 决定实现:
// binance 直连合约 REST，binance_sdk 走 go-binance SDK。
type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
}

// BacktestConfig 控制回测执行器。
type BacktestConfig struct {
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	DefaultProfile    string `toml:"default_profile"`
}

// ProfilesConfig 指向策略 profile 文件。path 显式置空则不启用
// 热加载注册表，运行请求需要内联配置或策略库引用。
type ProfilesConfig struct {
	Path string `toml:"path"`
}

// SweepConfig 控制参数扫描的并行度与组合规模上限。
type SweepConfig struct {
	MaxParallel int `toml:"max_parallel"`
	MaxCombos   int `toml:"max_combos"`
}

// ResolveActiveSource 返回生效的数据源配置，未命中时退回第一个。
func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
