package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Sweep.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level unsupported: %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	if strings.TrimSpace(d.ResultsPath) == "" {
		return fmt.Errorf("data.results_path cannot be empty")
	}
	if strings.TrimSpace(d.LibraryPath) == "" {
		return fmt.Errorf("data.library_path cannot be empty")
	}
	return nil
}

func (f *FetchConfig) validate() error {
	if f.RateLimitPerMin <= 0 {
		return fmt.Errorf("fetch.rate_limit_per_min must be > 0")
	}
	if f.MaxBatch <= 0 {
		return fmt.Errorf("fetch.max_batch must be > 0")
	}
	if f.MaxConcurrent <= 0 {
		return fmt.Errorf("fetch.max_concurrent must be > 0")
	}
	if f.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	return nil
}

// 数据源名单与 app 层的构建逻辑保持一致。
var knownMarketSources = map[string]bool{
	"binance":     true,
	"binance_sdk": true,
}

func (m *MarketConfig) validate() error {
	enabled := 0
	for _, src := range m.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if !knownMarketSources[name] {
			return fmt.Errorf("market.sources contains unknown source: %s", src.Name)
		}
		if src.Enabled {
			enabled++
		}
	}
	if len(m.Sources) > 0 && enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("backtest.max_concurrent_runs must be > 0")
	}
	return nil
}

func (s *SweepConfig) validate() error {
	if s.MaxParallel <= 0 {
		return fmt.Errorf("sweep.max_parallel must be > 0")
	}
	if s.MaxCombos <= 0 {
		return fmt.Errorf("sweep.max_combos must be > 0")
	}
	return nil
}
