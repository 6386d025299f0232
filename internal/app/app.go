package app

import (
	"context"
	"fmt"

	"stratlab/internal/backtest"
	"stratlab/internal/config"
	"stratlab/internal/logger"
	"stratlab/internal/sweep"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
type App struct {
	cfg *config.Config

	server *backtest.HTTPServer
	fetch  *backtest.Service
	runner *backtest.Runner
	sweeps *sweep.Service

	closers []func() error
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务并把后台任务（拉取、回测、扫描）挂到 ctx 上，
// 阻塞直到 ctx 取消或服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	// 后台任务的生命周期跟随运行 ctx，而非构建 ctx。
	if a.fetch != nil {
		a.fetch.SetContext(ctx)
	}
	if a.runner != nil {
		a.runner.SetContext(ctx)
	}
	if a.sweeps != nil {
		a.sweeps.SetContext(ctx)
	}

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	err := group.Wait()
	a.Close()
	return err
}

// Close 释放底层存储。重复调用安全。
func (a *App) Close() {
	if a == nil {
		return
	}
	for _, fn := range a.closers {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			logger.Warnf("关闭存储失败: %v", err)
		}
	}
	a.closers = nil
}
