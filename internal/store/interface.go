package store

import (
	"context"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/stats"
)

// StrategyRecord 是策略库中的一条命名配置。
type StrategyRecord struct {
	Name        string        `json:"name" binding:"required"`
	Description string        `json:"description,omitempty"`
	Config      engine.Config `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SweepRecord 描述一次参数扫描及其进度。Base 为基准配置，
// Grid 的键是点分参数路径，值是候选取值列表。
type SweepRecord struct {
	ID                 string           `json:"id"`
	Symbol             string           `json:"symbol"`
	Status             string           `json:"status"`
	Metric             string           `json:"metric"`
	ExecutionTimeframe string           `json:"execution_timeframe"`
	StrategyTimeframe  string           `json:"strategy_timeframe,omitempty"`
	StartTS            int64            `json:"start_ts"`
	EndTS              int64            `json:"end_ts"`
	Base               engine.Config    `json:"base_config"`
	Grid               map[string][]any `json:"grid"`
	Total              int              `json:"total"`
	Completed          int              `json:"completed"`
	Message            string           `json:"message,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	CompletedAt        time.Time        `json:"completed_at"`
}

// SweepResultRecord 是单个参数组合的评估结果，Rank 按指标从优到劣。
type SweepResultRecord struct {
	SweepID string         `json:"sweep_id,omitempty"`
	Rank    int            `json:"rank"`
	Params  map[string]any `json:"params"`
	Score   float64        `json:"score"`
	Summary stats.Summary  `json:"summary"`
}

// StrategyRepository 管理已保存的策略配置。
type StrategyRepository interface {
	SaveStrategy(ctx context.Context, rec StrategyRecord) error
	GetStrategy(ctx context.Context, name string) (StrategyRecord, error)
	ListStrategies(ctx context.Context, limit int) ([]StrategyRecord, error)
	DeleteStrategy(ctx context.Context, name string) error
}

// SweepRepository 管理参数扫描记录与结果。
type SweepRepository interface {
	InsertSweep(ctx context.Context, rec SweepRecord) error
	UpdateSweepStatus(ctx context.Context, id, status, message string) error
	UpdateSweepProgress(ctx context.Context, id string, completed int) error
	CompleteSweep(ctx context.Context, id, status string, completed int, message string) error
	InsertSweepResults(ctx context.Context, sweepID string, results []SweepResultRecord) error
	GetSweep(ctx context.Context, id string) (SweepRecord, error)
	ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error)
	ListSweepResults(ctx context.Context, sweepID string, limit int) ([]SweepResultRecord, error)
}

// Store 聚合策略库与参数扫描两类持久化能力。
type Store interface {
	StrategyRepository
	SweepRepository
	Close() error
}
