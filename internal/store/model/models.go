package model

import (
	"time"

	"gorm.io/datatypes"
)

type StrategyModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Name          string         `gorm:"column:name;uniqueIndex"`
	Description   string         `gorm:"column:description"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (StrategyModel) TableName() string { return "strategies" }

type SweepModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Symbol          string         `gorm:"column:symbol"`
	Status          string         `gorm:"column:status"`
	Metric          string         `gorm:"column:metric"`
	ExecutionTF     string         `gorm:"column:execution_tf"`
	StrategyTF      string         `gorm:"column:strategy_tf"`
	StartTS         int64          `gorm:"column:start_ts"`
	EndTS           int64          `gorm:"column:end_ts"`
	BaseConfigJSON  datatypes.JSON `gorm:"column:base_config_json;type:TEXT"`
	GridJSON        datatypes.JSON `gorm:"column:grid_json;type:TEXT"`
	Total           int            `gorm:"column:total"`
	Completed       int            `gorm:"column:completed"`
	Message         string         `gorm:"column:message"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
	CompletedAtUnix int64          `gorm:"column:completed_at"`
}

func (SweepModel) TableName() string { return "sweeps" }

type SweepResultModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SweepID       string         `gorm:"column:sweep_id;index:idx_sweep_results_sweep"`
	Seq           int            `gorm:"column:seq"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Score         float64        `gorm:"column:score"`
	TotalTrades   int            `gorm:"column:total_trades"`
	WinRate       float64        `gorm:"column:win_rate"`
	TotalPnL      float64        `gorm:"column:total_pnl"`
	ReturnPct     float64        `gorm:"column:return_pct"`
	MaxDrawdown   float64        `gorm:"column:max_drawdown"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (SweepResultModel) TableName() string { return "sweep_results" }
