package engine

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	DefaultSymbol            = "UNKNOWN"
	defaultStartBalance      = 1000.0
	defaultLeverage          = 1
	defaultCommissionRate    = 0.0004
	defaultTakeProfitPct     = 5.0
	defaultStopLossPct       = 10.0
	defaultTPActivationPct   = 3.0
	defaultTPTrailPct        = 1.0
	defaultSLActivationPct   = 2.0
	defaultSLTrailPct        = 0.5
	defaultFirstOrderPct     = 10.0
	defaultMaxDCAOrders      = 5
	defaultMartingaleFactor  = 2.0
	defaultStepValuePct      = 1.5
	defaultStepDynamicFactor = 1.0
	defaultEntryPercent      = 2.0
	defaultEntryLookback     = 20
	defaultMaxDrawdownPct    = 20.0
	defaultMaxOpenPositions  = 1
	defaultMaxEntriesPerBar  = 1
	defaultWarningRatio      = 0.8
	defaultLiquidationRatio  = 0.5
)

// Progression 是马丁加仓倍数的推进方式。
type Progression string

const (
	ProgressionExponential Progression = "exponential"
	ProgressionLinear      Progression = "linear"
	ProgressionFibonacci   Progression = "fibonacci"
)

// StepType 决定 DCA 加仓步长的计算方式。
type StepType string

const (
	StepFixedPercent   StepType = "fixed_percent"
	StepDynamicPercent StepType = "dynamic_percent"
	StepATRBased       StepType = "atr_based"
)

// Config 是一次回测的完整策略参数。零值字段在 ApplyDefaults 后
// 获得缺省值，Validate 只接受归一化后的配置。
type Config struct {
	Symbol         string  `json:"symbol" yaml:"symbol"`
	Side           Side    `json:"order_type" yaml:"order_type"`
	StartBalance   float64 `json:"start_balance" yaml:"start_balance"`
	Leverage       int     `json:"leverage" yaml:"leverage"`
	CommissionRate float64 `json:"commission_rate" yaml:"commission_rate"`

	TakeProfit ExitRule `json:"take_profit" yaml:"take_profit"`
	StopLoss   ExitRule `json:"stop_loss" yaml:"stop_loss"`

	FirstOrder FirstOrderConfig `json:"first_order" yaml:"first_order"`
	DCA        DCAConfig        `json:"dca" yaml:"dca"`
	Entry      EntryConfig      `json:"entry_conditions" yaml:"entry_conditions"`
	Risk       RiskConfig       `json:"risk_management" yaml:"risk_management"`
	Margin     MarginConfig     `json:"margin" yaml:"margin"`
}

// ExitRule 描述止盈或止损的触发参数。
type ExitRule struct {
	// Enabled 使用指针以区分"显式 false"与"沿用缺省 true"。
	Enabled  *bool        `json:"enabled" yaml:"enabled"`
	Percent  float64      `json:"percent" yaml:"percent"`
	Trailing TrailingRule `json:"trailing" yaml:"trailing"`
}

// On 报告该规则是否生效；未显式设置时视为开启。
func (r ExitRule) On() bool {
	return r.Enabled == nil || *r.Enabled
}

// TrailingRule 描述移动止盈/止损的激活与回撤距离。
type TrailingRule struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	ActivationPercent float64 `json:"activation_percent" yaml:"activation_percent"`
	TrailPercent      float64 `json:"trail_percent" yaml:"trail_percent"`
}

// FirstOrderConfig 控制首单的保证金规模。
// 优先级: amount_fixed > risk_percent > amount_percent。
type FirstOrderConfig struct {
	AmountPercent float64 `json:"amount_percent" yaml:"amount_percent"`
	AmountFixed   float64 `json:"amount_fixed" yaml:"amount_fixed"`
	RiskPercent   float64 `json:"risk_percent" yaml:"risk_percent"`
}

// DCAConfig 控制逆势加仓与马丁倍投。
type DCAConfig struct {
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	MaxOrders  int              `json:"max_orders" yaml:"max_orders"`
	Martingale MartingaleConfig `json:"martingale" yaml:"martingale"`
	StepPrice  StepPriceConfig  `json:"step_price" yaml:"step_price"`
}

// MartingaleConfig 控制加仓数量的放大方式。
type MartingaleConfig struct {
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Multiplier  float64     `json:"multiplier" yaml:"multiplier"`
	Progression Progression `json:"progression" yaml:"progression"`
}

// StepPriceConfig 控制两次加仓之间要求的价格步长。
type StepPriceConfig struct {
	Type              StepType `json:"type" yaml:"type"`
	Value             float64  `json:"value" yaml:"value"`
	DynamicMultiplier float64  `json:"dynamic_multiplier" yaml:"dynamic_multiplier"`
	ATRMultiplier     float64  `json:"atr_multiplier" yaml:"atr_multiplier"`
}

// EntryConfig 选择开仓信号评估器及其参数。
type EntryConfig struct {
	Type             string  `json:"type" yaml:"type"`
	Trigger          string  `json:"trigger" yaml:"trigger"`
	Percent          float64 `json:"percent" yaml:"percent"`
	Lookback         int     `json:"lookback" yaml:"lookback"`
	MaxEntriesPerBar int     `json:"max_entries_per_bar" yaml:"max_entries_per_bar"`

	Indicator map[string]float64 `json:"indicator,omitempty" yaml:"indicator,omitempty"`
}

// RiskConfig 控制回撤熔断与持仓上限。
type RiskConfig struct {
	MaxDrawdownPercent float64 `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	MaxOpenPositions   int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// MarginConfig 控制保证金率的告警与强平阈值。
type MarginConfig struct {
	WarningRatio     float64 `json:"warning_ratio" yaml:"warning_ratio"`
	LiquidationRatio float64 `json:"liquidation_ratio" yaml:"liquidation_ratio"`
}

// ApplyDefaults 为所有零值字段写入缺省值。幂等，可安全重复调用。
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Symbol) == "" {
		c.Symbol = DefaultSymbol
	}
	if c.Side == "" {
		c.Side = SideLong
	}
	if c.StartBalance <= 0 {
		c.StartBalance = defaultStartBalance
	}
	if c.Leverage <= 0 {
		c.Leverage = defaultLeverage
	}
	if c.CommissionRate <= 0 {
		c.CommissionRate = defaultCommissionRate
	}

	c.TakeProfit.applyDefaults(defaultTakeProfitPct, defaultTPActivationPct, defaultTPTrailPct)
	c.StopLoss.applyDefaults(defaultStopLossPct, defaultSLActivationPct, defaultSLTrailPct)

	if c.FirstOrder.AmountPercent <= 0 {
		c.FirstOrder.AmountPercent = defaultFirstOrderPct
	}
	if c.DCA.MaxOrders <= 0 {
		c.DCA.MaxOrders = defaultMaxDCAOrders
	}
	if c.DCA.Martingale.Multiplier <= 0 {
		c.DCA.Martingale.Multiplier = defaultMartingaleFactor
	}
	if c.DCA.Martingale.Progression == "" {
		c.DCA.Martingale.Progression = ProgressionExponential
	}
	if c.DCA.StepPrice.Type == "" {
		c.DCA.StepPrice.Type = StepFixedPercent
	}
	if c.DCA.StepPrice.Value <= 0 {
		c.DCA.StepPrice.Value = defaultStepValuePct
	}
	if c.DCA.StepPrice.DynamicMultiplier <= 0 {
		c.DCA.StepPrice.DynamicMultiplier = defaultStepDynamicFactor
	}

	if c.Entry.Type == "" {
		c.Entry.Type = "manual"
	}
	if c.Entry.Trigger == "" {
		c.Entry.Trigger = "price_drop"
	}
	if c.Entry.Percent <= 0 {
		c.Entry.Percent = defaultEntryPercent
	}
	if c.Entry.Lookback <= 0 {
		c.Entry.Lookback = defaultEntryLookback
	}
	if c.Entry.MaxEntriesPerBar <= 0 {
		c.Entry.MaxEntriesPerBar = defaultMaxEntriesPerBar
	}

	if c.Risk.MaxDrawdownPercent <= 0 {
		c.Risk.MaxDrawdownPercent = defaultMaxDrawdownPct
	}
	if c.Risk.MaxOpenPositions <= 0 {
		c.Risk.MaxOpenPositions = defaultMaxOpenPositions
	}

	if c.Margin.WarningRatio <= 0 {
		c.Margin.WarningRatio = defaultWarningRatio
	}
	if c.Margin.LiquidationRatio <= 0 {
		c.Margin.LiquidationRatio = defaultLiquidationRatio
	}
}

func (r *ExitRule) applyDefaults(percent, activation, trail float64) {
	if r.Percent <= 0 {
		r.Percent = percent
	}
	if r.Trailing.ActivationPercent <= 0 {
		r.Trailing.ActivationPercent = activation
	}
	if r.Trailing.TrailPercent <= 0 {
		r.Trailing.TrailPercent = trail
	}
}

// Validate 对归一化后的配置做基础校验。
func (c *Config) Validate() error {
	if _, err := ParseSide(string(c.Side)); err != nil {
		return fmt.Errorf("order_type invalid: %w", err)
	}
	if c.StartBalance <= 0 {
		return fmt.Errorf("start_balance must be > 0")
	}
	if c.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1")
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0, 1)")
	}
	if c.TakeProfit.On() && c.TakeProfit.Percent <= 0 {
		return fmt.Errorf("take_profit.percent must be > 0 when enabled")
	}
	if c.StopLoss.On() && c.StopLoss.Percent <= 0 {
		return fmt.Errorf("stop_loss.percent must be > 0 when enabled")
	}
	switch c.DCA.Martingale.Progression {
	case ProgressionExponential, ProgressionLinear, ProgressionFibonacci:
	default:
		return fmt.Errorf("dca.martingale.progression unknown: %s", c.DCA.Martingale.Progression)
	}
	switch c.DCA.StepPrice.Type {
	case StepFixedPercent, StepDynamicPercent, StepATRBased:
	default:
		return fmt.Errorf("dca.step_price.type unknown: %s", c.DCA.StepPrice.Type)
	}
	if c.DCA.Enabled && c.DCA.MaxOrders < 1 {
		return fmt.Errorf("dca.max_orders must be >= 1 when dca enabled")
	}
	if c.DCA.Martingale.Enabled && c.DCA.Martingale.Multiplier < 1 {
		return fmt.Errorf("dca.martingale.multiplier must be >= 1 when enabled")
	}
	if c.Risk.MaxDrawdownPercent <= 0 || c.Risk.MaxDrawdownPercent > 100 {
		return fmt.Errorf("risk_management.max_drawdown_percent must be in (0, 100]")
	}
	if c.Margin.LiquidationRatio <= 0 || c.Margin.LiquidationRatio >= c.Margin.WarningRatio {
		return fmt.Errorf("margin.liquidation_ratio must be > 0 and below margin.warning_ratio")
	}
	return nil
}

// Clone 返回配置的深拷贝，供参数扫描在不共享指针的前提下改写字段。
func (c Config) Clone() Config {
	out := c
	out.TakeProfit.Enabled = cloneBool(c.TakeProfit.Enabled)
	out.StopLoss.Enabled = cloneBool(c.StopLoss.Enabled)
	if c.Entry.Indicator != nil {
		out.Entry.Indicator = make(map[string]float64, len(c.Entry.Indicator))
		for k, v := range c.Entry.Indicator {
			out.Entry.Indicator[k] = v
		}
	}
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
