package config

import (
	"fmt"
	"strings"

	"stratlab/internal/engine"

	"github.com/tidwall/gjson"
)

// ImportLegacyStrategy 把旧版扁平 JSON 策略文档转换为 engine.Config。
// 旧文档的数字字段经常被写成字符串（"2.0"），这里统一用 gjson 的
// 宽松取值，再走 ApplyDefaults + Validate 收口。
func ImportLegacyStrategy(raw []byte) (engine.Config, error) {
	doc := strings.TrimSpace(string(raw))
	if doc == "" {
		return engine.Config{}, fmt.Errorf("legacy strategy json 为空")
	}
	if !gjson.Valid(doc) {
		return engine.Config{}, fmt.Errorf("legacy strategy json 格式无效")
	}
	root := gjson.Parse(doc)
	if !root.IsObject() {
		return engine.Config{}, fmt.Errorf("legacy strategy 根节点必须是对象")
	}

	var cfg engine.Config
	cfg.Symbol = strings.TrimSpace(root.Get("symbol").String())
	cfg.Side = engine.Side(strings.ToLower(strings.TrimSpace(root.Get("order_type").String())))
	cfg.StartBalance = root.Get("start_balance").Float()
	cfg.Leverage = int(root.Get("leverage").Int())
	cfg.CommissionRate = root.Get("commission_rate").Float()

	cfg.TakeProfit = legacyExitRule(root.Get("take_profit"))
	cfg.StopLoss = legacyExitRule(root.Get("stop_loss"))

	if fo := root.Get("first_order"); fo.IsObject() {
		cfg.FirstOrder = engine.FirstOrderConfig{
			AmountPercent: fo.Get("amount_percent").Float(),
			AmountFixed:   fo.Get("amount_fixed").Float(),
			RiskPercent:   fo.Get("risk_percent").Float(),
		}
	}

	if dca := root.Get("dca"); dca.IsObject() {
		cfg.DCA = engine.DCAConfig{
			Enabled:   dca.Get("enabled").Bool(),
			MaxOrders: int(dca.Get("max_orders").Int()),
			Martingale: engine.MartingaleConfig{
				Enabled:     dca.Get("martingale.enabled").Bool(),
				Multiplier:  dca.Get("martingale.multiplier").Float(),
				Progression: engine.Progression(strings.ToLower(strings.TrimSpace(dca.Get("martingale.progression").String()))),
			},
			StepPrice: engine.StepPriceConfig{
				Type:              engine.StepType(strings.ToLower(strings.TrimSpace(dca.Get("step_price.type").String()))),
				Value:             dca.Get("step_price.value").Float(),
				DynamicMultiplier: dca.Get("step_price.dynamic_multiplier").Float(),
				ATRMultiplier:     dca.Get("step_price.atr_multiplier").Float(),
			},
		}
	}

	if entry := root.Get("entry_conditions"); entry.IsObject() {
		cfg.Entry = engine.EntryConfig{
			Type:             strings.ToLower(strings.TrimSpace(entry.Get("type").String())),
			Trigger:          strings.ToLower(strings.TrimSpace(entry.Get("trigger").String())),
			Percent:          entry.Get("percent").Float(),
			Lookback:         int(entry.Get("lookback").Int()),
			MaxEntriesPerBar: int(entry.Get("max_entries_per_bar").Int()),
		}
		// 旧文档里指标参数直接平铺在 entry_conditions 下。
		if ind := entry.Get("indicator"); ind.IsObject() {
			cfg.Entry.Indicator = make(map[string]float64)
			ind.ForEach(func(key, value gjson.Result) bool {
				cfg.Entry.Indicator[key.String()] = value.Float()
				return true
			})
		}
	}

	if risk := root.Get("risk_management"); risk.IsObject() {
		cfg.Risk = engine.RiskConfig{
			MaxDrawdownPercent: risk.Get("max_drawdown_percent").Float(),
			MaxOpenPositions:   int(risk.Get("max_open_positions").Int()),
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, fmt.Errorf("legacy strategy 校验失败: %w", err)
	}
	return cfg, nil
}

func legacyExitRule(node gjson.Result) engine.ExitRule {
	var rule engine.ExitRule
	if !node.IsObject() {
		return rule
	}
	if enabled := node.Get("enabled"); enabled.Exists() {
		v := enabled.Bool()
		rule.Enabled = &v
	}
	rule.Percent = node.Get("percent").Float()
	if tr := node.Get("trailing"); tr.IsObject() {
		rule.Trailing = engine.TrailingRule{
			Enabled:           tr.Get("enabled").Bool(),
			ActivationPercent: tr.Get("activation_percent").Float(),
			TrailPercent:      tr.Get("trail_percent").Float(),
		}
	}
	return rule
}
