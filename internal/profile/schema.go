package profile

import (
	"encoding/json"
	"strings"

	"stratlab/internal/engine"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchemaJSON 约束策略配置的结构与取值范围。校验发生在
// ApplyDefaults 之后，因此所有字段都已填充。
const configSchemaJSON = `{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "order_type": {"enum": ["long", "short"]},
    "start_balance": {"type": "number", "exclusiveMinimum": 0},
    "leverage": {"type": "integer", "minimum": 1, "maximum": 125},
    "commission_rate": {"type": "number", "minimum": 0, "exclusiveMaximum": 1},
    "take_profit": {"$ref": "#/$defs/exit_rule"},
    "stop_loss": {"$ref": "#/$defs/exit_rule"},
    "first_order": {
      "type": "object",
      "properties": {
        "amount_percent": {"type": "number", "minimum": 0, "maximum": 100},
        "amount_fixed": {"type": "number", "minimum": 0},
        "risk_percent": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "dca": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "max_orders": {"type": "integer", "minimum": 1, "maximum": 50},
        "martingale": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "multiplier": {"type": "number", "minimum": 1},
            "progression": {"enum": ["exponential", "linear", "fibonacci"]}
          }
        },
        "step_price": {
          "type": "object",
          "properties": {
            "type": {"enum": ["fixed_percent", "dynamic_percent", "atr_based"]},
            "value": {"type": "number", "exclusiveMinimum": 0},
            "dynamic_multiplier": {"type": "number", "exclusiveMinimum": 0},
            "atr_multiplier": {"type": "number", "minimum": 0}
          }
        }
      }
    },
    "entry_conditions": {
      "type": "object",
      "properties": {
        "type": {"enum": ["immediate", "manual", "trend_momentum", "volatility_bounce", "momentum_trend"]},
        "trigger": {"type": "string"},
        "percent": {"type": "number", "exclusiveMinimum": 0},
        "lookback": {"type": "integer", "minimum": 1, "maximum": 500},
        "max_entries_per_bar": {"type": "integer", "minimum": 1},
        "indicator": {"type": "object", "additionalProperties": {"type": "number"}}
      }
    },
    "risk_management": {
      "type": "object",
      "properties": {
        "max_drawdown_percent": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
        "max_open_positions": {"type": "integer", "minimum": 1}
      }
    },
    "margin": {
      "type": "object",
      "properties": {
        "warning_ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "liquidation_ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
      }
    }
  },
  "$defs": {
    "exit_rule": {
      "type": "object",
      "properties": {
        "enabled": {"type": ["boolean", "null"]},
        "percent": {"type": "number", "exclusiveMinimum": 0},
        "trailing": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "activation_percent": {"type": "number", "minimum": 0},
            "trail_percent": {"type": "number", "minimum": 0}
          }
        }
      }
    }
  }
}`

var configSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(configSchemaJSON)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// validateConfigSchema 以 JSON 视图运行 Schema 校验，把数值范围与
// 枚举错误在进引擎前拦下。
func validateConfigSchema(cfg engine.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return configSchema.Validate(doc)
}
