package sweep

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"stratlab/internal/engine"
)

// expandGrid 把参数网格展开成全部组合。键按字典序推进，
// 相同输入下组合顺序稳定。
func expandGrid(grid map[string][]any) ([]map[string]any, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("参数网格不能为空")
	}
	keys := make([]string, 0, len(grid))
	for k := range grid {
		key := strings.TrimSpace(k)
		if key == "" {
			return nil, fmt.Errorf("参数路径不能为空")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	combos := []map[string]any{{}}
	for _, k := range keys {
		vals := grid[k]
		if len(vals) == 0 {
			return nil, fmt.Errorf("参数 %s 没有候选值", k)
		}
		next := make([]map[string]any, 0, len(combos)*len(vals))
		for _, combo := range combos {
			for _, v := range vals {
				m := make(map[string]any, len(combo)+1)
				for ck, cv := range combo {
					m[ck] = cv
				}
				m[k] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos, nil
}

// applyOverrides 在基准配置的 JSON 视图上写入点分路径的参数值，
// 再还原为配置并重新归一化。路径必须命中基准配置中已存在的字段。
func applyOverrides(base engine.Config, overrides map[string]any) (engine.Config, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return engine.Config{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return engine.Config{}, err
	}
	for path, v := range overrides {
		if err := setPath(doc, strings.Split(path, "."), v); err != nil {
			return engine.Config{}, err
		}
	}
	patched, err := json.Marshal(doc)
	if err != nil {
		return engine.Config{}, err
	}
	var cfg engine.Config
	if err := json.Unmarshal(patched, &cfg); err != nil {
		return engine.Config{}, fmt.Errorf("参数组合无法还原为配置: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func setPath(doc map[string]any, path []string, v any) error {
	cur := doc
	for i, seg := range path[:len(path)-1] {
		child, ok := cur[seg]
		if !ok {
			return fmt.Errorf("未知参数路径 %s", strings.Join(path[:i+1], "."))
		}
		m, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("参数路径 %s 不是对象", strings.Join(path[:i+1], "."))
		}
		cur = m
	}
	leaf := path[len(path)-1]
	if _, ok := cur[leaf]; !ok {
		return fmt.Errorf("未知参数 %s", strings.Join(path, "."))
	}
	cur[leaf] = v
	return nil
}

// comboLabel 以 key=value 形式串联组合，做并列分数的稳定排序键。
func comboLabel(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ",")
}
