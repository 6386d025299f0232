// Package profile 维护命名策略模板: YAML 文件热加载、严格解码与
// JSON Schema 校验，快照带版本号供监听方感知变更。
package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Profile 是一个命名策略模板。
type Profile struct {
	Name        string        `yaml:"-" json:"name"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Default     bool          `yaml:"default" json:"default,omitempty"`
	Config      engine.Config `yaml:"config" json:"config"`
}

// FileConfig 映射 profile 配置文件的顶层结构。
type FileConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot 对外暴露的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(Snapshot)

// Registry 负责从 YAML 文件加载 profile，并监听热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并开始监听 FS 事件。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notify()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// List 返回全部 profile，按名称排序。
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.snapshot.Profiles))
	for _, p := range r.snapshot.Profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names 返回全部 profile 名称，按字典序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Profiles))
	for name := range r.snapshot.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StrategyConfig 返回命名模板的策略配置副本。
func (r *Registry) StrategyConfig(name string) (engine.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(name)]
	if !ok {
		return engine.Config{}, false
	}
	return p.Config.Clone(), true
}

// DefaultName 返回标记为 default 的 profile 名。多个 default 时
// 取字典序最小者，保证重载前后稳定。
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, p := range r.snapshot.Profiles {
		if p.Default {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	snap := cloneSnapshot(r.snapshot)
	r.mu.Unlock()
	go func() {
		defer safeRecover("profile listener")
		fn(snap)
	}()
}

func (r *Registry) notify() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("profile listener")
			cb(snap)
		}(fn)
	}
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}
	cfg, err := decodeFile(raw)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile)
	for name, p := range cfg.Profiles {
		norm, err := normalizeProfile(name, p)
		if err != nil {
			logger.Errorf("profile %s 校验失败，跳过: %v", name, err)
			continue
		}
		profiles[norm.Name] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

// Validate 解析并校验一份 profile YAML，返回通过校验的名称列表。
// 任一 profile 不合法即报错，不产生部分结果。
func Validate(raw []byte) ([]string, error) {
	cfg, err := decodeFile(raw)
	if err != nil {
		return nil, err
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("配置未定义任何 profile")
	}
	names := make([]string, 0, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		if _, err := normalizeProfile(name, p); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func decodeFile(raw []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}

// normalizeProfile 填入默认值后做 Schema 与引擎两道校验，
// 返回的 Config 已归一化，可直接进引擎。
func normalizeProfile(name string, p Profile) (Profile, error) {
	p.Name = strings.TrimSpace(name)
	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile 名不能为空")
	}
	p.Description = strings.TrimSpace(p.Description)
	p.Config.ApplyDefaults()
	if err := validateConfigSchema(p.Config); err != nil {
		return Profile{}, err
	}
	if err := p.Config.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
