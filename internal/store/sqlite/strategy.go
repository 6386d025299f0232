package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/store"
	"stratlab/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveStrategy 按名称插入或更新一条策略配置。
func (s *Library) SaveStrategy(ctx context.Context, rec store.StrategyRecord) error {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return errors.New("策略名不能为空")
	}
	raw, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("序列化策略配置失败: %w", err)
	}
	now := time.Now().UnixMilli()
	m := model.StrategyModel{
		Name:          name,
		Description:   strings.TrimSpace(rec.Description),
		ConfigJSON:    datatypes.JSON(raw),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "config_json", "updated_at"}),
	}).Create(&m).Error
}

func (s *Library) GetStrategy(ctx context.Context, name string) (store.StrategyRecord, error) {
	name = strings.TrimSpace(name)
	var m model.StrategyModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.StrategyRecord{}, fmt.Errorf("策略 %s 不存在", name)
	}
	if err != nil {
		return store.StrategyRecord{}, err
	}
	return strategyRecord(m)
}

func (s *Library) ListStrategies(ctx context.Context, limit int) ([]store.StrategyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	var ms []model.StrategyModel
	if err := s.db.WithContext(ctx).Order("name ASC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]store.StrategyRecord, 0, len(ms))
	for _, m := range ms {
		rec, err := strategyRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Library) DeleteStrategy(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&model.StrategyModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("策略 %s 不存在", name)
	}
	return nil
}

// StrategyConfig 加载命名策略的 engine 配置，供回测执行器引用。
func (s *Library) StrategyConfig(ctx context.Context, name string) (engine.Config, error) {
	rec, err := s.GetStrategy(ctx, name)
	if err != nil {
		return engine.Config{}, err
	}
	return rec.Config, nil
}

func strategyRecord(m model.StrategyModel) (store.StrategyRecord, error) {
	rec := store.StrategyRecord{
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   timeFromUnixMilli(m.CreatedAtUnix),
		UpdatedAt:   timeFromUnixMilli(m.UpdatedAtUnix),
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &rec.Config); err != nil {
			return store.StrategyRecord{}, fmt.Errorf("解析策略 %s 配置失败: %w", m.Name, err)
		}
	}
	return rec, nil
}
