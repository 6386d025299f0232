package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/store"
	"stratlab/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Library) InsertSweep(ctx context.Context, rec store.SweepRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("sweep id 不能为空")
	}
	baseJSON, err := json.Marshal(rec.Base)
	if err != nil {
		return fmt.Errorf("序列化基准配置失败: %w", err)
	}
	gridJSON, err := json.Marshal(rec.Grid)
	if err != nil {
		return fmt.Errorf("序列化参数网格失败: %w", err)
	}
	now := time.Now().UnixMilli()
	m := model.SweepModel{
		ID:             rec.ID,
		Symbol:         rec.Symbol,
		Status:         rec.Status,
		Metric:         rec.Metric,
		ExecutionTF:    rec.ExecutionTimeframe,
		StrategyTF:     rec.StrategyTimeframe,
		StartTS:        rec.StartTS,
		EndTS:          rec.EndTS,
		BaseConfigJSON: datatypes.JSON(baseJSON),
		GridJSON:       datatypes.JSON(gridJSON),
		Total:          rec.Total,
		Completed:      rec.Completed,
		Message:        rec.Message,
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Library) UpdateSweepStatus(ctx context.Context, id, status, message string) error {
	return s.db.WithContext(ctx).Model(&model.SweepModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"message":    message,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

func (s *Library) UpdateSweepProgress(ctx context.Context, id string, completed int) error {
	return s.db.WithContext(ctx).Model(&model.SweepModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed":  completed,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

func (s *Library) CompleteSweep(ctx context.Context, id, status string, completed int, message string) error {
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Model(&model.SweepModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"completed":    completed,
			"message":      message,
			"updated_at":   now,
			"completed_at": now,
		}).Error
}

func (s *Library) InsertSweepResults(ctx context.Context, sweepID string, results []store.SweepResultRecord) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	models := make([]model.SweepResultModel, 0, len(results))
	for _, r := range results {
		paramsJSON, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("序列化参数组合失败: %w", err)
		}
		statsJSON, err := json.Marshal(r.Summary)
		if err != nil {
			return fmt.Errorf("序列化统计摘要失败: %w", err)
		}
		models = append(models, model.SweepResultModel{
			SweepID:       sweepID,
			Seq:           r.Rank,
			ParamsJSON:    datatypes.JSON(paramsJSON),
			Score:         r.Score,
			TotalTrades:   r.Summary.TotalTrades,
			WinRate:       r.Summary.WinRate,
			TotalPnL:      r.Summary.TotalPnL,
			ReturnPct:     r.Summary.TotalReturnPercent,
			MaxDrawdown:   r.Summary.MaxDrawdownPercent,
			StatsJSON:     datatypes.JSON(statsJSON),
			CreatedAtUnix: now,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 100).Error
}

func (s *Library) GetSweep(ctx context.Context, id string) (store.SweepRecord, error) {
	var m model.SweepModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.SweepRecord{}, fmt.Errorf("sweep %s 不存在", id)
	}
	if err != nil {
		return store.SweepRecord{}, err
	}
	return sweepRecord(m)
}

func (s *Library) ListSweeps(ctx context.Context, limit int) ([]store.SweepRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var ms []model.SweepModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]store.SweepRecord, 0, len(ms))
	for _, m := range ms {
		rec, err := sweepRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Library) ListSweepResults(ctx context.Context, sweepID string, limit int) ([]store.SweepResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	var ms []model.SweepResultModel
	err := s.db.WithContext(ctx).
		Where("sweep_id = ?", sweepID).
		Order("seq ASC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.SweepResultRecord, 0, len(ms))
	for _, m := range ms {
		rec := store.SweepResultRecord{
			SweepID: m.SweepID,
			Rank:    m.Seq,
			Score:   m.Score,
		}
		if len(m.ParamsJSON) > 0 {
			if err := json.Unmarshal(m.ParamsJSON, &rec.Params); err != nil {
				return nil, fmt.Errorf("解析参数组合失败: %w", err)
			}
		}
		if len(m.StatsJSON) > 0 {
			if err := json.Unmarshal(m.StatsJSON, &rec.Summary); err != nil {
				return nil, fmt.Errorf("解析统计摘要失败: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func sweepRecord(m model.SweepModel) (store.SweepRecord, error) {
	rec := store.SweepRecord{
		ID:                 m.ID,
		Symbol:             m.Symbol,
		Status:             m.Status,
		Metric:             m.Metric,
		ExecutionTimeframe: m.ExecutionTF,
		StrategyTimeframe:  m.StrategyTF,
		StartTS:            m.StartTS,
		EndTS:              m.EndTS,
		Total:              m.Total,
		Completed:          m.Completed,
		Message:            m.Message,
		CreatedAt:          timeFromUnixMilli(m.CreatedAtUnix),
		UpdatedAt:          timeFromUnixMilli(m.UpdatedAtUnix),
		CompletedAt:        timeFromUnixMilli(m.CompletedAtUnix),
	}
	if len(m.BaseConfigJSON) > 0 {
		if err := json.Unmarshal(m.BaseConfigJSON, &rec.Base); err != nil {
			return store.SweepRecord{}, fmt.Errorf("解析基准配置失败: %w", err)
		}
	}
	if len(m.GridJSON) > 0 {
		if err := json.Unmarshal(m.GridJSON, &rec.Grid); err != nil {
			return store.SweepRecord{}, fmt.Errorf("解析参数网格失败: %w", err)
		}
	}
	return rec, nil
}
