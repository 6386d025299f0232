package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stratlab/internal/store"
	"stratlab/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Library 基于 Gorm + SQLite 保存策略库与参数扫描结果。
type Library struct {
	db *gorm.DB
}

func NewLibrary(path string) (*Library, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newLibrary(db)
}

func NewLibraryFromDB(db *gorm.DB) (*Library, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newLibrary(db)
}

func newLibrary(db *gorm.DB) (*Library, error) {
	models := []interface{}{
		&model.StrategyModel{},
		&model.SweepModel{},
		&model.SweepResultModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
		// while keeping lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Library{db: db}, nil
}

var _ store.Store = (*Library)(nil)

func (s *Library) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func timeFromUnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
