package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 数据库配置
type Config struct {
	Type         string // sqlite 或 postgres，为空按 sqlite 处理
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SlowQuery    time.Duration // 超过该耗时的语句记为慢查询
}

// DefaultConfig 返回默认数据库配置
func DefaultConfig() *Config {
	return &Config{
		Type:         "sqlite",
		DSN:          "data/proofread.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		MaxLifetime:  time.Hour,
		SlowQuery:    200 * time.Millisecond,
	}
}

func (cfg *Config) isSQLite() bool {
	return cfg.Type == "" || cfg.Type == "sqlite"
}

// dialect 按类型选择gorm方言
func (cfg *Config) dialect() (gorm.Dialector, error) {
	switch {
	case cfg.isSQLite():
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case cfg.Type == "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
}

// Setup 连接数据库并迁移校对会话用到的表
func Setup(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.New()
	}

	dialector, err := cfg.dialect()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{log.WithField("component", "gorm")}, logger.Config{
			SlowThreshold:             cfg.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if cfg.isSQLite() {
		// SQLite 只允许一个写连接
		pool.SetMaxOpenConns(1)
	} else {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := AutoMigrate(db); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.WithField("type", cfg.Type).Info("Database connection established successfully")
	return db, nil
}

// AutoMigrate 迁移编辑记录、会话设置和识别任务表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.PageEdit{}, &models.Session{}, &models.OcrJob{})
}

// Close 关闭底层连接池，db 为空时什么也不做
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	pool, err := db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// gormWriter 把gorm的日志转给logrus
type gormWriter struct {
	entry *logrus.Entry
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.entry.Warnf(format, args...)
}
