package database

import (
	"fmt"
	"os"
	"path/filepath"

	"goldledger/internal/model"
	"goldledger/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const memoryDSN = ":memory:"

// InitSQLite 打开本地降级缓存文件，开启 WAL 保证掉电后已提交记录不丢
func InitSQLite(path string, logMode bool) (*gorm.DB, error) {
	dsn := path
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建降级缓存目录失败: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	}

	db, err := OpenSQLite(dsn, logMode)
	if err != nil {
		return nil, err
	}
	if err := MigrateFallback(db); err != nil {
		return nil, err
	}

	logger.Info("降级缓存已打开", "path", path)
	return db, nil
}

// OpenSQLite 单连接打开 SQLite，写入天然串行，内存库也不会因连接切换丢表
func OpenSQLite(dsn string, logMode bool) (*gorm.DB, error) {
	level := gormlogger.Silent
	if logMode {
		level = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return db, nil
}

// MigrateFallback 降级缓存表结构
func MigrateFallback(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.PendingEntry{}, &model.BalanceSnapshot{}); err != nil {
		return fmt.Errorf("迁移降级缓存表失败: %w", err)
	}
	return nil
}
