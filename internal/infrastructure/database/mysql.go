package database

import (
	"fmt"
	"time"

	"goldledger/internal/config"
	"goldledger/internal/model"
	"goldledger/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitMySQL 初始化主账本库连接
func InitMySQL(cfg *config.MySQLConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := MigratePrimary(db); err != nil {
		return nil, err
	}

	logger.Info("MySQL 连接成功", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

// MigratePrimary 主库表结构
func MigratePrimary(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.GoldBalance{},
		&model.Transaction{},
		&model.SipPlan{},
		&model.OutboxMessage{},
		&model.Profile{},
	)
	if err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return nil
}
