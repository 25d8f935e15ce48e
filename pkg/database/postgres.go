// Package database 负责建立数据库与缓存连接。
package database

import (
	"context"
	"fmt"
	"time"

	// 注册 lib/pq 驱动，gorm 通过 DriverName "postgres" 使用它
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/errs"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/retry"
)

// InitPostgres 打开 PostgreSQL 连接池，并在有限次数内以固定间隔等待数据库就绪。
// 次数耗尽后返回 errs.ErrStoreUnavailable。
func InitPostgres(ctx context.Context, cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        cfg.DSN(),
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true, // 由下面的重试循环负责探活
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", errs.ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get sql.DB: %v", errs.ErrStoreUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	policy := retry.Policy{
		Attempts: cfg.ConnectRetries,
		Interval: cfg.RetryInterval,
		OnRetry: func(attempt int, err error) {
			log.Warnf("[Database] 数据库尚未就绪 (第 %d/%d 次), %s 后重试: %v", attempt, cfg.ConnectRetries, cfg.RetryInterval, err)
		},
	}
	if err := policy.Do(ctx, func(ctx context.Context) error { return sqlDB.PingContext(ctx) }); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: could not connect to database %s:%s: %v", errs.ErrStoreUnavailable, cfg.Host, cfg.Port, err)
	}

	log.Infof("[Database] PostgreSQL 连接成功, host: %s, db: %s", cfg.Host, cfg.DBName)
	return db, nil
}

// Close 释放连接池。
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
