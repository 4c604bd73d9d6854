package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/proxypanel/proxypanel/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库，自动迁移所有表
func InitDB(dataDir string) (*gorm.DB, error) {
	dbPath := filepath.Join(dataDir, "proxypanel.db")

	// 确保目录存在
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1) // SQLite 单连接
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 启用 WAL 模式提升并发性能
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")

	// 自动迁移所有表
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 初始化默认数据
	initDefaultData(db)

	return db, nil
}

// autoMigrate 自动迁移所有模型
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SystemConfig{},
		&OperationLog{},
	)
}

// initDefaultData 初始化默认配置数据
func initDefaultData(db *gorm.DB) {
	var count int64
	db.Model(&SystemConfig{}).Where("key = ?", "admin_password").Count(&count)
	if count == 0 {
		// 默认密码，首次登录后应修改
		hash, _ := utils.HashPassword("admin123")
		db.Create(&SystemConfig{
			Key:   "admin_password",
			Value: hash,
		})
	}

	db.Model(&SystemConfig{}).Where("key = ?", "jwt_secret").Count(&count)
	if count == 0 {
		// Token 签名密钥随库生成，重装面板前保持稳定
		db.Create(&SystemConfig{
			Key:   "jwt_secret",
			Value: utils.GenerateKey(32),
		})
	}
}

// GetConfigValue 读取单个系统配置项，不存在时返回空串
func GetConfigValue(db *gorm.DB, key string) string {
	var cfg SystemConfig
	if err := db.Where("key = ?", key).First(&cfg).Error; err != nil {
		return ""
	}
	return cfg.Value
}
