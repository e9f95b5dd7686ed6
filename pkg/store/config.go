package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 存储配置
type Config struct {
	// 数据库类型: mysql, postgres, sqlite, sqlserver
	Type DBType `mapstructure:"type"`

	// 数据源名称
	DSN string `mapstructure:"dsn"`

	// 连接池配置
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// 日志级别 (1:Silent 2:Error 3:Warn 4:Info)
	LogLevel int `mapstructure:"log_level"`
}

// DefaultConfig 默认配置（本地 sqlite）
func DefaultConfig() *Config {
	return &Config{
		Type:            SQLite,
		DSN:             "relay.db",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		LogLevel:        3, // Warn
	}
}

// open 打开数据库连接
func open(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	dialector, err := getDialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.LogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// getDialector 根据数据库类型返回对应的 Dialector
func getDialector(dbType DBType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case MySQL:
		return mysql.Open(dsn), nil
	case PostgreSQL:
		return postgres.Open(dsn), nil
	case SQLite:
		return sqlite.Open(dsn), nil
	case SQLServer:
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
