package orm

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Driver                 string `mapstructure:"driver" yaml:"driver"`
	DSN                    string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" yaml:"conn_max_lifetime_minutes"`
	// silent / error / warn / info
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// OpenSQL 打开连接池并 ping 一次
func OpenSQL(ctx context.Context, c *Config) (*sql.DB, error) {
	driver := c.Driver
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, c.DSN)
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewGorm 在已有连接池上包一层 gorm（MySQL 方言）
func NewGorm(sqlDB *sql.DB, logLevel string) (*gorm.DB, error) {
	return gorm.Open(mysql.New(mysql.Config{
		Conn: sqlDB,
	}), GormConfig(logLevel))
}

// GormConfig 统一的 gorm 配置，测试里用 sqlite 时也用它
func GormConfig(logLevel string) *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 gormlogger.Default.LogMode(parseLogLevel(logLevel)),
	}
}

func parseLogLevel(s string) gormlogger.LogLevel {
	switch s {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}
