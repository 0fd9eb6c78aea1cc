package storage

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config mirrors the storage section of the application config.
type Config struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	EventsTable   string `yaml:"events_table"`
	AccountsTable string `yaml:"accounts_table"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// Open creates a GORM connection for the configured driver.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Driver == "" {
		return nil, errors.New("storage driver is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := NormalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	default:
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	}
}

// Close closes the connection pool behind a GORM handle.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NormalizeDriver maps driver aliases to the names Open understands.
func NormalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}
