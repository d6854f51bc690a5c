package db

import (
	"fmt"

	"github.com/zulandar/docyard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the driver-specific DSN for cfg. An explicit cfg.DSN wins.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	switch cfg.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	default:
		user := cfg.User
		if user == "" {
			user = "root"
		}
		auth := user
		if cfg.Password != "" {
			auth += ":" + cfg.Password
		}
		return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", auth, cfg.Host, cfg.Port, cfg.Name)
	}
}

// Dialector returns the GORM dialector for cfg.Driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := DSN(cfg)
	switch cfg.Driver {
	case "mysql", "":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection to the job record store.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
