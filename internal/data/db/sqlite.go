package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

// NewSQLite opens a single-connection SQLite database. SQLite has no row
// locks, so one connection serializes every transaction.
func NewSQLite(path string, logg *logger.Logger) (*gorm.DB, error) {
	if path == "" {
		path = "file:chatcore.db?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if logg != nil {
		logg.With("service", "SQLite").Info("Opened SQLite database", "path", path)
	}
	return db, nil
}
