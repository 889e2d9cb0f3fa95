package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openSQLite serves local single-process runs. SQLite allows one writer, so
// the pool is pinned to a single connection and callers must keep every
// statement of a transaction on the transaction handle.
func openSQLite(cfg Config) (*gorm.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "hunter2.db"
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
