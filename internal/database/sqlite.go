package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Redemption runs a write transaction; under concurrent redeems SQLite
// needs a busy timeout so the loser waits instead of failing with
// SQLITE_BUSY.
const sqliteBusyTimeoutMS = 5000

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		var err error
		if dsn, err = sqliteDSN(cfg.Path); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	return db, nil
}

func sqliteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return fmt.Sprintf("file::memory:?cache=shared&_foreign_keys=1&_busy_timeout=%d", sqliteBusyTimeoutMS), nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d",
		filepath.ToSlash(path), sqliteBusyTimeoutMS), nil
}
