// Package database persists the session audit trail in a local SQLite file.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens (or creates) the audit database at dbPath and migrates the
// schema.
func Init(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&SessionEvent{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// RecordSessionEvent appends an audit row. Failures are logged, never fatal;
// the audit trail is observability, not control flow.
func RecordSessionEvent(sessionID, event, workingDir, command string) {
	if DB == nil {
		return
	}
	row := SessionEvent{
		SessionID:  sessionID,
		WorkingDir: workingDir,
		Command:    command,
		Event:      event,
	}
	if err := DB.Create(&row).Error; err != nil {
		log.Printf("[audit] record %s/%s: %v", sessionID, event, err)
	}
}
