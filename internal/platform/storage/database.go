package storage

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"facecam-server/internal/platform/errors"
	"facecam-server/internal/platform/storage/migrations"
)

// OpenDatabase opens (creating if needed) the SQLite database at path and
// applies pending migrations. path may also be a "file:" DSN or ":memory:".
func OpenDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "database path required")
	}

	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.mkdir", "failed to create data directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to open database", err)
	}

	if err := Migrate(db, registeredMigrations()); err != nil {
		_ = CloseDatabase(db)
		return nil, err
	}
	return db, nil
}

func registeredMigrations() []Migration {
	return []Migration{
		&migrations.Migration001Detections{},
	}
}

// CloseDatabase releases the pool behind db.
func CloseDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "failed to get sql handle", err)
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "failed to close database", err)
	}
	return nil
}
