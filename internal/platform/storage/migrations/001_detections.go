package migrations

import (
	"gorm.io/gorm"
)

// Migration001Detections creates the detection journal table.
type Migration001Detections struct{}

func (m *Migration001Detections) Version() string {
	return "001_detections"
}

func (m *Migration001Detections) Description() string {
	return "Create detection journal table"
}

func (m *Migration001Detections) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS detection_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source VARCHAR(32),
			session_id VARCHAR(64),
			width INTEGER,
			height INTEGER,
			face_count INTEGER NOT NULL DEFAULT 0,
			regions JSON,
			elapsed_ms INTEGER,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_detection_records_source ON detection_records(source)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_records_session_id ON detection_records(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_records_created_at ON detection_records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_records_expires_at ON detection_records(expires_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
