package storage

import (
	"time"

	"gorm.io/datatypes"
)

// DetectionRecord is one processed frame in the detection journal.
type DetectionRecord struct {
	ID        uint           `gorm:"primaryKey"                 json:"id"`
	Source    string         `gorm:"type:varchar(32);index"     json:"source"`
	SessionID string         `gorm:"type:varchar(64);index"     json:"session_id,omitempty"`
	Width     int            `                                  json:"width"`
	Height    int            `                                  json:"height"`
	FaceCount int            `gorm:"not null;default:0"         json:"face_count"`
	Regions   datatypes.JSON `                                  json:"regions"`
	ElapsedMS int64          `                                  json:"elapsed_ms"`
	CreatedAt time.Time      `gorm:"index;not null"             json:"created_at"`
	ExpiresAt *time.Time     `gorm:"index"                      json:"expires_at,omitempty"`
}

func (DetectionRecord) TableName() string {
	return "detection_records"
}
