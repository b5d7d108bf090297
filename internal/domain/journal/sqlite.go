package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"facecam-server/internal/domain/face"
	"facecam-server/internal/platform/storage"
)

type sqliteStore struct {
	db       *gorm.DB
	ttl      time.Duration
	capacity int
}

// NewSQLite builds a SQLite-backed journal on an already migrated database.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:       db,
		ttl:      cfg.ttl(),
		capacity: cfg.capacity(),
	}, nil
}

func (s *sqliteStore) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	regions, err := sonic.Marshal(rec.Faces)
	if err != nil {
		return err
	}
	expires := rec.CreatedAt.Add(s.ttl)

	row := &storage.DetectionRecord{
		Source:    rec.Source,
		SessionID: rec.SessionID,
		Width:     rec.Width,
		Height:    rec.Height,
		FaceCount: len(rec.Faces),
		Regions:   datatypes.JSON(regions),
		ElapsedMS: rec.Elapsed.Milliseconds(),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: &expires,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	var rows []storage.DetectionRecord
	if err := s.db.WithContext(ctx).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit, s.capacity)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRecord(row storage.DetectionRecord) (Record, error) {
	var faces []face.Region
	if len(row.Regions) > 0 {
		if err := sonic.Unmarshal(row.Regions, &faces); err != nil {
			return Record{}, fmt.Errorf("decode regions of record %d: %w", row.ID, err)
		}
	}
	if faces == nil {
		faces = []face.Region{}
	}
	return Record{
		ID:        strconv.FormatUint(uint64(row.ID), 10),
		Source:    row.Source,
		SessionID: row.SessionID,
		Width:     row.Width,
		Height:    row.Height,
		Faces:     faces,
		Elapsed:   time.Duration(row.ElapsedMS) * time.Millisecond,
		CreatedAt: row.CreatedAt,
	}, nil
}

// CleanupExpired deletes expired rows, then everything beyond capacity.
func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&storage.DetectionRecord{}).Error; err != nil {
		return err
	}

	keep := db.Model(&storage.DetectionRecord{}).
		Select("id").
		Order("created_at DESC, id DESC").
		Limit(s.capacity)
	return db.Where("id NOT IN (?)", keep).Delete(&storage.DetectionRecord{}).Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.DetectionRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	var faces int64
	if err := s.db.WithContext(ctx).Model(&storage.DetectionRecord{}).
		Select("COALESCE(SUM(face_count), 0)").Scan(&faces).Error; err != nil {
		return nil, err
	}
	schema, err := storage.SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":     DriverSQLite,
		"total":    total,
		"faces":    faces,
		"capacity": s.capacity,
		"ttl":      int(s.ttl.Seconds()),
		"schema":   schema,
	}, nil
}

// Close leaves the shared database handle open; its owner closes it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
