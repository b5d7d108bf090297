package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"facecam-server/internal/platform/errors"
)

// Migration is one forward-only schema step. Up runs inside a transaction
// together with the bookkeeping row.
type Migration interface {
	Version() string
	Description() string
	Up(tx *gorm.DB) error
}

// SchemaMigration marks an applied migration.
type SchemaMigration struct {
	Version   string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

// Migrate applies every migration not yet recorded, in ascending version
// order. Versions must be unique.
func Migrate(db *gorm.DB, steps []Migration) error {
	ordered := slices.Clone(steps)
	slices.SortStableFunc(ordered, func(a, b Migration) int {
		return strings.Compare(a.Version(), b.Version())
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version() == ordered[i-1].Version() {
			return errors.New(errors.KindStorage, "migration.register",
				fmt.Sprintf("duplicate migration version %s", ordered[i].Version()))
		}
	}

	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return errors.Wrap(errors.KindStorage, "migration.create_table", "failed to create migration table", err)
	}

	var applied []string
	if err := db.Model(&SchemaMigration{}).Pluck("version", &applied).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "migration.get_applied", "failed to get applied migrations", err)
	}

	for _, step := range ordered {
		if slices.Contains(applied, step.Version()) {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{
				Version:   step.Version(),
				Name:      step.Description(),
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return errors.Wrap(errors.KindStorage, "migration.up", fmt.Sprintf("failed to run migration %s", step.Version()), err)
		}
	}
	return nil
}

// SchemaVersion returns the newest applied migration, or "" for an empty database.
func SchemaVersion(ctx context.Context, db *gorm.DB) (string, error) {
	var versions []string
	if err := db.WithContext(ctx).Model(&SchemaMigration{}).
		Order("version DESC").Limit(1).Pluck("version", &versions).Error; err != nil {
		return "", errors.Wrap(errors.KindStorage, "migration.version", "failed to read schema version", err)
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[0], nil
}
