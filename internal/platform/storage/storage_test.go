package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestOpenDatabaseRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "facecam.db")
	db, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("OpenDatabase returned error: %v", err)
	}
	defer CloseDatabase(db)

	if !db.Migrator().HasTable(&DetectionRecord{}) {
		t.Fatal("detection_records table missing")
	}

	version, err := SchemaVersion(context.Background(), db)
	if err != nil {
		t.Fatalf("SchemaVersion returned error: %v", err)
	}
	if version != "001_detections" {
		t.Fatalf("unexpected schema version %q", version)
	}

	record := DetectionRecord{
		Source:    "socket",
		FaceCount: 1,
		Regions:   datatypes.JSON(`[{"top":1,"right":2,"bottom":3,"left":0}]`),
		CreatedAt: time.Now(),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if record.ID == 0 {
		t.Fatal("expected an autoincrement id")
	}
}

func TestOpenDatabaseIsIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:storage-%d?mode=memory&cache=shared", time.Now().UnixNano())
	first, err := OpenDatabase(dsn)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer CloseDatabase(first)

	second, err := OpenDatabase(dsn)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer CloseDatabase(second)

	var count int64
	if err := second.Model(&SchemaMigration{}).Count(&count).Error; err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("migration applied %d times", count)
	}
}

type stubMigration struct {
	version string
	calls   *[]string
	fail    bool
}

func (m stubMigration) Version() string     { return m.version }
func (m stubMigration) Description() string { return "stub " + m.version }
func (m stubMigration) Up(tx *gorm.DB) error {
	*m.calls = append(*m.calls, m.version)
	if err := tx.Exec("CREATE TABLE t_" + m.version + " (id INTEGER)").Error; err != nil {
		return err
	}
	if m.fail {
		return stderrors.New("boom")
	}
	return nil
}

func openBare(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migrate-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = CloseDatabase(db) })
	return db
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name        string
		steps       []string
		failing     string
		wantCalls   []string
		wantVersion string
		wantErr     bool
	}{
		{name: "applies in version order", steps: []string{"002", "001"}, wantCalls: []string{"001", "002"}, wantVersion: "002"},
		{name: "duplicate versions rejected", steps: []string{"001", "001"}, wantErr: true},
		{name: "failed step rolls back", steps: []string{"001", "002"}, failing: "002", wantCalls: []string{"001", "002"}, wantVersion: "001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openBare(t)
			var calls []string
			var steps []Migration
			for _, v := range tt.steps {
				steps = append(steps, stubMigration{version: v, calls: &calls, fail: v == tt.failing})
			}

			err := Migrate(db, steps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Migrate error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
				}
			}
			if tt.failing != "" && db.Migrator().HasTable("t_"+tt.failing) {
				t.Fatalf("table of failed migration %s was committed", tt.failing)
			}
			if tt.wantVersion != "" {
				got, err := SchemaVersion(context.Background(), db)
				if err != nil || got != tt.wantVersion {
					t.Fatalf("SchemaVersion = %q, %v; want %q", got, err, tt.wantVersion)
				}
			}
		})
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	db := openBare(t)
	var calls []string
	steps := []Migration{stubMigration{version: "001", calls: &calls}}
	if err := Migrate(db, steps); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := Migrate(db, steps); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("migration ran %d times", len(calls))
	}
}

func TestOpenDatabaseRequiresPath(t *testing.T) {
	if _, err := OpenDatabase(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
