package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sync.Document{}, &sync.StorageStats{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn", nil); err == nil {
		t.Fatalf("expected unknown driver to be rejected")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("sqlite", "  ", nil); err == nil {
		t.Fatalf("expected empty dsn to be rejected")
	}
}

func TestBackfillStorageStatsFillsMissingRows(t *testing.T) {
	db := newMigratedDB(t)

	documents := []sync.Document{
		{UserID: "user-1", ThreadID: "t1", DataType: sync.DataTypeDocument, Content: datatypes.JSON(`{"a":1}`), Version: 1, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
		{UserID: "user-1", ThreadID: "t2", DataType: sync.DataTypeDocument, Content: datatypes.JSON(`{"bb":2}`), Version: 1, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
		{UserID: "user-2", ThreadID: "t1", DataType: sync.DataTypeSpreadsheet, Content: datatypes.JSON(`{"c":3}`), Version: 1, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
	}
	for _, document := range documents {
		if err := db.Create(&document).Error; err != nil {
			t.Fatalf("failed to seed document: %v", err)
		}
	}
	// user-2 already has a stats row; the backfill must leave it alone.
	existing := sync.StorageStats{UserID: "user-2", TotalBytes: 99, ThreadCount: 9, UpdatedAtSeconds: 1}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("failed to seed stats: %v", err)
	}

	if err := backfillStorageStats(db); err != nil {
		t.Fatalf("unexpected backfill error: %v", err)
	}

	var filled sync.StorageStats
	if err := db.Where("user_id = ?", "user-1").Take(&filled).Error; err != nil {
		t.Fatalf("expected a backfilled stats row: %v", err)
	}
	expectedBytes := int64(len(`{"a":1}`) + len(`{"bb":2}`))
	if filled.TotalBytes != expectedBytes || filled.ThreadCount != 2 {
		t.Fatalf("unexpected backfilled stats: %+v", filled)
	}

	var untouched sync.StorageStats
	if err := db.Where("user_id = ?", "user-2").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload existing stats: %v", err)
	}
	if untouched.TotalBytes != 99 || untouched.ThreadCount != 9 {
		t.Fatalf("backfill must not overwrite existing rows: %+v", untouched)
	}
}

func TestApplyMigrationsRecordsAndSkipsReruns(t *testing.T) {
	db := newMigratedDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	var record migrationRecord
	if err := db.Where("name = ?", migrationBackfillStorageStats).Take(&record).Error; err != nil {
		t.Fatalf("expected a migration record: %v", err)
	}
	appliedAt := record.AppliedAtSeconds

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected rerun error: %v", err)
	}
	if err := db.Where("name = ?", migrationBackfillStorageStats).Take(&record).Error; err != nil {
		t.Fatalf("failed to reload migration record: %v", err)
	}
	if record.AppliedAtSeconds != appliedAt {
		t.Fatalf("rerun must not reapply the migration")
	}
}
