package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillStorageStats = "2026-08-12_backfill_storage_stats"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillStorageStats, apply: backfillStorageStats},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillStorageStats inserts stats rows for users whose documents predate
// the stats table. Byte totals are summed in Go to stay portable across the
// supported dialects.
func backfillStorageStats(db *gorm.DB) error {
	var userIDs []string
	if err := db.Model(&sync.Document{}).
		Distinct().
		Where("user_id NOT IN (?)", db.Model(&sync.StorageStats{}).Select("user_id")).
		Pluck("user_id", &userIDs).Error; err != nil {
		return err
	}

	now := time.Now().UTC().Unix()
	for _, userID := range userIDs {
		var documents []sync.Document
		if err := db.Select("content").Where("user_id = ?", userID).Find(&documents).Error; err != nil {
			return err
		}
		var totalBytes int64
		for _, document := range documents {
			totalBytes += int64(len(document.Content))
		}
		stats := sync.StorageStats{
			UserID:           userID,
			TotalBytes:       totalBytes,
			ThreadCount:      int64(len(documents)),
			UpdatedAtSeconds: now,
		}
		if err := db.Create(&stats).Error; err != nil {
			return err
		}
	}
	return nil
}
