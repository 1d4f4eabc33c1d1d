package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrNotFound indicates the requested document or backup does not exist.
	ErrNotFound = errors.New("sync: not found")
)

// ServiceError wraps an engine failure with a dot-separated operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "sync.service.new"
	opSave       = "sync.save"
	opLoad       = "sync.load"
	opHistory    = "sync.history"
	opRestore    = "sync.restore"
	opDelete     = "sync.delete"
	opStats      = "sync.stats"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new backup rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the sync engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the versioned save/load/history/restore/delete protocol
// on top of a transactional relational store. It holds no in-process locks:
// all serialization between concurrent writers is delegated to the store's
// transaction isolation.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the sync engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SaveRequest describes one client push of thread content.
type SaveRequest struct {
	ThreadID ThreadID
	DataType DataType
	Content  []byte
	Version  int64
	Force    bool
}

// SaveResult reports the version and timestamp that were written.
type SaveResult struct {
	Version   int64
	UpdatedAt time.Time
}

// Save persists the supplied content as the current state of the thread. A
// stored version strictly greater than the supplied one rejects the write
// with a *ConflictError unless Force is set. When a prior document exists its
// full state is copied to a backup row inside the same transaction as the
// upsert and the stats recompute, so a failure of any of the three writes
// rolls back all of them.
func (s *Service) Save(ctx context.Context, userID UserID, request SaveRequest) (SaveResult, error) {
	if len(request.Content) == 0 {
		return SaveResult{}, newServiceError(opSave, "missing_content", ErrMissingContent)
	}
	if _, err := ParseDataType(request.DataType.String()); err != nil || request.DataType == "" {
		return SaveResult{}, newServiceError(opSave, "invalid_data_type", ErrInvalidDataType)
	}

	existing, err := s.currentDocument(ctx, s.db, userID, request.ThreadID, false)
	if err != nil {
		s.logError(opSave, "document_select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", request.ThreadID.String()))
		return SaveResult{}, newServiceError(opSave, "document_select_failed", err)
	}

	if conflict := checkConflict(existing, request.Version, request.Force); conflict != nil {
		return SaveResult{}, conflict
	}

	savedAt := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prior, err := s.currentDocument(ctx, tx, userID, request.ThreadID, true)
		if err != nil {
			return newServiceError(opSave, "document_select_failed", err)
		}

		if prior != nil {
			if err := s.insertBackup(tx, prior, savedAt); err != nil {
				return newServiceError(opSave, "backup_insert_failed", err)
			}
		}

		if err := s.upsertDocument(tx, userID, request.ThreadID, request.DataType, request.Content, request.Version, prior, savedAt); err != nil {
			return newServiceError(opSave, "document_upsert_failed", err)
		}

		if err := s.recomputeStats(tx, userID, savedAt); err != nil {
			return newServiceError(opSave, "stats_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSave, "transaction_failed", txErr,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", request.ThreadID.String()))
		return SaveResult{}, txErr
	}

	return SaveResult{Version: request.Version, UpdatedAt: savedAt}, nil
}

// Load returns the current document for the thread. The data type argument
// is validated but intentionally not applied as a predicate: lookups key only
// (user, thread).
func (s *Service) Load(ctx context.Context, userID UserID, threadID ThreadID, dataType DataType) (*Document, error) {
	if _, err := ParseDataType(dataType.String()); err != nil {
		return nil, newServiceError(opLoad, "invalid_data_type", err)
	}

	document, err := s.currentDocument(ctx, s.db, userID, threadID, false)
	if err != nil {
		s.logError(opLoad, "document_select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", threadID.String()))
		return nil, newServiceError(opLoad, "document_select_failed", err)
	}
	if document == nil {
		return nil, ErrNotFound
	}
	return document, nil
}

// HistoryResult pairs the current document (nil when absent) with its most
// recent backups, newest first.
type HistoryResult struct {
	Current *Document
	Backups []Backup
}

// History returns the current document plus up to limit backups for the
// thread, ordered newest first. A non-positive limit falls back to the
// default; oversized limits are clamped.
func (s *Service) History(ctx context.Context, userID UserID, threadID ThreadID, limit int) (HistoryResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	current, err := s.currentDocument(ctx, s.db, userID, threadID, false)
	if err != nil {
		s.logError(opHistory, "document_select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", threadID.String()))
		return HistoryResult{}, newServiceError(opHistory, "document_select_failed", err)
	}

	var backups []Backup
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID.String(), threadID.String()).
		Order("created_at_s DESC, backup_id DESC").
		Limit(limit).
		Find(&backups).Error; err != nil {
		s.logError(opHistory, "backup_query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", threadID.String()))
		return HistoryResult{}, newServiceError(opHistory, "backup_query_failed", err)
	}

	return HistoryResult{Current: current, Backups: backups}, nil
}

// RestoreResult reports the version and timestamp written by a restore.
type RestoreResult struct {
	Version    int64
	RestoredAt time.Time
}

// Restore reinstates a backup as the current document. The backup lookup is
// scoped to the requesting user, so a foreign backup id surfaces as
// ErrNotFound. A pre-existing current document is snapshotted to a backup
// first, then overwritten with the backup's content at version
// backup.Version+1; restoring onto an absent row keeps the backup's version
// unchanged. The asymmetry is deliberate and part of the wire contract.
func (s *Service) Restore(ctx context.Context, userID UserID, threadID ThreadID, backupID string) (RestoreResult, error) {
	var backup Backup
	err := s.db.WithContext(ctx).
		Where("backup_id = ? AND user_id = ?", backupID, userID.String()).
		Take(&backup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RestoreResult{}, ErrNotFound
	}
	if err != nil {
		s.logError(opRestore, "backup_select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("backup_id", backupID))
		return RestoreResult{}, newServiceError(opRestore, "backup_select_failed", err)
	}

	restoredAt := s.clock().UTC()
	writtenVersion := backup.Version
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prior, err := s.currentDocument(ctx, tx, userID, threadID, true)
		if err != nil {
			return newServiceError(opRestore, "document_select_failed", err)
		}

		if prior != nil {
			if err := s.insertBackup(tx, prior, restoredAt); err != nil {
				return newServiceError(opRestore, "backup_insert_failed", err)
			}
			writtenVersion = backup.Version + 1
		}

		if err := s.upsertDocument(tx, userID, threadID, backup.DataType, []byte(backup.Content), writtenVersion, prior, restoredAt); err != nil {
			return newServiceError(opRestore, "document_upsert_failed", err)
		}

		if err := s.recomputeStats(tx, userID, restoredAt); err != nil {
			return newServiceError(opRestore, "stats_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opRestore, "transaction_failed", txErr,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", threadID.String()),
			zap.String("backup_id", backupID))
		return RestoreResult{}, txErr
	}

	return RestoreResult{Version: writtenVersion, RestoredAt: restoredAt}, nil
}

// Delete removes the current document for the thread after snapshotting it to
// a backup. Deleting an absent thread is not an error; the returned flag
// reports whether a row was actually removed.
func (s *Service) Delete(ctx context.Context, userID UserID, threadID ThreadID) (bool, error) {
	deletedAt := s.clock().UTC()
	deleted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prior, err := s.currentDocument(ctx, tx, userID, threadID, true)
		if err != nil {
			return newServiceError(opDelete, "document_select_failed", err)
		}
		if prior == nil {
			return nil
		}

		if err := s.insertBackup(tx, prior, deletedAt); err != nil {
			return newServiceError(opDelete, "backup_insert_failed", err)
		}

		if err := tx.
			Where("user_id = ? AND thread_id = ?", userID.String(), threadID.String()).
			Delete(&Document{}).Error; err != nil {
			return newServiceError(opDelete, "document_delete_failed", err)
		}

		if err := s.recomputeStats(tx, userID, deletedAt); err != nil {
			return newServiceError(opDelete, "stats_update_failed", err)
		}
		deleted = true
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr,
			zap.String("user_id", userID.String()),
			zap.String("thread_id", threadID.String()))
		return false, txErr
	}

	return deleted, nil
}

// StatsResult aggregates a user's storage footprint.
type StatsResult struct {
	Storage     *StorageStats
	ThreadCount int64
	BackupCount int64
}

// Stats returns the user's stats row (nil when the user has never written),
// the live document count, and the backup count.
func (s *Service) Stats(ctx context.Context, userID UserID) (StatsResult, error) {
	var storage StorageStats
	result := StatsResult{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&storage).Error
	if err == nil {
		result.Storage = &storage
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opStats, "stats_select_failed", err, zap.String("user_id", userID.String()))
		return StatsResult{}, newServiceError(opStats, "stats_select_failed", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("user_id = ?", userID.String()).
		Count(&result.ThreadCount).Error; err != nil {
		s.logError(opStats, "document_count_failed", err, zap.String("user_id", userID.String()))
		return StatsResult{}, newServiceError(opStats, "document_count_failed", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&Backup{}).
		Where("user_id = ?", userID.String()).
		Count(&result.BackupCount).Error; err != nil {
		s.logError(opStats, "backup_count_failed", err, zap.String("user_id", userID.String()))
		return StatsResult{}, newServiceError(opStats, "backup_count_failed", err)
	}

	return result, nil
}

// currentDocument fetches the live row for (user, thread), nil when absent.
// In-transaction reads take a row lock so the snapshot copied into the backup
// cannot shift under the upsert.
func (s *Service) currentDocument(ctx context.Context, db *gorm.DB, userID UserID, threadID ThreadID, forUpdate bool) (*Document, error) {
	query := db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var document Document
	err := query.
		Where("user_id = ? AND thread_id = ?", userID.String(), threadID.String()).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &document, nil
}

func (s *Service) insertBackup(tx *gorm.DB, prior *Document, takenAt time.Time) error {
	backupID, err := s.idProvider.NewID()
	if err != nil {
		return err
	}
	backup := Backup{
		BackupID:         backupID,
		UserID:           prior.UserID,
		ThreadID:         prior.ThreadID,
		DataType:         prior.DataType,
		Content:          prior.Content,
		Version:          prior.Version,
		CreatedAtSeconds: takenAt.Unix(),
	}
	return tx.Create(&backup).Error
}

func (s *Service) upsertDocument(tx *gorm.DB, userID UserID, threadID ThreadID, dataType DataType, content []byte, version int64, prior *Document, writtenAt time.Time) error {
	if prior != nil {
		return tx.Model(&Document{}).
			Where("user_id = ? AND thread_id = ?", userID.String(), threadID.String()).
			Updates(map[string]interface{}{
				"data_type":    dataType,
				"content":      datatypes.JSON(content),
				"version":      version,
				"updated_at_s": writtenAt.Unix(),
			}).Error
	}

	document := Document{
		UserID:           userID.String(),
		ThreadID:         threadID.String(),
		DataType:         dataType,
		Content:          datatypes.JSON(content),
		Version:          version,
		CreatedAtSeconds: writtenAt.Unix(),
		UpdatedAtSeconds: writtenAt.Unix(),
	}
	return tx.Create(&document).Error
}

// recomputeStats rebuilds the user's stats row from the live documents. The
// byte total sums serialized content lengths in Go because LENGTH() is not
// portable across the jsonb/text column mappings of the supported dialects.
func (s *Service) recomputeStats(tx *gorm.DB, userID UserID, updatedAt time.Time) error {
	var documents []Document
	if err := tx.
		Select("content").
		Where("user_id = ?", userID.String()).
		Find(&documents).Error; err != nil {
		return err
	}

	var totalBytes int64
	for _, document := range documents {
		totalBytes += int64(len(document.Content))
	}

	stats := StorageStats{
		UserID:           userID.String(),
		TotalBytes:       totalBytes,
		ThreadCount:      int64(len(documents)),
		UpdatedAtSeconds: updatedAt.Unix(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_bytes", "thread_count", "updated_at_s"}),
	}).Create(&stats).Error
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("sync service error", attrs...)
}
