package sync

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// DataType enumerates the kinds of editable units a thread can hold.
type DataType string

const (
	// DataTypeSpreadsheet marks spreadsheet content.
	DataTypeSpreadsheet DataType = "spreadsheet"
	// DataTypeDocument marks rich-text document content.
	DataTypeDocument DataType = "document"
	// DataTypeBoth marks a combined payload carrying both kinds.
	DataTypeBoth DataType = "both"
)

// BackupReason values recognized by operator tooling. The sync engine itself
// records backups without a reason; these exist for scheduled and manual
// snapshots taken outside the engine.
const (
	BackupReasonAutoDaily       = "auto_daily"
	BackupReasonAutoWeekly      = "auto_weekly"
	BackupReasonManual          = "manual"
	BackupReasonBeforeMigration = "before_migration"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidThreadID indicates that a thread identifier is empty or exceeds storage bounds.
	ErrInvalidThreadID = errors.New("sync: invalid thread id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("sync: invalid user id")
	// ErrInvalidDataType indicates an unrecognized data type value.
	ErrInvalidDataType = errors.New("sync: invalid data type")
	// ErrMissingContent indicates a save request without a content payload.
	ErrMissingContent = errors.New("sync: content is required")
)

// ThreadID represents a validated thread identifier.
type ThreadID string

// NewThreadID validates raw input and returns a ThreadID.
func NewThreadID(rawInput string) (ThreadID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidThreadID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidThreadID, maxIdentifierLength)
	}
	return ThreadID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ThreadID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseDataType validates a raw data type value. Empty input defaults to
// DataTypeBoth, matching the load-path default.
func ParseDataType(rawInput string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case "":
		return DataTypeBoth, nil
	case string(DataTypeSpreadsheet):
		return DataTypeSpreadsheet, nil
	case string(DataTypeDocument):
		return DataTypeDocument, nil
	case string(DataTypeBoth):
		return DataTypeBoth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDataType, rawInput)
	}
}

// String returns the raw data type value.
func (dt DataType) String() string {
	return string(dt)
}

// Document models the current state of one editable unit. The uniqueness key
// is (user_id, thread_id, data_type); every engine lookup, however, keys only
// (user_id, thread_id), so a user holds at most one live row per thread in
// practice.
type Document struct {
	UserID           string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	ThreadID         string         `gorm:"column:thread_id;primaryKey;size:190;not null"`
	DataType         DataType       `gorm:"column:data_type;primaryKey;size:32;not null"`
	Content          datatypes.JSON `gorm:"column:content;not null"`
	Version          int64          `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null;index:idx_documents_user_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "sync_documents"
}

// Backup is an immutable snapshot of a Document taken before the row was
// overwritten, restored over, or deleted.
type Backup struct {
	BackupID         string         `gorm:"column:backup_id;primaryKey;size:190;not null"`
	UserID           string         `gorm:"column:user_id;size:190;not null;index:idx_backups_user_thread_time,priority:1"`
	ThreadID         string         `gorm:"column:thread_id;size:190;not null;index:idx_backups_user_thread_time,priority:2"`
	DataType         DataType       `gorm:"column:data_type;size:32;not null"`
	Content          datatypes.JSON `gorm:"column:content;not null"`
	Version          int64          `gorm:"column:version;not null"`
	BackupReason     *string        `gorm:"column:backup_reason;size:32"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index:idx_backups_user_thread_time,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Backup) TableName() string {
	return "sync_backups"
}

// StorageStats summarizes a user's stored documents. Exactly one row per
// user; recomputed inside every mutating transaction.
type StorageStats struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	TotalBytes       int64  `gorm:"column:total_bytes;not null;default:0"`
	ThreadCount      int64  `gorm:"column:thread_count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StorageStats) TableName() string {
	return "sync_storage_stats"
}
