package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/inkwell/internal/accounts"
	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const defaultConnectionLimit = 10

// Open establishes a database connection for the configured driver and
// performs schema migrations. SQLite is the default and pins a single open
// connection; the server drivers get a shared pool.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql", "mariadb":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, isSQLite := dialector.(*sqlite.Dialector); isSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(defaultConnectionLimit)
		sqlDB.SetMaxIdleConns(defaultConnectionLimit / 2)
	}

	if err := db.AutoMigrate(
		&sync.Document{},
		&sync.Backup{},
		&sync.StorageStats{},
		&accounts.User{},
		&accounts.Session{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return db, nil
}
