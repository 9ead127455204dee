package database

import (
	"context"
	"fmt"

	"github.com/db3-network/db3-go/internal/devnode"
	"github.com/db3-network/db3-go/internal/journal"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenNode opens the dev node store and migrates its schema.
func OpenNode(path string, log *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	models := append(devnode.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, nodeMigrations(), log); err != nil {
		return nil, err
	}
	if log != nil {
		log.Info("node database initialized", zap.String("path", path))
	}
	return db, nil
}

// OpenJournal opens the client submission journal and migrates its schema.
// Entries a previous process left pending are marked unknown.
func OpenJournal(path string, log *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&journal.Entry{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, journalMigrations(), log); err != nil {
		return nil, err
	}

	if err := recoverPendingEntries(db, log); err != nil && log != nil {
		log.Warn("journal pending recovery failed", zap.Error(err))
	}

	if log != nil {
		log.Debug("journal database initialized", zap.String("path", path))
	}
	return db, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func recoverPendingEntries(db *gorm.DB, log *zap.Logger) error {
	entries, err := journal.New(journal.Config{Database: db, Logger: log})
	if err != nil {
		return err
	}
	_, err = entries.RecoverPending(context.Background())
	return err
}
