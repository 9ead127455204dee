package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationUniqueSenderNonce   = "2026-10-01_unique_sender_nonce"
	migrationJournalAccountNonce = "2026-10-01_journal_account_nonce_index"
)

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

func nodeMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationUniqueSenderNonce, apply: createUniqueSenderNonceIndex},
	}
}

func journalMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationJournalAccountNonce, apply: createJournalAccountNonceIndex},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
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

// An account can have at most one accepted mutation per nonce.
func createUniqueSenderNonceIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_node_mutations_sender_nonce ON node_mutations(sender, nonce)").Error
}

func createJournalAccountNonceIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_journal_account_nonce ON journal_entries(account, nonce)").Error
}
