// Package journal keeps a local log of every submission sent to a node and
// how it ended.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/db3-network/db3-go/internal/address"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 50

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingEntryID    = errors.New("entry identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the cause.
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
	opNew            = "journal.new"
	opBegin          = "journal.begin"
	opResolve        = "journal.resolve"
	opGet            = "journal.get"
	opList           = "journal.list"
	opRecoverPending = "journal.recover_pending"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues entry identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Config wires a Journal.
type Config struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Journal persists submission entries through GORM.
type Journal struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// New constructs a Journal. The schema must already be migrated.
func New(cfg Config) (*Journal, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Journal{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Begin records a pending submission and returns its entry id.
func (j *Journal) Begin(ctx context.Context, record Record) (string, error) {
	if j.idProvider == nil {
		return "", newServiceError(opBegin, "missing_id_provider", errMissingIDProvider)
	}
	entryID, err := j.idProvider.NewID()
	if err != nil {
		j.logError(opBegin, "id_generation_failed", err)
		return "", newServiceError(opBegin, "id_generation_failed", err)
	}

	entry := Entry{
		EntryID:          entryID,
		Account:          record.Account,
		Nonce:            record.Nonce,
		Action:           record.Action,
		DatabaseAddress:  record.DatabaseAddress,
		PayloadHash:      address.Keccak256Hex(record.Payload),
		PayloadSize:      len(record.Payload),
		Status:           StatusPending,
		CreatedAtSeconds: j.clock().UTC().Unix(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		j.logError(opBegin, "entry_insert_failed", err, zap.String("account", record.Account), zap.String("nonce", record.Nonce))
		return "", newServiceError(opBegin, "entry_insert_failed", err)
	}
	return entryID, nil
}

// Resolve stores the outcome of a pending entry. Entries that already hold a
// terminal status are left alone.
func (j *Journal) Resolve(ctx context.Context, entryID string, outcome Outcome) error {
	if entryID == "" {
		return newServiceError(opResolve, "missing_entry_id", errMissingEntryID)
	}
	if _, err := ParseStatus(string(outcome.Status)); err != nil || !outcome.Status.Terminal() {
		if err == nil {
			err = fmt.Errorf("%w: %s is not terminal", ErrInvalidStatus, outcome.Status)
		}
		return newServiceError(opResolve, "invalid_status", err)
	}

	result := j.db.WithContext(ctx).
		Model(&Entry{}).
		Where("entry_id = ? AND status = ?", entryID, StatusPending).
		Updates(map[string]any{
			"status":        outcome.Status,
			"mutation_id":   outcome.MutationID,
			"code":          outcome.Code,
			"message":       outcome.Message,
			"resolved_at_s": j.clock().UTC().Unix(),
		})
	if result.Error != nil {
		j.logError(opResolve, "entry_update_failed", result.Error, zap.String("entry_id", entryID))
		return newServiceError(opResolve, "entry_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := j.Get(ctx, entryID); err != nil {
			return newServiceError(opResolve, "entry_missing", err)
		}
	}
	return nil
}

// Get loads one entry.
func (j *Journal) Get(ctx context.Context, entryID string) (Entry, error) {
	var entry Entry
	err := j.db.WithContext(ctx).Where("entry_id = ?", entryID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		j.logError(opGet, "entry_select_failed", err, zap.String("entry_id", entryID))
		return Entry{}, newServiceError(opGet, "entry_select_failed", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, options ListOptions) ([]Entry, error) {
	limit := options.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := j.db.WithContext(ctx).Model(&Entry{})
	if options.Account != "" {
		query = query.Where("account = ?", options.Account)
	}
	if options.Status != "" {
		query = query.Where("status = ?", options.Status)
	}

	var entries []Entry
	if err := query.Order("created_at_s DESC").Order("entry_id DESC").Limit(limit).Find(&entries).Error; err != nil {
		j.logError(opList, "entry_select_failed", err)
		return nil, newServiceError(opList, "entry_select_failed", err)
	}
	return entries, nil
}

// RecoverPending marks entries left pending by an earlier process as
// unknown. Their fate can only be learned from the node.
func (j *Journal) RecoverPending(ctx context.Context) (int64, error) {
	result := j.db.WithContext(ctx).
		Model(&Entry{}).
		Where("status = ?", StatusPending).
		Updates(map[string]any{
			"status":        StatusUnknown,
			"message":       "process exited before the node replied",
			"resolved_at_s": j.clock().UTC().Unix(),
		})
	if result.Error != nil {
		j.logError(opRecoverPending, "entry_update_failed", result.Error)
		return 0, newServiceError(opRecoverPending, "entry_update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		j.logger.Warn("journal entries recovered as unknown", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (j *Journal) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	j.logger.Error("journal error", attrs...)
}
