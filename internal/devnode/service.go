// Package devnode is a single-process storage node. It verifies signed
// submissions, enforces per-account nonces and applies mutations to a
// GORM-backed document store.
package devnode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/nonce"
	"github.com/db3-network/db3-go/internal/transport"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Version is reported by Status.
const Version = "db3-devnode/2"

const (
	defaultScanLimit = 20
	maxScanLimit     = 500
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew     = "devnode.service.new"
	opSubmit         = "devnode.submit"
	opNonce          = "devnode.nonce"
	opMutationHeader = "devnode.mutation_header"
	opScanHeaders    = "devnode.scan_headers"
	opStatus         = "devnode.status"
	opDocument       = "devnode.document"
)

// IDProvider issues mutation and document identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Verifier   *account.Verifier
	Logger     *zap.Logger
	// AllowUnsigned accepts submissions that carry no signature.
	AllowUnsigned bool
}

// Service is the node's mutation pipeline.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	verifier      *account.Verifier
	logger        *zap.Logger
	allowUnsigned bool
	startedAt     time.Time
}

// NewService constructs the node service. The schema must already exist.
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
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = account.NewVerifier(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		verifier:      verifier,
		logger:        logger,
		allowUnsigned: cfg.AllowUnsigned,
		startedAt:     clock().UTC(),
	}, nil
}

// Submit judges one submission. Verdicts against the submitter come back as
// a Response with a non-zero code; only node faults return an error.
func (s *Service) Submit(ctx context.Context, submission transport.Submission) (transport.Response, error) {
	sender, err := address.FromHex(submission.Address)
	if err != nil {
		return rejectedResponse(transport.CodeInvalidMutation, "sender address: "+err.Error()), nil
	}
	requested, err := nonce.ParseNonce(submission.Nonce)
	if err != nil || requested > math.MaxInt64 {
		return rejectedResponse(transport.CodeInvalidMutation, fmt.Sprintf("nonce %q is not valid", submission.Nonce)), nil
	}
	if verdict := s.verifySubmission(sender, submission); verdict != nil {
		return rejectedResponse(verdict.code, verdict.message), nil
	}

	decoded, err := mutation.Decode(submission.Payload)
	if err != nil {
		return rejectedResponse(transport.CodeInvalidMutation, err.Error()), nil
	}
	if err := decoded.Validate(); err != nil {
		return rejectedResponse(transport.CodeInvalidMutation, err.Error()), nil
	}

	mutationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmit, "id_generation_failed", err)
		return transport.Response{}, newServiceError(opSubmit, "id_generation_failed", err)
	}

	var items []transport.Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()
		state, err := s.lockAccount(tx, sender, now)
		if err != nil {
			return err
		}
		if state.NextNonce != int64(requested) {
			return reject(transport.CodeNonceMismatch, "expected nonce %d, got %d", state.NextNonce, requested)
		}

		apply := applier{
			tx:         tx,
			service:    s,
			sender:     sender,
			nonce:      requested,
			mutationID: mutationID,
			now:        now,
		}
		items, err = apply.run(decoded)
		if err != nil {
			return err
		}

		var lastBlock int64
		if err := tx.Model(&MutationRecord{}).Select("COALESCE(MAX(block), 0)").Scan(&lastBlock).Error; err != nil {
			return newServiceError(opSubmit, "block_select_failed", err)
		}
		record := MutationRecord{
			MutationID:       mutationID,
			Block:            lastBlock + 1,
			Sender:           sender.String(),
			Nonce:            int64(requested),
			Action:           decoded.Action.String(),
			DatabaseAddress:  apply.databaseAddress,
			Payload:          submission.Payload,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opSubmit, "mutation_insert_failed", err)
		}

		updates := map[string]any{"next_nonce": state.NextNonce + 1, "updated_at_s": now}
		if submission.PublicKey != "" {
			updates["public_key"] = submission.PublicKey
		}
		if err := tx.Model(&AccountState{}).Where("address = ?", state.Address).Updates(updates).Error; err != nil {
			return newServiceError(opSubmit, "account_update_failed", err)
		}
		return nil
	})

	var verdict *rejection
	if errors.As(txErr, &verdict) {
		s.logger.Info("mutation rejected",
			zap.String("sender", sender.String()),
			zap.Uint64("nonce", requested),
			zap.Int("code", verdict.code),
			zap.String("message", verdict.message))
		return rejectedResponse(verdict.code, verdict.message), nil
	}
	if txErr != nil {
		s.logError(opSubmit, "transaction_failed", txErr, zap.String("sender", sender.String()))
		return transport.Response{}, txErr
	}

	s.logger.Info("mutation accepted",
		zap.String("mutation_id", mutationID),
		zap.String("sender", sender.String()),
		zap.Uint64("nonce", requested),
		zap.String("action", decoded.Action.String()))
	return transport.Response{Code: transport.CodeAccepted, ID: mutationID, Items: items}, nil
}

func (s *Service) verifySubmission(sender address.Address, submission transport.Submission) *rejection {
	if submission.Signature == "" {
		if s.allowUnsigned {
			return nil
		}
		return &rejection{code: transport.CodeBadSignature, message: "signature required"}
	}
	claims, signer, err := s.verifier.Verify(submission.Signature)
	if err != nil {
		return &rejection{code: transport.CodeBadSignature, message: err.Error()}
	}
	if signer != sender {
		return &rejection{code: transport.CodeBadSignature, message: "signature subject does not match sender"}
	}
	if claims.Domain != account.Domain || claims.PrimaryType != account.PrimaryTypeMutation {
		return &rejection{code: transport.CodeBadSignature, message: "signature is not over a mutation"}
	}
	if claims.Message["nonce"] != submission.Nonce {
		return &rejection{code: transport.CodeBadSignature, message: "signed nonce does not match submitted nonce"}
	}
	if claims.Message["payload_hash"] != address.Keccak256Hex(submission.Payload) {
		return &rejection{code: transport.CodeBadSignature, message: "signed payload hash does not match payload"}
	}
	if submission.PublicKey != "" && submission.PublicKey != claims.PublicKey {
		return &rejection{code: transport.CodeBadSignature, message: "public key does not match signature"}
	}
	return nil
}

func (s *Service) lockAccount(tx *gorm.DB, sender address.Address, now int64) (AccountState, error) {
	var state AccountState
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", sender.String()).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = AccountState{Address: sender.String(), CreatedAtSeconds: now, UpdatedAtSeconds: now}
		if err := tx.Create(&state).Error; err != nil {
			return AccountState{}, newServiceError(opSubmit, "account_insert_failed", err)
		}
		return state, nil
	}
	if err != nil {
		return AccountState{}, newServiceError(opSubmit, "account_select_failed", err)
	}
	return state, nil
}

// Nonce returns the next nonce the node expects from the account.
func (s *Service) Nonce(ctx context.Context, account address.Address) (uint64, error) {
	var state AccountState
	err := s.db.WithContext(ctx).Where("address = ?", account.String()).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opNonce, "account_select_failed", err, zap.String("address", account.String()))
		return 0, newServiceError(opNonce, "account_select_failed", err)
	}
	return uint64(state.NextNonce), nil
}

// MutationHeader returns the header of an accepted mutation.
func (s *Service) MutationHeader(ctx context.Context, id string) (transport.MutationHeader, error) {
	var record MutationRecord
	err := s.db.WithContext(ctx).Where("mutation_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return transport.MutationHeader{}, fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}
	if err != nil {
		s.logError(opMutationHeader, "mutation_select_failed", err, zap.String("mutation_id", id))
		return transport.MutationHeader{}, newServiceError(opMutationHeader, "mutation_select_failed", err)
	}
	return headerFromRecord(record), nil
}

// ScanMutationHeaders lists accepted mutations by block, skipping start.
func (s *Service) ScanMutationHeaders(ctx context.Context, start, limit int) ([]transport.MutationHeader, error) {
	if start < 0 {
		start = 0
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if limit > maxScanLimit {
		limit = maxScanLimit
	}

	var records []MutationRecord
	err := s.db.WithContext(ctx).
		Order("block ASC").
		Offset(start).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opScanHeaders, "mutation_select_failed", err)
		return nil, newServiceError(opScanHeaders, "mutation_select_failed", err)
	}
	headers := make([]transport.MutationHeader, 0, len(records))
	for _, record := range records {
		headers = append(headers, headerFromRecord(record))
	}
	return headers, nil
}

// Status summarises the node.
func (s *Service) Status(ctx context.Context) (transport.NodeStatus, error) {
	status := transport.NodeStatus{Version: Version, StartedAt: s.startedAt}
	counts := []struct {
		model  any
		target *int64
	}{
		{&MutationRecord{}, &status.MutationCount},
		{&DatabaseRecord{}, &status.DatabaseCount},
		{&AccountState{}, &status.AccountCount},
	}
	for _, count := range counts {
		if err := s.db.WithContext(ctx).Model(count.model).Count(count.target).Error; err != nil {
			s.logError(opStatus, "count_failed", err)
			return transport.NodeStatus{}, newServiceError(opStatus, "count_failed", err)
		}
	}
	return status, nil
}

// Document loads one stored document.
func (s *Service) Document(ctx context.Context, database address.Address, collection, id string) (document.Object, error) {
	var record DocumentRecord
	err := s.db.WithContext(ctx).
		Where("database_address = ? AND collection = ? AND document_id = ?", database.String(), collection, id).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	if err != nil {
		s.logError(opDocument, "document_select_failed", err)
		return nil, newServiceError(opDocument, "document_select_failed", err)
	}
	value, err := document.Decode(record.Body)
	if err != nil {
		return nil, newServiceError(opDocument, "document_decode_failed", err)
	}
	object, ok := value.(document.Object)
	if !ok {
		return nil, newServiceError(opDocument, "document_not_object", nil)
	}
	return object, nil
}

func headerFromRecord(record MutationRecord) transport.MutationHeader {
	return transport.MutationHeader{
		ID:              record.MutationID,
		Sender:          record.Sender,
		Nonce:           nonce.FormatNonce(uint64(record.Nonce)),
		Action:          record.Action,
		DatabaseAddress: record.DatabaseAddress,
		PayloadSize:     len(record.Payload),
		Block:           uint64(record.Block),
		CreatedAt:       time.Unix(record.CreatedAtSeconds, 0).UTC(),
	}
}

func rejectedResponse(code int, message string) transport.Response {
	return transport.Response{Code: code, Message: message}
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
	s.logger.Error("devnode service error", attrs...)
}

// DatabaseAddressFor derives the address of a database created by sender
// with the given nonce.
func DatabaseAddressFor(sender address.Address, n uint64) address.Address {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], n)
	digest := address.Keccak256(sender.Bytes(), nonceBytes[:])
	derived, _ := address.FromBytes(digest[len(digest)-address.Length:])
	return derived
}
