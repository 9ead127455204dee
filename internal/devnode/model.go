package devnode

import (
	"errors"
	"fmt"
)

var (
	// ErrMutationNotFound indicates a header lookup for an unknown id.
	ErrMutationNotFound = errors.New("devnode: mutation not found")
	// ErrDocumentNotFound indicates a document lookup missed.
	ErrDocumentNotFound = errors.New("devnode: document not found")
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

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// rejection is a verdict against the submitter, as opposed to a node fault.
type rejection struct {
	code    int
	message string
}

func (r *rejection) Error() string {
	return r.message
}

func reject(code int, format string, args ...any) error {
	return &rejection{code: code, message: fmt.Sprintf(format, args...)}
}

// AccountState tracks the next nonce the node expects from an address.
type AccountState struct {
	Address          string `gorm:"column:address;primaryKey;size:64;not null"`
	NextNonce        int64  `gorm:"column:next_nonce;not null;default:0"`
	PublicKey        string `gorm:"column:public_key;size:128;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing account state.
func (AccountState) TableName() string {
	return "node_accounts"
}

// MutationRecord is one accepted mutation.
type MutationRecord struct {
	MutationID       string `gorm:"column:mutation_id;primaryKey;size:64;not null"`
	Block            int64  `gorm:"column:block;not null;uniqueIndex"`
	Sender           string `gorm:"column:sender;size:64;not null;index"`
	Nonce            int64  `gorm:"column:nonce;not null"`
	Action           string `gorm:"column:action;size:32;not null"`
	DatabaseAddress  string `gorm:"column:database_address;size:64;not null;default:''"`
	Payload          []byte `gorm:"column:payload;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing accepted mutations.
func (MutationRecord) TableName() string {
	return "node_mutations"
}

// DatabaseRecord is a document database created by a mutation.
type DatabaseRecord struct {
	Address          string `gorm:"column:address;primaryKey;size:64;not null"`
	Owner            string `gorm:"column:owner;size:64;not null;index"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	MutationID       string `gorm:"column:mutation_id;size:64;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing databases.
func (DatabaseRecord) TableName() string {
	return "node_databases"
}

// CollectionRecord is a named collection inside a database.
type CollectionRecord struct {
	DatabaseAddress  string `gorm:"column:database_address;primaryKey;size:64;not null"`
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	IndexesJSON      string `gorm:"column:indexes_json;type:text;not null"`
	MutationID       string `gorm:"column:mutation_id;size:64;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing collections.
func (CollectionRecord) TableName() string {
	return "node_collections"
}

// DocumentRecord stores one document body in canonical CBOR.
type DocumentRecord struct {
	DatabaseAddress  string `gorm:"column:database_address;primaryKey;size:64;not null"`
	Collection       string `gorm:"column:collection;primaryKey;size:190;not null"`
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Body             []byte `gorm:"column:body;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	Owner            string `gorm:"column:owner;size:64;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing documents.
func (DocumentRecord) TableName() string {
	return "node_documents"
}

// Models lists every table the node owns, for schema migration.
func Models() []any {
	return []any{&AccountState{}, &MutationRecord{}, &DatabaseRecord{}, &CollectionRecord{}, &DocumentRecord{}}
}
