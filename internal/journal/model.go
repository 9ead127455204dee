package journal

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a journal entry.
type Status string

const (
	// StatusPending marks a submission whose verdict has not arrived yet.
	StatusPending Status = "pending"
	// StatusAccepted marks a submission the node accepted.
	StatusAccepted Status = "accepted"
	// StatusRejected marks a submission the node refused.
	StatusRejected Status = "rejected"
	// StatusConflict marks a submission refused for carrying a stale nonce.
	StatusConflict Status = "conflict"
	// StatusUnknown marks a submission whose fate could not be learned.
	StatusUnknown Status = "unknown"
)

var (
	// ErrInvalidStatus indicates a status outside the known set.
	ErrInvalidStatus = errors.New("journal: invalid status")
	// ErrEntryNotFound indicates an entry lookup missed.
	ErrEntryNotFound = errors.New("journal: entry not found")
)

// ParseStatus validates raw input and returns a Status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusAccepted, StatusRejected, StatusConflict, StatusUnknown:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Terminal reports whether the status is a final verdict.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Entry is one submission attempt.
type Entry struct {
	EntryID           string `gorm:"column:entry_id;primaryKey;size:64;not null"`
	Account           string `gorm:"column:account;size:64;not null;index:idx_journal_account_created,priority:1"`
	Nonce             string `gorm:"column:nonce;size:32;not null"`
	Action            string `gorm:"column:action;size:32;not null"`
	DatabaseAddress   string `gorm:"column:database_address;size:64;not null;default:''"`
	PayloadHash       string `gorm:"column:payload_hash;size:80;not null"`
	PayloadSize       int    `gorm:"column:payload_size;not null"`
	Status            Status `gorm:"column:status;size:16;not null;index"`
	MutationID        string `gorm:"column:mutation_id;size:190;not null;default:''"`
	Code              int    `gorm:"column:code;not null;default:0"`
	Message           string `gorm:"column:message;type:text;not null;default:''"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null;index:idx_journal_account_created,priority:2"`
	ResolvedAtSeconds int64  `gorm:"column:resolved_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "journal_entries"
}

// Record describes a submission about to be sent.
type Record struct {
	Account         string
	Nonce           string
	Action          string
	DatabaseAddress string
	Payload         []byte
}

// Outcome describes how a submission ended.
type Outcome struct {
	Status     Status
	MutationID string
	Code       int
	Message    string
}

// ListOptions filters List. Zero values mean no filter; Limit defaults to 50.
type ListOptions struct {
	Account string
	Status  Status
	Limit   int
}
