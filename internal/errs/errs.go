// Package errs defines the failure kinds surfaced by the mutation pipeline.
//
// Callers match kinds with errors.Is. Retry policy belongs to the caller:
// nothing in the pipeline retries on its own.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed caller input rejected before any encoding or network work.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSerialization marks a document or mutation that cannot be encoded.
	ErrSerialization = errors.New("serialization error")
	// ErrNotInitialized marks a nonce read before the sequencer was synchronized.
	ErrNotInitialized = errors.New("nonce not initialized")
	// ErrMutationRejected marks an explicit rejection by the storage node.
	ErrMutationRejected = errors.New("mutation rejected")
	// ErrNonceConflict marks a nonce the storage node did not expect. Resync before retrying.
	ErrNonceConflict = errors.New("nonce conflict")
	// ErrTransport marks a submission without an interpretable response. Its outcome is unknown.
	ErrTransport = errors.New("transport error")
)

// RejectedError carries the node's status code and reason for a declined mutation.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: code %d", ErrMutationRejected, e.Code)
	}
	return fmt.Sprintf("%s: code %d: %s", ErrMutationRejected, e.Code, e.Message)
}

// Is reports ErrMutationRejected as the kind of every RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrMutationRejected
}

// NonceConflictError reports the nonce a rejected submission carried.
type NonceConflictError struct {
	Sent    uint64
	Message string
}

func (e *NonceConflictError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: sent nonce %d", ErrNonceConflict, e.Sent)
	}
	return fmt.Sprintf("%s: sent nonce %d: %s", ErrNonceConflict, e.Sent, e.Message)
}

// Is reports ErrNonceConflict as the kind of every NonceConflictError.
func (e *NonceConflictError) Is(target error) bool {
	return target == ErrNonceConflict
}

// InvalidArgument wraps ErrInvalidArgument with a formatted reason.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Serialization wraps ErrSerialization with a formatted reason.
func Serialization(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}

// Transport wraps ErrTransport around the underlying cause so both remain matchable.
func Transport(operation string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, operation, cause)
}
