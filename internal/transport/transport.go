// Package transport carries signed submissions to a storage node and reads
// node state back.
package transport

import (
	"context"
	"errors"
	"time"
)

// Response codes returned by a node for a submission.
const (
	CodeAccepted        = 0
	CodeRejected        = 1
	CodeNonceMismatch   = 2
	CodeBadSignature    = 3
	CodeInvalidMutation = 4
)

// ErrNotFound reports a lookup for something the node does not have.
var ErrNotFound = errors.New("transport: not found")

// Submission is one signed mutation on its way to a node.
type Submission struct {
	Payload   []byte `json:"payload"`
	Nonce     string `json:"nonce"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Item is a key/value pair attached to a node response.
type Item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the node's verdict on a submission.
type Response struct {
	Code    int    `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Items   []Item `json:"items,omitempty"`
}

// Accepted reports whether the node accepted the submission.
func (r Response) Accepted() bool {
	return r.Code == CodeAccepted
}

// ItemValue returns the first item value stored under key.
func (r Response) ItemValue(key string) (string, bool) {
	for _, item := range r.Items {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// MutationHeader summarises one accepted mutation.
type MutationHeader struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Nonce           string    `json:"nonce"`
	Action          string    `json:"action"`
	DatabaseAddress string    `json:"database_address"`
	PayloadSize     int       `json:"payload_size"`
	Block           uint64    `json:"block"`
	CreatedAt       time.Time `json:"created_at"`
}

// NodeStatus describes a node's state.
type NodeStatus struct {
	Version       string    `json:"version"`
	MutationCount int64     `json:"mutation_count"`
	DatabaseCount int64     `json:"database_count"`
	AccountCount  int64     `json:"account_count"`
	StartedAt     time.Time `json:"started_at"`
}

// NonceResponse is the body returned for a nonce lookup.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// HeadersResponse is the body returned for a header scan.
type HeadersResponse struct {
	Headers []MutationHeader `json:"headers"`
}

// Transport is a storage node as seen by the client.
type Transport interface {
	SendMutation(ctx context.Context, submission Submission) (Response, error)
	GetNonce(ctx context.Context, account string) (string, error)
	GetMutationHeader(ctx context.Context, id string) (MutationHeader, error)
	ScanMutationHeaders(ctx context.Context, start, limit int) ([]MutationHeader, error)
	GetStatus(ctx context.Context) (NodeStatus, error)
}
