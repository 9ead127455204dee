// Package nonce tracks the next sequence number an account may submit.
//
// A Sequencer is owned by one account. It starts uninitialized, is synced
// from the storage node, and is advanced only after the node accepts a
// submission. Acquire hands out a Lease so at most one submission per
// account is in flight between reading the nonce and learning its fate.
package nonce

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/db3-network/db3-go/internal/errs"
)

// Sequencer is the per-account nonce counter.
type Sequencer struct {
	mu      sync.Mutex
	current uint64
	synced  bool

	// flight has capacity one; holding its slot is holding the lease.
	flight chan struct{}
}

// NewSequencer returns an uninitialized sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{flight: make(chan struct{}, 1)}
}

// Sync replaces the counter with the node's next expected nonce. It may be
// called again at any time to resynchronize.
func (s *Sequencer) Sync(remote uint64) {
	s.mu.Lock()
	s.current = remote
	s.synced = true
	s.mu.Unlock()
}

// SyncString parses the node's decimal nonce and syncs to it.
func (s *Sequencer) SyncString(remote string) error {
	parsed, err := ParseNonce(remote)
	if err != nil {
		return err
	}
	s.Sync(parsed)
	return nil
}

// Synced reports whether Sync has run.
func (s *Sequencer) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// Peek returns the next nonce to submit without reserving it.
func (s *Sequencer) Peek() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.synced {
		return 0, errs.ErrNotInitialized
	}
	return s.current, nil
}

// PeekString returns Peek in its decimal request form.
func (s *Sequencer) PeekString() (string, error) {
	current, err := s.Peek()
	if err != nil {
		return "", err
	}
	return FormatNonce(current), nil
}

// Advance moves the counter past an accepted submission.
func (s *Sequencer) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.synced {
		return errs.ErrNotInitialized
	}
	s.current++
	return nil
}

// Acquire waits until no other lease is outstanding and reserves the
// current nonce. It fails with errs.ErrNotInitialized before the first Sync
// and with the context's error if ctx ends while waiting.
func (s *Sequencer) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case s.flight <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for in-flight submission: %w", ctx.Err())
	}

	current, err := s.Peek()
	if err != nil {
		<-s.flight
		return nil, err
	}
	return &Lease{sequencer: s, nonce: current}, nil
}

// Lease is the exclusive hold on one account's nonce while a submission is
// in flight. Exactly one of Commit or Release must be called.
type Lease struct {
	sequencer *Sequencer
	nonce     uint64
	once      sync.Once
}

// Nonce returns the reserved nonce.
func (l *Lease) Nonce() uint64 {
	return l.nonce
}

// String returns the reserved nonce in decimal request form.
func (l *Lease) String() string {
	return FormatNonce(l.nonce)
}

// Commit advances the sequencer past the reserved nonce and frees the
// account. A Sync that moved the counter while the lease was held wins.
func (l *Lease) Commit() {
	l.once.Do(func() {
		s := l.sequencer
		s.mu.Lock()
		if s.current == l.nonce {
			s.current++
		}
		s.mu.Unlock()
		<-s.flight
	})
}

// Release frees the account and leaves the counter untouched.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.sequencer.flight
	})
}

// ParseNonce parses a decimal nonce as exchanged with the storage node.
func ParseNonce(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errs.InvalidArgument("nonce %q is not a non-negative decimal integer", raw)
	}
	return parsed, nil
}

// FormatNonce renders a nonce in its decimal request form.
func FormatNonce(n uint64) string {
	return strconv.FormatUint(n, 10)
}
