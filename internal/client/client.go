// Package client submits mutations to a storage node on behalf of one
// account.
//
// A Client owns the account's nonce. Submissions from one Client are
// serialised: the nonce is reserved before signing and released only when
// the node's verdict is known, so concurrent callers never reuse a nonce.
// The nonce advances only on acceptance. Nothing is retried automatically.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/errs"
	"github.com/db3-network/db3-go/internal/journal"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/nonce"
	"github.com/db3-network/db3-go/internal/transport"
	"go.uber.org/zap"
)

var (
	errMissingTransport = errors.New("client: transport is required")
	errMissingIdentity  = errors.New("client: signer or address is required")
)

// Recorder journals submissions. *journal.Journal satisfies it.
type Recorder interface {
	Begin(ctx context.Context, record journal.Record) (string, error)
	Resolve(ctx context.Context, entryID string, outcome journal.Outcome) error
}

type publicKeyHolder interface {
	PublicKeyHex() string
}

// Config wires a Client. Signer may be nil for nodes that accept unsigned
// submissions, in which case Address names the submitting account.
type Config struct {
	Signer    account.Signer
	Address   address.Address
	Transport transport.Transport
	Journal   Recorder
	Logger    *zap.Logger
}

// Result describes an accepted submission.
type Result struct {
	ID    string
	Nonce uint64
	Items []transport.Item
}

// Client is the submission pipeline for one account.
type Client struct {
	signer    account.Signer
	address   address.Address
	transport transport.Transport
	journal   Recorder
	logger    *zap.Logger
	sequencer *nonce.Sequencer
}

// New constructs a Client. Call SyncNonce before the first submission.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	owner := cfg.Address
	if cfg.Signer != nil {
		owner = cfg.Signer.Address()
	}
	if owner.IsZero() {
		return nil, errMissingIdentity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		signer:    cfg.Signer,
		address:   owner,
		transport: cfg.Transport,
		journal:   cfg.Journal,
		logger:    logger.With(zap.String("account", owner.String())),
		sequencer: nonce.NewSequencer(),
	}, nil
}

// Address returns the submitting account.
func (c *Client) Address() address.Address {
	return c.address
}

// SyncNonce reads the account's next nonce from the node once. It may be
// called again after a NonceConflict to resynchronize.
func (c *Client) SyncNonce(ctx context.Context) error {
	remote, err := c.transport.GetNonce(ctx, c.address.String())
	if err != nil {
		return asTransportError("get_nonce", err)
	}
	if err := c.sequencer.SyncString(remote); err != nil {
		return errs.Transport("get_nonce", err)
	}
	c.logger.Debug("nonce synchronized", zap.String("nonce", remote))
	return nil
}

// Nonce returns the nonce the next submission will carry.
func (c *Client) Nonce() (uint64, error) {
	return c.sequencer.Peek()
}

// Submit encodes, signs and sends m, then interprets the node's verdict.
//
// Acceptance advances the nonce and returns the node's identifiers. A
// nonce mismatch returns *errs.NonceConflictError, any other non-zero code
// returns *errs.RejectedError, and a failed exchange returns an error
// matching errs.ErrTransport; none of these advance the nonce.
func (c *Client) Submit(ctx context.Context, m mutation.Mutation) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	payload, err := mutation.Encode(m)
	if err != nil {
		return Result{}, err
	}

	lease, err := c.sequencer.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	nonceText := lease.String()

	submission := transport.Submission{
		Payload: payload,
		Nonce:   nonceText,
		Address: c.address.String(),
	}
	if c.signer != nil {
		signature, err := c.signer.Sign(ctx, account.MutationPayload(payload, nonceText))
		if err != nil {
			lease.Release()
			return Result{}, fmt.Errorf("sign mutation: %w", err)
		}
		submission.Signature = signature
		if holder, ok := c.signer.(publicKeyHolder); ok {
			submission.PublicKey = holder.PublicKeyHex()
		}
	}

	entryID, err := c.beginEntry(ctx, m, payload, nonceText)
	if err != nil {
		lease.Release()
		return Result{}, err
	}

	c.logger.Debug("submitting mutation", zap.String("action", m.Action.String()), zap.String("nonce", nonceText))
	response, err := c.transport.SendMutation(ctx, submission)
	if err != nil {
		lease.Release()
		c.resolveEntry(ctx, entryID, journal.Outcome{Status: journal.StatusUnknown, Message: err.Error()})
		c.logger.Warn("mutation outcome unknown", zap.String("nonce", nonceText), zap.Error(err))
		return Result{}, asTransportError("send_mutation", err)
	}

	switch response.Code {
	case transport.CodeAccepted:
		lease.Commit()
		c.resolveEntry(ctx, entryID, journal.Outcome{Status: journal.StatusAccepted, MutationID: response.ID})
		c.logger.Info("mutation accepted",
			zap.String("mutation_id", response.ID),
			zap.String("action", m.Action.String()),
			zap.String("nonce", nonceText))
		return Result{ID: response.ID, Nonce: lease.Nonce(), Items: response.Items}, nil
	case transport.CodeNonceMismatch:
		lease.Release()
		c.resolveEntry(ctx, entryID, journal.Outcome{Status: journal.StatusConflict, Code: response.Code, Message: response.Message})
		c.logger.Warn("mutation nonce conflict", zap.String("nonce", nonceText), zap.String("message", response.Message))
		return Result{}, &errs.NonceConflictError{Sent: lease.Nonce(), Message: response.Message}
	default:
		lease.Release()
		c.resolveEntry(ctx, entryID, journal.Outcome{Status: journal.StatusRejected, Code: response.Code, Message: response.Message})
		c.logger.Warn("mutation rejected",
			zap.String("nonce", nonceText),
			zap.Int("code", response.Code),
			zap.String("message", response.Message))
		return Result{}, &errs.RejectedError{Code: response.Code, Message: response.Message}
	}
}

func (c *Client) beginEntry(ctx context.Context, m mutation.Mutation, payload []byte, nonceText string) (string, error) {
	if c.journal == nil {
		return "", nil
	}
	databaseAddress := ""
	if len(m.DatabaseAddress) > 0 {
		if parsed, err := address.FromBytes(m.DatabaseAddress); err == nil {
			databaseAddress = parsed.String()
		}
	}
	entryID, err := c.journal.Begin(ctx, journal.Record{
		Account:         c.address.String(),
		Nonce:           nonceText,
		Action:          m.Action.String(),
		DatabaseAddress: databaseAddress,
		Payload:         payload,
	})
	if err != nil {
		return "", fmt.Errorf("journal submission: %w", err)
	}
	return entryID, nil
}

// resolveEntry records the verdict even when ctx has already ended; the
// verdict is known and only the bookkeeping remains.
func (c *Client) resolveEntry(ctx context.Context, entryID string, outcome journal.Outcome) {
	if c.journal == nil || entryID == "" {
		return
	}
	if err := c.journal.Resolve(context.WithoutCancel(ctx), entryID, outcome); err != nil {
		c.logger.Warn("journal resolve failed", zap.String("entry_id", entryID), zap.Error(err))
	}
}

func asTransportError(operation string, err error) error {
	if errors.Is(err, errs.ErrTransport) {
		return err
	}
	return errs.Transport(operation, err)
}
