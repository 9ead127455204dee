package account

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/errs"
)

// Config tunes an Account. The zero value is usable.
type Config struct {
	SignatureTTL time.Duration
	Clock        func() time.Time
}

// Account is an Ed25519 signing identity. Its address is the last 20 bytes
// of the Keccak-256 hash of the public key.
type Account struct {
	privateKey   ed25519.PrivateKey
	address      address.Address
	signatureTTL time.Duration
	clock        func() time.Time
}

// Generate creates an account from fresh randomness.
func Generate(cfg Config) (*Account, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	return FromPrivateKey(privateKey, cfg)
}

// FromPrivateKeyHex loads an account from a hex encoded 32-byte seed or
// 64-byte expanded private key. A 0x prefix is accepted.
func FromPrivateKeyHex(raw string, cfg Config) (*Account, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errs.InvalidArgument("private key is not hex")
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return FromPrivateKey(ed25519.NewKeyFromSeed(decoded), cfg)
	case ed25519.PrivateKeySize:
		return FromPrivateKey(ed25519.PrivateKey(decoded), cfg)
	default:
		return nil, errs.InvalidArgument("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(decoded))
	}
}

// FromPrivateKey wraps an existing Ed25519 key.
func FromPrivateKey(privateKey ed25519.PrivateKey, cfg Config) (*Account, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errs.InvalidArgument("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	ttl := cfg.SignatureTTL
	if ttl <= 0 {
		ttl = defaultSignatureTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	key := append(ed25519.PrivateKey(nil), privateKey...)
	publicKey := key.Public().(ed25519.PublicKey)
	return &Account{
		privateKey:   key,
		address:      address.FromPublicKey(publicKey),
		signatureTTL: ttl,
		clock:        clock,
	}, nil
}

// Address returns the account address.
func (a *Account) Address() address.Address {
	return a.address
}

// PublicKey returns the Ed25519 public key.
func (a *Account) PublicKey() ed25519.PublicKey {
	return a.privateKey.Public().(ed25519.PublicKey)
}

// PublicKeyHex returns the public key as lowercase hex.
func (a *Account) PublicKeyHex() string {
	return hex.EncodeToString(a.PublicKey())
}

// PrivateKeyHex returns the 32-byte seed as lowercase hex, the form
// accepted back by FromPrivateKeyHex.
func (a *Account) PrivateKeyHex() string {
	return hex.EncodeToString(a.privateKey.Seed())
}
