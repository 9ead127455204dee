// Package address converts between the external hex form of account and
// database addresses and their raw 20-byte form.
package address

import (
	"encoding/hex"
	"strings"

	"github.com/db3-network/db3-go/internal/errs"
	"golang.org/x/crypto/sha3"
)

// Length is the size of an address in bytes.
const Length = 20

// Address is a raw 20-byte account or database address.
type Address [Length]byte

// Zero is the empty address.
var Zero Address

// FromHex parses a hex address with an optional 0x prefix.
func FromHex(rawInput string) (Address, error) {
	trimmed := strings.TrimSpace(rawInput)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(trimmed) != Length*2 {
		return Zero, errs.InvalidArgument("address %q: want %d hex characters, got %d", rawInput, Length*2, len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return Zero, errs.InvalidArgument("address %q: %v", rawInput, err)
	}
	var addr Address
	copy(addr[:], decoded)
	return addr, nil
}

// FromBytes copies a raw address.
func FromBytes(raw []byte) (Address, error) {
	if len(raw) != Length {
		return Zero, errs.InvalidArgument("address: want %d bytes, got %d", Length, len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// FromPublicKey derives an address from the last 20 bytes of the public key's Keccak-256 hash.
func FromPublicKey(publicKey []byte) Address {
	digest := Keccak256(publicKey)
	var addr Address
	copy(addr[:], digest[len(digest)-Length:])
	return addr
}

// Bytes returns a copy of the raw address.
func (a Address) Bytes() []byte {
	out := make([]byte, Length)
	copy(out, a[:])
	return out
}

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool {
	return a == Zero
}

// String returns the lowercase 0x-prefixed hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Keccak256 hashes the concatenation of chunks with legacy Keccak-256.
func Keccak256(chunks ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, chunk := range chunks {
		hasher.Write(chunk)
	}
	return hasher.Sum(nil)
}

// Keccak256Hex returns the 0x-prefixed hex of Keccak256(chunks...).
func Keccak256Hex(chunks ...[]byte) string {
	return "0x" + hex.EncodeToString(Keccak256(chunks...))
}
