package account

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/errs"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSignatureTTL = 5 * time.Minute

	// Domain names the signing domain shared by clients and nodes.
	Domain = "db3"
	// PrimaryTypeMutation is the typed-data kind for mutation submissions.
	PrimaryTypeMutation = "Mutation"
)

// TypedData is the structured payload an account signs.
type TypedData struct {
	Domain      string
	PrimaryType string
	Message     map[string]string
}

// Signer produces signatures over typed payloads on behalf of one address.
type Signer interface {
	Sign(ctx context.Context, data TypedData) (string, error)
	Address() address.Address
}

// PayloadClaims is the JWT body of a signature.
type PayloadClaims struct {
	Domain      string            `json:"domain"`
	PrimaryType string            `json:"primary_type"`
	Message     map[string]string `json:"message"`
	PublicKey   string            `json:"pub"`
	jwt.RegisteredClaims
}

// MutationPayload builds the typed data signed for a mutation submission.
func MutationPayload(payload []byte, nonce string) TypedData {
	return TypedData{
		Domain:      Domain,
		PrimaryType: PrimaryTypeMutation,
		Message: map[string]string{
			"payload_hash": address.Keccak256Hex(payload),
			"nonce":        nonce,
		},
	}
}

// Sign returns a compact EdDSA JWS over data.
func (a *Account) Sign(ctx context.Context, data TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if data.Domain == "" || data.PrimaryType == "" {
		return "", errs.InvalidArgument("typed data requires domain and primary type")
	}

	now := a.clock().UTC()
	claims := PayloadClaims{
		Domain:      data.Domain,
		PrimaryType: data.PrimaryType,
		Message:     data.Message,
		PublicKey:   hex.EncodeToString(a.PublicKey()),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.address.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.signatureTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	return signed, nil
}
