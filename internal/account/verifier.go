package account

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSignature = errors.New("signature verifier: signature required")
	ErrInvalidSignature = errors.New("signature verifier: invalid signature")
	ErrExpiredSignature = errors.New("signature verifier: signature expired")
	ErrSignerMismatch   = errors.New("signature verifier: public key does not match subject")
)

// Verifier checks signatures produced by Account.Sign. It needs no key
// material: the public key travels in the claims and must hash to the
// subject address.
type Verifier struct {
	clock func() time.Time
}

// NewVerifier constructs a Verifier. A nil clock means time.Now.
func NewVerifier(clock func() time.Time) *Verifier {
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{clock: clock}
}

// Verify validates the token and returns its claims with the signer address.
func (v *Verifier) Verify(tokenString string) (PayloadClaims, address.Address, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return PayloadClaims{}, address.Zero, ErrMissingSignature
	}

	claims := &PayloadClaims{}
	var signer address.Address
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			parsedClaims, ok := t.Claims.(*PayloadClaims)
			if !ok {
				return nil, ErrInvalidSignature
			}
			rawKey, err := hex.DecodeString(parsedClaims.PublicKey)
			if err != nil || len(rawKey) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("%w: malformed public key", ErrInvalidSignature)
			}
			publicKey := ed25519.PublicKey(rawKey)
			derived := address.FromPublicKey(publicKey)
			subject, err := address.FromHex(parsedClaims.Subject)
			if err != nil || subject != derived {
				return nil, ErrSignerMismatch
			}
			signer = derived
			return publicKey, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return PayloadClaims{}, address.Zero, ErrExpiredSignature
		}
		if errors.Is(err, ErrSignerMismatch) {
			return PayloadClaims{}, address.Zero, ErrSignerMismatch
		}
		return PayloadClaims{}, address.Zero, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if parsed == nil || !parsed.Valid {
		return PayloadClaims{}, address.Zero, ErrInvalidSignature
	}
	return *claims, signer, nil
}
