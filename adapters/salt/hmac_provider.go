// Package salt derives per-user zkLogin salts.
package salt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

// saltBytes keeps the salt below the BN254 field modulus
const saltBytes = 16

// HMACProvider derives a stable salt from the token identity with a server
// secret. The same (iss, aud, sub) always maps to the same salt and thus the
// same address.
type HMACProvider struct {
	seed []byte
}

// NewHMACProvider creates a salt provider keyed by seed
func NewHMACProvider(seed []byte) (*HMACProvider, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("%w: salt seed must be at least 16 bytes", core.ErrInvalidConfig)
	}
	return &HMACProvider{seed: seed}, nil
}

var _ ports.SaltProvider = (*HMACProvider)(nil)

// Salt returns the decimal salt for claims
func (p *HMACProvider) Salt(_ context.Context, claims *core.Claims) (string, error) {
	if claims == nil || claims.Issuer == "" || claims.Subject == "" || claims.Audience == "" {
		return "", fmt.Errorf("%w: missing identity claims", core.ErrMalformedJWT)
	}

	mac := hmac.New(sha256.New, p.seed)
	mac.Write([]byte(claims.Issuer))
	mac.Write([]byte{0})
	mac.Write([]byte(claims.Audience))
	mac.Write([]byte{0})
	mac.Write([]byte(claims.Subject))
	sum := mac.Sum(nil)

	return new(big.Int).SetBytes(sum[:saltBytes]).String(), nil
}
