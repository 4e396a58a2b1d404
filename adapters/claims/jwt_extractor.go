package claims

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

// TokenClaims are the OpenID Connect claims read from an identity token
type TokenClaims struct {
	jwt.RegisteredClaims
	Nonce   string `json:"nonce"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// JWTExtractor decodes identity token claims without verifying the token
// signature. The proving service verifies the token against the issuer keys.
type JWTExtractor struct {
	parser *jwt.Parser
}

// NewJWTExtractor creates a new claims extractor
func NewJWTExtractor() ports.ClaimsExtractor {
	return &JWTExtractor{parser: jwt.NewParser()}
}

// Extract decodes the claims of an identity token. Any decoding failure or
// missing required claim returns core.ErrMalformedJWT.
func (e *JWTExtractor) Extract(token string) (*core.Claims, error) {
	var tc TokenClaims
	if _, _, err := e.parser.ParseUnverified(token, &tc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedJWT, err)
	}

	if tc.Issuer == "" {
		return nil, fmt.Errorf("%w: missing iss claim", core.ErrMalformedJWT)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", core.ErrMalformedJWT)
	}
	if len(tc.Audience) == 0 || tc.Audience[0] == "" {
		return nil, fmt.Errorf("%w: missing aud claim", core.ErrMalformedJWT)
	}

	var exp int64
	if tc.ExpiresAt != nil {
		exp = tc.ExpiresAt.Unix()
	}

	return &core.Claims{
		Issuer:    tc.Issuer,
		Subject:   tc.Subject,
		Audience:  tc.Audience[0],
		Nonce:     tc.Nonce,
		Name:      tc.Name,
		Email:     tc.Email,
		Picture:   tc.Picture,
		ExpiresAt: exp,
	}, nil
}
