// Package token issues and validates the bearer tokens that authenticate
// principals. The subject claim carries the principal's address; roles are
// never embedded in tokens — the role registry is the single authority.
package token

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	id "custodia/pkg/domain"
)

// Manager signs and validates HS256 tokens.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
}

// New constructs a token manager.
func New(signingKey string, ttl time.Duration) *Manager {
	return &Manager{signingKey: []byte(signingKey), ttl: ttl}
}

// Mint issues a token for the given principal. Used by operator tooling;
// the service itself only validates.
func (m *Manager) Mint(principal common.Address) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		Issuer:    "custodia",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// ValidateToken checks the signature and expiry and returns the principal
// address from the subject claim.
func (m *Manager) ValidateToken(tokenString string) (common.Address, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return common.Address{}, fmt.Errorf("invalid token claims")
	}
	principal, err := id.RequireAddress(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("token subject is not a principal address: %w", err)
	}
	return principal, nil
}
