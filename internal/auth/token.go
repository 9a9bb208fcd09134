// Package auth issues and validates bearer tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload carried by an access token. The subject is the
// account email.
type Claims struct {
	FirstName   string   `json:"first_name"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 tokens with a process-wide secret. It holds no
// per-token state; a token is valid until its expiry.
type TokenIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithClock overrides the clock used for issuing and validating.
func WithClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		t.now = now
	}
}

// NewTokenIssuer returns an issuer signing with secret. Token timestamps have
// whole-second precision, so lifetime is truncated to whole seconds.
func NewTokenIssuer(secret string, lifetime time.Duration, opts ...TokenOption) *TokenIssuer {
	t := &TokenIssuer{
		secret:   []byte(secret),
		lifetime: lifetime.Truncate(jwt.TimePrecision),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	return t
}

// Lifetime returns the configured token lifetime.
func (t *TokenIssuer) Lifetime() time.Duration {
	return t.lifetime
}

// Issue signs a token for subject carrying the given grants.
func (t *TokenIssuer) Issue(subject, firstName string, roles, permissions []string) (string, error) {
	now := t.now().Truncate(jwt.TimePrecision)
	claims := Claims{
		FirstName:   firstName,
		Roles:       append([]string{}, roles...),
		Permissions: append([]string{}, permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString, checks the signature, algorithm and expiry, and
// returns its claims.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := t.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IsValid reports whether tokenString verifies and has not expired.
func (t *TokenIssuer) IsValid(tokenString string) bool {
	_, err := t.Verify(tokenString)
	return err == nil
}

// Subject reads the subject claim without verifying the token. Call IsValid
// first.
func (t *TokenIssuer) Subject(tokenString string) string {
	return t.unverified(tokenString).Subject
}

// FirstName reads the first_name claim without verifying the token.
func (t *TokenIssuer) FirstName(tokenString string) string {
	return t.unverified(tokenString).FirstName
}

// Roles reads the roles claim without verifying the token.
func (t *TokenIssuer) Roles(tokenString string) []string {
	return nonNil(t.unverified(tokenString).Roles)
}

// Permissions reads the permissions claim without verifying the token.
func (t *TokenIssuer) Permissions(tokenString string) []string {
	return nonNil(t.unverified(tokenString).Permissions)
}

func (t *TokenIssuer) unverified(tokenString string) *Claims {
	claims := &Claims{}
	if _, _, err := t.parser.ParseUnverified(tokenString, claims); err != nil {
		return &Claims{}
	}
	return claims
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
