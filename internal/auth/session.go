package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long an issued session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidToken is returned when a presented token fails verification for
// any reason (bad signature, expired, malformed).
var ErrInvalidToken = errors.New("invalid or expired token")

// SessionClaims are the JWT claims carried by a Blogmatic session token.
// The account email is the subject.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// Sessions issues and verifies HMAC-signed session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session token service signing with the given secret.
func NewSessions(secret string) (*Sessions, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	return &Sessions{
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token identifying the given account email.
func (s *Sessions) Issue(email string) (string, error) {
	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify resolves a presented token to the account email it was issued for.
func (s *Sessions) Verify(tokenString string) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	email := strings.TrimSpace(claims.Subject)
	if email == "" {
		return "", ErrInvalidToken
	}
	return email, nil
}

type contextKey string

const contextKeyIdentity contextKey = "identity"

// WithIdentity adds a resolved account email to the context.
func WithIdentity(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, email)
}

// IdentityFromContext extracts the resolved account email from the context.
func IdentityFromContext(ctx context.Context) string {
	if email, ok := ctx.Value(contextKeyIdentity).(string); ok {
		return email
	}
	return ""
}
