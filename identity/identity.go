// Package identity resolves bearer credentials to ledger callers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/praise-ledger/ledger"
)

// RoleAdmin marks tokens allowed to call administrative operations.
const RoleAdmin = "admin"

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID ledger.UserID
	Admin  bool
}

// Resolver turns a credential into a Caller. Failures wrap
// ledger.ErrUnauthenticated.
type Resolver interface {
	ResolveCaller(ctx context.Context, credential string) (Caller, error)
}

// JWTResolver validates HS256 tokens whose subject is the user id and whose
// optional role claim grants admin rights.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ Resolver = (*JWTResolver)(nil)

// NewJWTResolver creates a resolver. secret should be at least 32 characters.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledger.ErrUnauthenticated, fmt.Sprintf(format, args...))
}

// ResolveCaller accepts either the raw token or an "Authorization" header
// value with the Bearer prefix.
func (r *JWTResolver) ResolveCaller(_ context.Context, credential string) (Caller, error) {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Caller{}, unauthenticated("missing credential")
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithIssuer(r.issuer), jwt.WithTimeFunc(r.now), jwt.WithExpirationRequired())
	if err != nil {
		return Caller{}, unauthenticated("parse token: %v", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Caller{}, unauthenticated("invalid token claims")
	}
	if c.Subject == "" {
		return Caller{}, unauthenticated("token has no subject")
	}
	return Caller{UserID: ledger.UserID(c.Subject), Admin: c.Role == RoleAdmin}, nil
}

// Issue signs a token for userID valid for ttl. Used by operators and tests;
// login flows live outside this service.
func (r *JWTResolver) Issue(userID ledger.UserID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := r.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	})
	signed, err := tok.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Static resolves fixed credentials. Handy for local runs and tests.
type Static map[string]Caller

func (s Static) ResolveCaller(_ context.Context, credential string) (Caller, error) {
	c, ok := s[strings.TrimPrefix(strings.TrimSpace(credential), "Bearer ")]
	if !ok {
		return Caller{}, unauthenticated("unknown credential")
	}
	return c, nil
}
