package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/praise-ledger/ledger"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestJWTResolver_RoundTrip(t *testing.T) {
	r := NewJWTResolver(secret, "praise-ledger")

	tok, err := r.Issue("u-42", "", time.Hour)
	require.NoError(t, err)

	c, err := r.ResolveCaller(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal(t, ledger.UserID("u-42"), c.UserID)
	assert.False(t, c.Admin)
}

func TestJWTResolver_AdminRole(t *testing.T) {
	r := NewJWTResolver(secret, "praise-ledger")
	tok, err := r.Issue("boss", RoleAdmin, time.Hour)
	require.NoError(t, err)

	c, err := r.ResolveCaller(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, c.Admin)
}

func TestJWTResolver_Rejects(t *testing.T) {
	r := NewJWTResolver(secret, "praise-ledger")
	good, err := r.Issue("u-1", "", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTResolver(secret, "someone-else").Issue("u-1", "", time.Hour)
	require.NoError(t, err)
	otherSecret, err := NewJWTResolver("ffffffffffffffffffffffffffffffff", "praise-ledger").Issue("u-1", "", time.Hour)
	require.NoError(t, err)

	expiredResolver := NewJWTResolver(secret, "praise-ledger")
	expiredResolver.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredResolver.Issue("u-1", "", time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "u-1", Issuer: "praise-ledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"bearer only":  "Bearer ",
		"garbage":      "not.a.jwt",
		"wrong issuer": otherIssuer,
		"wrong secret": otherSecret,
		"expired":      expired,
		"alg none":     unsigned,
		"tampered":     good + "x",
	}
	for name, cred := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.ResolveCaller(context.Background(), cred)
			assert.ErrorIs(t, err, ledger.ErrUnauthenticated)
		})
	}
}

func TestStatic(t *testing.T) {
	s := Static{"dev-token": {UserID: "u-1", Admin: true}}

	c, err := s.ResolveCaller(context.Background(), "Bearer dev-token")
	require.NoError(t, err)
	assert.True(t, c.Admin)

	_, err = s.ResolveCaller(context.Background(), "other")
	assert.ErrorIs(t, err, ledger.ErrUnauthenticated)
}
