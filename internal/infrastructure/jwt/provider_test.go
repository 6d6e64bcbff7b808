package jwtinfra

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func newTestProvider(t *testing.T, now time.Time) *Provider {
	t.Helper()
	p, err := NewProvider(secret, "test-issuer", time.Hour)
	require.NoError(t, err)
	p.now = func() time.Time { return now }
	return p
}

func TestNewProvider_FailsWithoutSecret(t *testing.T) {
	_, err := NewProvider("", "iss", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = NewProvider(secret, "iss", 0)
	assert.Error(t, err)
}

func TestMintVerify_RoundTrip(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, now)

	tok, exp, err := p.Mint(MintInput{AccountID: "acc-1", Role: domain.RoleInvestor, Email: "a@x.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), exp, time.Second)

	claims, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.Equal(t, "investor", claims.Role)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestMint_RejectsUnknownRole(t *testing.T) {
	p := newTestProvider(t, time.Now())
	_, _, err := p.Mint(MintInput{AccountID: "acc-1", Role: domain.Role("root")})
	assert.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, now)
	tok, _, err := p.Mint(MintInput{AccountID: "acc-1", Role: domain.RoleUser})
	require.NoError(t, err)

	p.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = p.Verify(tok)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestVerify_TamperedAndForeign(t *testing.T) {
	p := newTestProvider(t, time.Now())
	tok, _, err := p.Mint(MintInput{AccountID: "acc-1", Role: domain.RoleUser})
	require.NoError(t, err)

	_, err = p.Verify(tok + "x")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	other, err := NewProvider("another-secret-another-secret-xx", "test-issuer", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Mint(MintInput{AccountID: "acc-1", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = p.Verify(foreign)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = p.Verify("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	p := newTestProvider(t, time.Now())
	claims := Claims{
		AccountID: "acc-1",
		Role:      "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.Verify(unsigned)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}
