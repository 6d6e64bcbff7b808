package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/pkg/id"
)

// ErrMissingSecret is returned by NewProvider when no signing secret is configured.
var ErrMissingSecret = errors.New("jwt signing secret is not configured")

// Claims holds the JWT payload fields.
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// MintInput is the identity embedded in a new session token.
type MintInput struct {
	AccountID string
	Role      domain.Role
	Email     string
	Phone     string
}

// Provider signs and verifies HS256 JWTs.
type Provider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewProvider(secret, issuer string, ttl time.Duration) (*Provider, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Provider{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Mint signs a token for in and returns it with its expiry.
func (p *Provider) Mint(in MintInput) (string, time.Time, error) {
	if in.AccountID == "" || !in.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("mint: account id and a valid role are required")
	}
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		AccountID: in.AccountID,
		Role:      string(in.Role),
		Email:     in.Email,
		Phone:     in.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.AccountID,
			Issuer:    p.issuer,
			ID:        id.New(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm, issuer and expiry. Failures map to
// domain.ErrTokenExpired or domain.ErrTokenInvalid.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
