package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/investmarket/auth-api/internal/domain"
	jwtinfra "github.com/investmarket/auth-api/internal/infrastructure/jwt"
	"github.com/investmarket/auth-api/internal/pkg/logger"
)

type contextKey string

const principalKey contextKey = "principal"

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*jwtinfra.Claims, error)
}

// AccountResolver loads the current state of an account.
type AccountResolver interface {
	FindByID(ctx context.Context, accountID string) (*domain.Account, error)
}

// Auth returns middleware that validates the Bearer JWT, re-reads the account
// and injects a domain.Principal carrying the account's current role.
func Auth(tokens TokenVerifier, accounts AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if !strings.HasPrefix(authHeader, "Bearer ") || tokenStr == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization header")
				return
			}
			claims, err := tokens.Verify(tokenStr)
			if err != nil {
				code := domain.CodeOf(err)
				if code == "" {
					code = domain.ErrTokenInvalid.Code
				}
				writeJSONError(w, http.StatusUnauthorized, code, "invalid or expired token")
				return
			}

			a, err := accounts.FindByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeJSONError(w, http.StatusUnauthorized, domain.ErrTokenInvalid.Code, "account no longer exists")
					return
				}
				logger.WithContext(r.Context()).Error("failed to resolve principal", "account_id", claims.AccountID, "err", err)
				writeJSONError(w, http.StatusInternalServerError, domain.ErrInternalFailure.Code, "internal server error")
				return
			}
			if !a.Role.Valid() {
				logger.WithContext(r.Context()).Warn("account has unknown role", "account_id", a.AccountID, "role", a.Role)
				writeJSONError(w, http.StatusUnauthorized, domain.ErrTokenInvalid.Code, "invalid or expired token")
				return
			}

			p := domain.Principal{
				AccountID: a.AccountID,
				Email:     a.Email,
				Role:      a.Role,
				TokenID:   claims.ID,
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the caller attached by Auth.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}
