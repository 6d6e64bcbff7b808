package middleware

import (
	"net/http"

	"github.com/investmarket/auth-api/internal/domain"
)

// RequireRole returns middleware that allows access only to principals whose
// current role is one of allowedRoles. It must run after Auth.
func RequireRole(allowedRoles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			if !p.HasRole(allowedRoles...) {
				writeJSONError(w, http.StatusForbidden, domain.ErrRoleForbidden.Code, domain.ErrRoleForbidden.Msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
