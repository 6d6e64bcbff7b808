package handler

import (
	"net/http"

	"github.com/investmarket/auth-api/internal/domain"
)

type roleView struct {
	Name           domain.Role `json:"name"`
	SelfAssignable bool        `json:"self_assignable"`
}

// ListRoles returns the closed set of account roles.
func ListRoles(w http.ResponseWriter, _ *http.Request) {
	out := make([]roleView, 0, len(domain.Roles))
	for _, r := range domain.Roles {
		out = append(out, roleView{Name: r, SelfAssignable: r.SelfAssignable()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": out})
}
