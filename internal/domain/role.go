package domain

import "strings"

// Role is the closed set of account roles shared by the access guard and the
// CRUD layer above it.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleUser         Role = "user"
	RoleInvestor     Role = "investor"
	RoleEntrepreneur Role = "entrepreneur"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleUser, RoleInvestor, RoleEntrepreneur}

// ParseRole maps s onto a known role. Unknown strings are rejected, never
// downgraded to the lowest privilege.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r, nil
	}
	return "", ErrInvalidRole
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleInvestor, RoleEntrepreneur:
		return true
	}
	return false
}

// SelfAssignable reports whether an account may pick r for itself at registration.
func (r Role) SelfAssignable() bool {
	return r == RoleUser || r == RoleInvestor || r == RoleEntrepreneur
}

func (r Role) String() string { return string(r) }
