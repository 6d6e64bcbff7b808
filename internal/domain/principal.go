package domain

// Principal is the authenticated caller attached to a request by the access
// guard. Role is the account's current role as read from the credential store.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
	TokenID   string
}

// HasRole reports whether the principal's role is one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
