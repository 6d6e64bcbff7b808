package id

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. IDs from one process are strictly
// increasing, including those generated within the same millisecond.
func New() string {
	return ulid.Make().String()
}

// NewAccountID returns a random UUID, the stable identity of an account.
func NewAccountID() string {
	return uuid.NewString()
}

// IsAccountID reports whether s parses as a UUID.
func IsAccountID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
