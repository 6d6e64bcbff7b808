// Package password hashes and verifies account passwords.
//
// Digests are self-describing: bcrypt digests start with "$2" and argon2id
// digests use the PHC "$argon2id$" prefix, so a Hasher configured for one
// algorithm still verifies digests produced by the other.
package password

import (
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgoBcrypt   = "bcrypt"
	AlgoArgon2id = "argon2id"
)

// Hasher is a salted, adaptive one-way password transform.
type Hasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain matches digest. It never errors; a
	// malformed digest simply does not match.
	Verify(plain, digest string) bool
	// Equalize spends the same work as a failed Verify. Login uses it when the
	// account does not exist so response timing does not reveal that.
	Equalize(plain string)
}

type hasher struct {
	algo       string
	bcryptCost int
	argon      *argon2id.Params
	dummy      []byte
}

// New returns a Hasher for algo ("bcrypt" or "argon2id"). bcryptCost <= 0 uses bcrypt.DefaultCost.
func New(algo string, bcryptCost int) (Hasher, error) {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
	}
	switch algo {
	case "", AlgoBcrypt:
		algo = AlgoBcrypt
	case AlgoArgon2id:
	default:
		return nil, fmt.Errorf("unknown password hash algorithm %q", algo)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("equalize-timing-placeholder"), bcryptCost)
	if err != nil {
		return nil, err
	}
	return &hasher{algo: algo, bcryptCost: bcryptCost, argon: argon2id.DefaultParams, dummy: dummy}, nil
}

func (h *hasher) Hash(plain string) (string, error) {
	if h.algo == AlgoArgon2id {
		return argon2id.CreateHash(plain, h.argon)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *hasher) Verify(plain, digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		ok, err := argon2id.ComparePasswordAndHash(plain, digest)
		if err != nil {
			h.Equalize(plain)
			return false
		}
		return ok
	case strings.HasPrefix(digest, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
		if err != nil && err != bcrypt.ErrMismatchedHashAndPassword {
			h.Equalize(plain)
		}
		return err == nil
	}
	h.Equalize(plain)
	return false
}

func (h *hasher) Equalize(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
