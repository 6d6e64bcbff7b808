// Package passcode generates numeric one-time codes.
package passcode

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	DefaultLength = 6
	MinLength     = 4
	MaxLength     = 8
)

var ErrInvalidLength = errors.New("passcode length must be between 4 and 8")

var ten = big.NewInt(10)

// Generate returns exactly length decimal digits, each drawn uniformly from crypto/rand.
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", ErrInvalidLength
	}
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + n.Int64())
	}
	return string(b), nil
}
