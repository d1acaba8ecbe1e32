// Package password implements the password strength policy and bcrypt hashing.
package password

import (
	"fmt"
	"unicode/utf16"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost = 12
	MinLength   = 10

	// bcrypt only ever looks at the first 72 bytes of input.
	maxInputBytes = 72
)

type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("password %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// IsStrongPassword reports whether p is at least MinLength UTF-16 code units long and contains a
// lowercase letter, an uppercase letter, a digit and a character that is not an ASCII
// letter or digit. Line terminators are never allowed.
func IsStrongPassword(p string) bool {
	var length int
	var lower, upper, digit, special bool
	for _, r := range p {
		switch {
		case r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029':
			return false
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
		length += utf16.RuneLen(r)
	}
	return length >= MinLength && lower && upper && digit && special
}

func Hash(p string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword(truncate(p), cost)
	if err != nil {
		return "", &CryptoError{Op: "hash", Err: err}
	}
	return string(hashed), nil
}

// Verify compares p against a stored bcrypt hash. A malformed hash is a mismatch.
func Verify(p, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), truncate(p)) == nil
}

// Cost returns the work factor embedded in hashed.
func Cost(hashed string) (int, error) {
	c, err := bcrypt.Cost([]byte(hashed))
	if err != nil {
		return 0, &CryptoError{Op: "cost", Err: err}
	}
	return c, nil
}

func truncate(p string) []byte {
	b := []byte(p)
	if len(b) > maxInputBytes {
		b = b[:maxInputBytes]
	}
	return b
}
