// Package passwords generates rotation passwords and scores their strength.
package passwords

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the character set used for generated passwords.
const Alphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!@#$%^&*()-_=+[]{}:,.?"

const symbolSet = "!@#$%^&*()-_=+[]{}:,.?"

// Generation limits.
const (
	MinGeneratedLength     = 16
	DefaultGeneratedLength = 24
)

// ErrLengthTooShort indicates a requested length below the generation floor.
var ErrLengthTooShort = errors.New("passwords: generated length must be >= 16")

// Generate returns a random password of the given length from Alphabet.
// Lengths below MinGeneratedLength are rejected; pass
// DefaultGeneratedLength for the standard rotation password.
func Generate(length int) (string, error) {
	if length < MinGeneratedLength {
		return "", ErrLengthTooShort
	}

	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("passwords: failed to draw random index: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// IsWeak reports whether a password fails the rotation baseline: at least 14
// characters drawing on lowercase, uppercase, digits, and symbols.
func IsWeak(password string) bool {
	if len(password) < 14 {
		return true
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(symbolSet, r):
			hasSymbol = true
		}
	}
	return !(hasLower && hasUpper && hasDigit && hasSymbol)
}

// Strength represents the strength level of a password.
type Strength int

const (
	// StrengthWeak indicates an insecure password.
	StrengthWeak Strength = iota
	// StrengthFair indicates a minimally acceptable password.
	StrengthFair
	// StrengthGood indicates a good password.
	StrengthGood
	// StrengthStrong indicates a strong password.
	StrengthStrong
)

// String returns a human-readable representation of the strength level.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "weak"
	case StrengthFair:
		return "fair"
	case StrengthGood:
		return "good"
	case StrengthStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Classify scores a password by length and character-class coverage.
func Classify(password string) Strength {
	classes := 0
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	for _, ok := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if ok {
			classes++
		}
	}

	switch {
	case classes >= 3 && len(password) >= 16:
		return StrengthStrong
	case classes >= 2 && len(password) >= 12:
		return StrengthGood
	case classes >= 2 || len(password) >= 12:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
