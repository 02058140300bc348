package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 12
	MaxPasswordLen = 72 // bcrypt ignores input past 72 bytes
)

// ErrWeakPassword is returned by ValidatePassword. The message is deliberately generic.
var ErrWeakPassword = errors.New("invalid password")

var rejectedPasswords = map[string]struct{}{
	"password1234":  {},
	"123456789012":  {},
	"qwertyuiop12":  {},
	"letmein12345":  {},
	"administrator": {},
	"changeme1234":  {},
	"welcome12345":  {},
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword returns nil when password matches hashedPassword
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var dummyHash = sync.OnceValue(func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("bulwark-unknown-account"), BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("generate dummy hash: %v", err))
	}
	return string(h)
})

// CompareDummy burns the same bcrypt work as ComparePassword for an account
// that does not exist, so unknown and known identities take similar time.
func CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash()), []byte(password))
}

// ValidatePassword checks length and character classes for admin-chosen passwords
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return ErrWeakPassword
	}
	if _, ok := rejectedPasswords[strings.ToLower(password)]; ok {
		return ErrWeakPassword
	}

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	if !upper || !lower || !digit || !other {
		return ErrWeakPassword
	}
	return nil
}
