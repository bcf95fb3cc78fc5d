package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost trades hashing speed for resistance to offline cracking.
	bcryptCost = 12

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8

	// MaxPasswordLength matches bcrypt's input limit. Anything longer would
	// be silently truncated by the hash, so it is rejected up front.
	MaxPasswordLength = 72
)

// HashPassword hashes a plain text password with bcrypt. Callers should
// validate the password first; bcrypt itself rejects oversized input.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPasswordHash reports whether the password matches the stored hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordComplexity enforces the password length bounds. Length is
// the only requirement; composition rules push users toward predictable
// substitutions without adding much entropy.
func ValidatePasswordComplexity(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters long", MaxPasswordLength)
	}
	return nil
}
