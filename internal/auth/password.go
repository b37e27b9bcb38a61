package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines the contract for password operations.
// This interface allows us to easily mock hashing in tests or swap algorithms.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher implements PasswordHasher using the bcrypt algorithm.
// bcrypt embeds its cost in the digest, so Compare keeps working when the
// cost is raised later; comparison is constant-time by construction.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new hasher with cost 12 (~100ms on current
// reference hardware).
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: 12}
}

// Hash returns the bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Compare checks if the provided password matches the hash.
// Returns nil if match, error otherwise.
func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
