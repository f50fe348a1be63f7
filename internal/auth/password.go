package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when the password does not match the hash
var ErrPasswordMismatch = errors.New("invalid password")

// passwordCost is the bcrypt cost for newly hashed passwords
var passwordCost = bcrypt.DefaultCost

// VerifyPassword checks password against a stored bcrypt hash. Any failure
// other than ErrPasswordMismatch means the stored hash itself is unusable.
func VerifyPassword(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("failed to verify password: %w", err)
	}
}

// HashPassword creates a bcrypt hash for seeding and resetting accounts
func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password longer than %d bytes", maxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
