package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrInvalidPIN       = errors.New("PIN must be exactly 4 digits")
	ErrBadCredentials   = errors.New("invalid email or password")
)

// HashPassword bcrypt-hashes a password after basic policy checks.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against its bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPIN bcrypt-hashes a kid profile PIN. PINs are exactly 4 digits.
func HashPIN(pin string) (string, error) {
	if len(pin) != 4 {
		return "", ErrInvalidPIN
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return "", ErrInvalidPIN
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}
	return string(hash), nil
}

// VerifyPIN checks a PIN against its bcrypt hash.
func VerifyPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
