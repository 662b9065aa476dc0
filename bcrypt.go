package provision

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// hashCost balances interactive login latency against brute-force cost.
const hashCost = 12

// HashPassword hashes credential material for storage. Empty input is
// rejected so a misconfigured caller cannot persist a hash of "".
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// ComparePasswordAndHash surfaces a credential mismatch as the package's
// invalid-credentials sentinel so callers never branch on bcrypt errors.
func ComparePasswordAndHash(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatchedHashAndPassword
	default:
		return err
	}
}
