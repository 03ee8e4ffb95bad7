package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// dummySecretHash is compared against when the real hash is unavailable so
// that a missing client costs the same bcrypt work as a wrong secret.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ErrSecretMismatch is returned when a presented secret does not match.
var ErrSecretMismatch = errors.New("secret mismatch")

// GenerateIdentifier returns a 256-bit URL-safe random string used for
// authorization codes, access-token identifiers and refresh tokens.
func GenerateIdentifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateSecret returns a new random client secret.
func GenerateSecret() string {
	return oauth2.GenerateVerifier()
}

// HashSecret hashes a client secret or user password with bcrypt.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret checks a presented secret against a bcrypt hash.
//
// SECURITY: an empty hash is replaced by a dummy hash so the comparison
// always runs and the caller cannot tell "unknown" from "wrong" by timing.
// An empty hash never matches.
func CompareSecret(hash, secret string) error {
	target := hash
	if target == "" {
		target = dummySecretHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(target), []byte(secret))
	if hash == "" || err != nil {
		return ErrSecretMismatch
	}
	return nil
}
