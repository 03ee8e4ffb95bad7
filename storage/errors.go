package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrClientNotFound is returned when a client does not exist.
	ErrClientNotFound = fmt.Errorf("client %w", ErrNotFound)

	// ErrAccessTokenNotFound is returned when an access token does not exist,
	// or is revoked and the caller did not ask for revoked tokens.
	ErrAccessTokenNotFound = fmt.Errorf("access token %w", ErrNotFound)

	// ErrRefreshTokenNotFound is returned when a refresh token does not exist.
	ErrRefreshTokenNotFound = fmt.Errorf("refresh token %w", ErrNotFound)

	// ErrInvalidGrant is returned by redemption when the code or refresh token
	// is unknown, already consumed, or expired. The three cases are not
	// distinguished to callers.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrDuplicatePublicIdentifier is returned when saving a client whose
	// public identifier is already taken by another client.
	ErrDuplicatePublicIdentifier = errors.New("public identifier already registered")

	// ErrIdentifierExhausted is returned when a fresh identifier could not be
	// reserved after several attempts. With 256-bit identifiers this points at
	// a broken random source.
	ErrIdentifierExhausted = errors.New("could not reserve a unique identifier")
)

// ValidationError reports a record that failed validation before persisting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
