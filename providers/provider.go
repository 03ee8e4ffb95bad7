// Package providers defines the identity collaborator used by the password grant.
package providers

import (
	"context"
	"errors"
)

// ErrAuthenticationFailed is returned when a username and password do not
// identify a user. Unknown users and wrong passwords are not distinguished.
var ErrAuthenticationFailed = errors.New("authentication failed")

// PasswordVerifier authenticates resource owners for the password grant.
type PasswordVerifier interface {
	// VerifyUserCredentials checks the credentials and returns the stable
	// user ID bound into issued tokens. Implementations must compare in
	// constant time and return ErrAuthenticationFailed (possibly wrapped)
	// for bad credentials.
	VerifyUserCredentials(ctx context.Context, username, password string) (string, error)
}

// PasswordVerifierFunc adapts a function to the PasswordVerifier interface.
type PasswordVerifierFunc func(ctx context.Context, username, password string) (string, error)

// VerifyUserCredentials calls f.
func (f PasswordVerifierFunc) VerifyUserCredentials(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}
