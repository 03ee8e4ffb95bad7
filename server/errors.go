package server

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes (RFC 6749 section 5.2, RFC 6750 section 3.1).
// Note: the root package maps these onto HTTP responses; keep the two in sync.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
)

// Error is a rejection the caller caused. Store and signing failures are
// never reported as *Error.
//
// Errors match by code, so errors.Is(err, ErrInvalidGrant) holds for every
// invalid_grant rejection whatever its description. An expired token is a
// kind of invalid token: it matches both ErrExpiredToken and ErrInvalidToken.
type Error struct {
	Code        string
	Description string

	expired bool
	cause   error
}

var (
	// ErrInvalidRequest is returned when a required parameter is missing or malformed
	ErrInvalidRequest = &Error{Code: ErrorCodeInvalidRequest}

	// ErrInvalidClient is returned for an unknown client or a wrong secret
	ErrInvalidClient = &Error{Code: ErrorCodeInvalidClient}

	// ErrInvalidGrant is returned for an unknown, consumed or expired code or
	// refresh token, a redirect URI mismatch, a failed PKCE check and bad
	// resource owner credentials
	ErrInvalidGrant = &Error{Code: ErrorCodeInvalidGrant}

	// ErrUnauthorizedClient is returned when the client may not use the grant
	ErrUnauthorizedClient = &Error{Code: ErrorCodeUnauthorizedClient}

	// ErrUnsupportedGrantType is returned for grants the deployment has not enabled
	ErrUnsupportedGrantType = &Error{Code: ErrorCodeUnsupportedGrantType}

	// ErrInvalidScope is returned when requested scopes are unknown, exceed
	// the client's allowance or would widen a refreshed token
	ErrInvalidScope = &Error{Code: ErrorCodeInvalidScope}

	// ErrInvalidToken is returned when a bearer token is forged, malformed,
	// revoked, unknown or belongs to a deleted client
	ErrInvalidToken = &Error{Code: ErrorCodeInvalidToken}

	// ErrExpiredToken is returned when an authentic bearer token has expired
	ErrExpiredToken = &Error{Code: ErrorCodeInvalidToken, Description: "token expired", expired: true}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Is matches errors with the same code. ErrExpiredToken only matches
// expired-token errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (!t.expired || e.expired)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsExpired reports whether the error is an expired-token rejection.
func (e *Error) IsExpired() bool {
	return e.expired
}

// newError returns a copy of base with a description.
func newError(base *Error, format string, args ...any) *Error {
	return &Error{
		Code:        base.Code,
		Description: fmt.Sprintf(format, args...),
		expired:     base.expired,
	}
}

// wrapError returns a copy of base with a description and an underlying cause.
func wrapError(base *Error, cause error, description string) *Error {
	e := newError(base, "%s", description)
	e.cause = cause
	return e
}

// AsError returns the *Error in err's chain, or nil when err is not a
// rejection (a store failure, for example).
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
