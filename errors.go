package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-engine/server"
)

// OAuth error codes only the HTTP layer produces. Rejections of the grant
// engine carry the server.ErrorCode* values.
const (
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeInsufficientScope = "insufficient_scope"
)

// OAuthError is an error response: the RFC 6749 error body plus its status.
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code

	// Challenge is the WWW-Authenticate value sent with the response, if any
	Challenge string
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ToOAuthError maps an error of the grant engine onto its HTTP response.
// Client authentication failures get 401 with a Basic challenge, token
// validation failures 401 with a Bearer challenge, every other rejection 400.
// Anything that is not a rejection is a server_error; its details stay out
// of the response.
func ToOAuthError(err error) *OAuthError {
	rejection := server.AsError(err)
	if rejection == nil {
		return NewOAuthError(ErrorCodeServerError, "The server encountered an unexpected condition", http.StatusInternalServerError)
	}

	e := NewOAuthError(rejection.Code, rejection.Description, http.StatusBadRequest)
	switch rejection.Code {
	case server.ErrorCodeInvalidClient:
		e.Status = http.StatusUnauthorized
		e.Challenge = `Basic realm="oauth"`
	case server.ErrorCodeInvalidToken:
		e.Status = http.StatusUnauthorized
		e.Challenge = bearerChallenge(rejection.Code, rejection.Description)
	}
	return e
}

// bearerChallenge formats an RFC 6750 section 3 challenge.
func bearerChallenge(code, description string) string {
	challenge := fmt.Sprintf(`Bearer realm="oauth", error=%q`, code)
	if description != "" {
		challenge += fmt.Sprintf(`, error_description=%q`, description)
	}
	return challenge
}

// write sends the error body. Security headers are the caller's job.
func (e *OAuthError) write(w http.ResponseWriter) {
	if e.Challenge != "" {
		w.Header().Set("WWW-Authenticate", e.Challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}
