package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DangerousSchemes lists URI schemes that must never be allowed for security
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// validateRedirectURI checks that a redirect URI is absolute, carries no
// fragment (RFC 6749 section 3.1.2) and uses https, http on a loopback host,
// or a private-use scheme for native apps.
func validateRedirectURI(redirectURI string) error {
	if redirectURI == "" {
		return errors.New("redirect URI is required")
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("redirect URI is malformed: %w", err)
	}
	if !parsed.IsAbs() {
		return errors.New("redirect URI must be absolute")
	}
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return errors.New("redirect URI must not contain a fragment")
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect URI scheme %q is not allowed", scheme)
		}
	}

	switch scheme {
	case SchemeHTTPS:
		if parsed.Host == "" {
			return errors.New("redirect URI must name a host")
		}
	case SchemeHTTP:
		if !util.IsLoopbackHost(parsed.Hostname()) {
			return errors.New("http redirect URIs are only allowed for loopback hosts")
		}
	default:
		// Private-use schemes (RFC 8252 section 7.1) need a reverse-DNS style name.
		if !strings.Contains(scheme, ".") {
			return fmt.Errorf("custom redirect URI scheme %q must be in reverse domain notation", scheme)
		}
	}
	return nil
}

// resolveRedirectURI picks the redirect URI for an authorize request.
// An empty request URI falls back to the registered one; a locked client
// may only use its registered URI.
func resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if requested == "" {
		if client.RedirectURI == "" {
			return "", newError(ErrInvalidRequest, "redirect_uri is required")
		}
		return client.RedirectURI, nil
	}
	if client.RedirectURILocked && requested != client.RedirectURI {
		return "", newError(ErrInvalidRequest, "redirect_uri does not match the registered redirect URI")
	}
	if err := validateRedirectURI(requested); err != nil {
		return "", newError(ErrInvalidRequest, "%s", err.Error())
	}
	return requested, nil
}

// redirectURIMatches reports whether the redirect_uri presented at exchange
// matches the code. An omitted redirect_uri matches only a code issued to
// the client's registered URI.
func redirectURIMatches(code *storage.AuthCode, client *storage.Client, presented string) bool {
	if presented == "" {
		return code.RedirectURI == client.RedirectURI
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(code.RedirectURI)) == 1
}

// validateCodeChallenge checks the PKCE parameters of an authorize request.
func validateCodeChallenge(challenge, method string, required bool) error {
	if challenge == "" {
		if method != "" {
			return newError(ErrInvalidRequest, "code_challenge_method without code_challenge")
		}
		if required {
			return newError(ErrInvalidRequest, "code_challenge is required")
		}
		return nil
	}
	if method != PKCEMethodS256 {
		return newError(ErrInvalidRequest, "code_challenge_method must be %s", PKCEMethodS256)
	}
	// S256 challenges are the base64url form of a SHA-256 digest
	if decoded, err := base64.RawURLEncoding.DecodeString(challenge); err != nil || len(decoded) != sha256.Size {
		return newError(ErrInvalidRequest, "code_challenge is malformed")
	}
	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func validatePKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d to %d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	if method != PKCEMethodS256 {
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// clientAllowance returns the supported scopes the client may receive.
func (s *Server) clientAllowance(client *storage.Client) scope.Set {
	if client.Scopes.IsEmpty() {
		return s.scopes.Known()
	}
	return client.Scopes.Intersect(s.scopes.Known())
}

// resolveScopes applies the scope policy shared by every grant: requested
// scopes must all be known, known scopes outside the client's allowance are
// dropped, and an empty result is rejected. No requested scope yields the
// client's full allowance.
func (s *Server) resolveScopes(client *storage.Client, requested scope.Set) (scope.Set, error) {
	if err := s.scopes.Validate(requested); err != nil {
		return nil, newError(ErrInvalidScope, "%s", err.Error())
	}

	allowance := s.clientAllowance(client)
	granted := allowance
	if !requested.IsEmpty() {
		granted = requested.Intersect(allowance)
	}
	if granted.IsEmpty() {
		return nil, newError(ErrInvalidScope, "no grantable scope")
	}
	return granted, nil
}

// narrowScopes resolves the scopes of a refreshed token. The request may
// drop scopes of the original token but never add any.
func (s *Server) narrowScopes(client *storage.Client, original, requested scope.Set) (scope.Set, error) {
	if err := s.scopes.Validate(requested); err != nil {
		return nil, newError(ErrInvalidScope, "%s", err.Error())
	}
	if !original.ContainsAll(requested) {
		return nil, newError(ErrInvalidScope, "requested scope exceeds the original grant")
	}

	base := original
	if !requested.IsEmpty() {
		base = requested
	}
	granted := base.Intersect(s.clientAllowance(client))
	if granted.IsEmpty() {
		return nil, newError(ErrInvalidScope, "no grantable scope")
	}
	return granted, nil
}
