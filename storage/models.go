package storage

import (
	"strings"
	"time"

	"github.com/giantswarm/oauth-engine/scope"
)

// Client represents a registered OAuth client
type Client struct {
	ID                string
	Name              string
	PublicIdentifier  string
	SecretHash        string // bcrypt hash; empty for public clients
	RedirectURI       string
	RedirectURILocked bool
	Scopes            scope.Set // allowed scopes; empty allows every supported scope
	GrantTypes        []string  // allowed grants; empty allows every enabled grant
	CreatedAt         time.Time
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == ""
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// Validate checks the fields every engine requires before persisting.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.PublicIdentifier) == "" {
		return &ValidationError{Field: "public_identifier", Message: "must not be empty"}
	}
	return nil
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	cp := *c
	cp.Scopes = append(scope.Set(nil), c.Scopes...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	return &cp
}

// AuthCodeParams carries the caller-supplied fields of a new authorization code.
type AuthCodeParams struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              scope.Set
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthCode represents an issued authorization code
type AuthCode struct {
	ID                  string
	ClientID            string
	UserID              string
	Identifier          string
	RedirectURI         string
	Scopes              scope.Set
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiryDate          time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code has expired at the given instant.
func (a *AuthCode) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiryDate)
}

// AccessTokenParams carries the caller-supplied fields of a new access token.
type AccessTokenParams struct {
	ClientID string
	UserID   string // empty for client-credentials tokens
	Scopes   scope.Set
}

// AccessToken represents an issued access token
type AccessToken struct {
	ID         string
	ClientID   string
	UserID     string
	Identifier string
	Scopes     scope.Set
	ExpiryDate time.Time
	IsRevoked  bool
	RevokedAt  time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the token has expired at the given instant.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiryDate)
}

// Clone returns a deep copy of the token.
func (t *AccessToken) Clone() *AccessToken {
	cp := *t
	cp.Scopes = append(scope.Set(nil), t.Scopes...)
	return &cp
}

// RefreshToken represents an issued refresh token
type RefreshToken struct {
	ID            string
	AccessTokenID string
	Identifier    string
	ExpiryDate    time.Time
	CreatedAt     time.Time
}

// IsExpired reports whether the refresh token has expired at the given instant.
func (r *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiryDate)
}

// MaxIdentifierAttempts bounds how often an engine retries identifier
// generation when a freshly generated identifier is already taken.
const MaxIdentifierAttempts = 3
