package storage

import (
	"context"
	"time"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClientByID retrieves a client by its internal ID
	GetClientByID(ctx context.Context, id string) (*Client, error)

	// GetClientByPublicIdentifier retrieves a client by the identifier it
	// presents at the token endpoint
	GetClientByPublicIdentifier(ctx context.Context, publicIdentifier string) (*Client, error)

	// SaveClient validates and persists a client. A client without an ID is
	// created and receives a fresh ID; otherwise the existing record is replaced.
	SaveClient(ctx context.Context, client *Client) (*Client, error)

	// DeleteClientByID removes a client and revokes everything issued to it
	// through the configured Revoker. Returns false when no client matched.
	DeleteClientByID(ctx context.Context, id string) (bool, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// AuthCodeStore defines the interface for single-use authorization codes.
type AuthCodeStore interface {
	// IssueAuthCode creates a code with a fresh random identifier that
	// expires after ttl.
	IssueAuthCode(ctx context.Context, params AuthCodeParams, ttl time.Duration) (*AuthCode, error)

	// RedeemAuthCode atomically consumes the code with the given identifier.
	// Unknown, already consumed and expired codes all yield ErrInvalidGrant.
	// SECURITY: only ONE concurrent caller may ever receive the code.
	RedeemAuthCode(ctx context.Context, identifier string) (*AuthCode, error)

	// DeleteExpiredAuthCodes removes every expired code and returns how many
	// were removed.
	DeleteExpiredAuthCodes(ctx context.Context) (int, error)
}

// AccessTokenStore defines the interface for issued access tokens.
type AccessTokenStore interface {
	// IssueAccessToken creates a token with a never-before-used identifier.
	IssueAccessToken(ctx context.Context, params AccessTokenParams, ttl time.Duration) (*AccessToken, error)

	// GetAccessTokenByIdentifier looks a token up by the identifier embedded
	// in its signed form. Revoked tokens yield ErrAccessTokenNotFound unless
	// includeRevoked is set. Expiry is not checked here.
	GetAccessTokenByIdentifier(ctx context.Context, identifier string, includeRevoked bool) (*AccessToken, error)

	// GetAccessTokenByID looks a token up by its record ID, revoked or not.
	GetAccessTokenByID(ctx context.Context, id string) (*AccessToken, error)

	// RevokeAccessTokenByID marks the token revoked and deletes its refresh
	// token. Revoking an already revoked token succeeds. Returns false when
	// no token matched.
	RevokeAccessTokenByID(ctx context.Context, id string) (bool, error)

	// DeleteAccessTokenByID hard-deletes a token and its refresh token. The
	// identifier stays retired and is never issued again.
	DeleteAccessTokenByID(ctx context.Context, id string) (bool, error)
}

// RefreshTokenStore defines the interface for refresh tokens.
type RefreshTokenStore interface {
	// IssueRefreshToken creates the refresh token for an access token,
	// replacing any refresh token the access token already had.
	IssueRefreshToken(ctx context.Context, accessTokenID string, ttl time.Duration) (*RefreshToken, error)

	// GetRefreshTokenByIdentifier looks a refresh token up by identifier.
	GetRefreshTokenByIdentifier(ctx context.Context, identifier string) (*RefreshToken, error)

	// GetRefreshTokenByAccessTokenID returns the refresh token paired with an
	// access token.
	GetRefreshTokenByAccessTokenID(ctx context.Context, accessTokenID string) (*RefreshToken, error)

	// RedeemRefreshToken atomically consumes a refresh token. Unknown,
	// consumed and expired tokens all yield ErrInvalidGrant.
	// SECURITY: only ONE concurrent caller may ever receive the token.
	RedeemRefreshToken(ctx context.Context, identifier string) (*RefreshToken, error)
}

// Revoker revokes everything issued to a client. ClientStore implementations
// call it when a client is deleted; engines implement it themselves and use
// that implementation unless another one is configured.
type Revoker interface {
	// RevokeAllForClient deletes the client's authorization codes and revokes
	// its access tokens (with their refresh tokens). Returns the number of
	// records affected.
	RevokeAllForClient(ctx context.Context, clientID string) (int, error)
}

// Store is the full set of persistence capabilities the token engine needs.
type Store interface {
	ClientStore
	AuthCodeStore
	AccessTokenStore
	RefreshTokenStore
	Revoker
}

// ExpiredRefreshTokenDeleter is implemented by engines that keep expired
// refresh tokens until swept. Engines with native expiry do not need it.
type ExpiredRefreshTokenDeleter interface {
	// DeleteExpiredRefreshTokens removes every expired refresh token and
	// returns how many were removed.
	DeleteExpiredRefreshTokens(ctx context.Context) (int, error)
}
