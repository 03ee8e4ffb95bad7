package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a grant issues a new access token
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated into a new pair
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when an access token is revoked
	EventTokenRevoked = "token_revoked"

	// EventClientTokensRevoked is logged when everything issued to a client is revoked
	EventClientTokensRevoked = "client_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// Authorization code events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeRejected is logged when a code could not be redeemed
	// (unknown, consumed, expired or presented with the wrong redirect URI)
	EventAuthorizationCodeRejected = "authorization_code_rejected"

	// EventRefreshTokenRejected is logged when a refresh token could not be redeemed
	EventRefreshTokenRejected = "refresh_token_rejected" //nolint:gosec // G101: event type name, not a credential

	// Client lifecycle events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientDeleted is logged when a client is deleted
	EventClientDeleted = "client_deleted"

	// Failure events

	// EventAuthFailure is logged when client or user authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a caller exceeds the rate limit
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventImplicitGrantUsed is logged every time the legacy implicit grant issues a token
	EventImplicitGrantUsed = "implicit_grant_used"
)
