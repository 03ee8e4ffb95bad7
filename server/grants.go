package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

// TokenTypeBearer is the token_type of every issued access token
const TokenTypeBearer = "Bearer"

// TokenRequest carries the parameters of a token endpoint request.
// ClientID is the client's public identifier.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	// ClientIP is recorded in audit events only
	ClientIP string
}

// Token runs the grant named in req and returns the issued tokens. The
// response carries "scope" and "expires_in" as extra fields.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*oauth2.Token, error) {
	if req == nil || req.GrantType == "" {
		return nil, newError(ErrInvalidRequest, "grant_type is required")
	}

	ctx, span := s.startSpan(ctx, "oauth.token")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, req.GrantType, util.LogPrefix(req.ClientID), "", req.Scope)

	token, err := s.dispatch(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		if oerr := AsError(err); oerr != nil {
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oerr.Code))
		}
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return token, nil
}

func (s *Server) dispatch(ctx context.Context, req *TokenRequest) (*oauth2.Token, error) {
	if req.GrantType == GrantTypeImplicit || !isKnownGrant(req.GrantType) {
		// implicit tokens come from the authorize step, never the token endpoint
		return nil, newError(ErrUnsupportedGrantType, "grant type %q is not supported", req.GrantType)
	}
	if !s.Config.isGrantEnabled(req.GrantType) {
		return nil, newError(ErrUnsupportedGrantType, "grant type %q is not enabled", req.GrantType)
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(req.GrantType) {
		s.Auditor.LogAuthFailure("", client.ID, req.ClientIP, "grant_not_allowed_for_client")
		return nil, newError(ErrUnauthorizedClient, "client may not use the %s grant", req.GrantType)
	}

	switch req.GrantType {
	case GrantTypeClientCredentials:
		return s.clientCredentialsGrant(ctx, client, req)
	case GrantTypePassword:
		return s.passwordGrant(ctx, client, req)
	case GrantTypeAuthorizationCode:
		return s.authorizationCodeGrant(ctx, client, req)
	default:
		return s.refreshTokenGrant(ctx, client, req)
	}
}

// clientCredentialsGrant issues an access token without user and without
// refresh token (RFC 6749 section 4.4). Only confidential clients qualify.
func (s *Server) clientCredentialsGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*oauth2.Token, error) {
	if client.IsPublic() {
		return nil, newError(ErrUnauthorizedClient, "public clients cannot use the %s grant", GrantTypeClientCredentials)
	}

	scopes, err := s.resolveScopes(client, scope.Parse(req.Scope))
	if err != nil {
		return nil, err
	}

	token, _, err := s.issueTokens(ctx, client, "", scopes, false, GrantTypeClientCredentials)
	return token, err
}

// passwordGrant authenticates the resource owner through the configured
// PasswordVerifier (RFC 6749 section 4.3).
func (s *Server) passwordGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*oauth2.Token, error) {
	if req.Username == "" || req.Password == "" {
		return nil, newError(ErrInvalidRequest, "username and password are required")
	}

	scopes, err := s.resolveScopes(client, scope.Parse(req.Scope))
	if err != nil {
		return nil, err
	}

	userID, err := s.verifier.VerifyUserCredentials(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, providers.ErrAuthenticationFailed) {
			s.Auditor.LogAuthFailure("", client.ID, req.ClientIP, "invalid_user_credentials")
			return nil, newError(ErrInvalidGrant, "invalid resource owner credentials")
		}
		return nil, fmt.Errorf("failed to verify user credentials: %w", err)
	}
	if userID == "" {
		return nil, fmt.Errorf("password verifier returned an empty user ID")
	}

	token, _, err := s.issueTokens(ctx, client, userID, scopes, true, GrantTypePassword)
	return token, err
}

// authorizationCodeGrant exchanges a code (RFC 6749 section 4.1.3).
//
// The code is redeemed before any other check. A request that fails a later
// check has still consumed the code, so it can never be replayed with
// corrected parameters.
func (s *Server) authorizationCodeGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*oauth2.Token, error) {
	if req.Code == "" {
		return nil, newError(ErrInvalidRequest, "code is required")
	}

	code, err := s.store.RedeemAuthCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidGrant) {
			s.rejectCode(ctx, client, req.Code, "unknown_consumed_or_expired")
			return nil, newError(ErrInvalidGrant, "invalid authorization code")
		}
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	// Code is now consumed - no other request can use it

	if code.ClientID != client.ID {
		s.rejectCode(ctx, client, req.Code, "client_id_mismatch")
		return nil, newError(ErrInvalidGrant, "invalid authorization code")
	}

	if !redirectURIMatches(code, client, req.RedirectURI) {
		s.rejectCode(ctx, client, req.Code, "redirect_uri_mismatch")
		return nil, newError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if err := validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
			s.rejectCode(ctx, client, req.Code, "pkce_validation_failed")
			return nil, newError(ErrInvalidGrant, "%s", err.Error())
		}
	} else if req.CodeVerifier != "" {
		s.rejectCode(ctx, client, req.Code, "unexpected_code_verifier")
		return nil, newError(ErrInvalidGrant, "code_verifier presented for a code without code_challenge")
	}

	token, _, err := s.issueTokens(ctx, client, code.UserID, code.Scopes, true, GrantTypeAuthorizationCode)
	return token, err
}

func (s *Server) rejectCode(ctx context.Context, client *storage.Client, code, reason string) {
	s.Logger.Debug("Authorization code rejected",
		"reason", reason,
		"client_id", client.ID,
		"code_prefix", util.LogPrefix(code))
	s.Auditor.LogCodeRejected(client.ID, reason)
	s.metrics().RecordRedemptionRejected(ctx, "auth_code")
}

// refreshTokenGrant rotates a refresh token (RFC 6749 section 6).
//
// Ownership and scope are checked before redemption so a request the
// server would reject anyway cannot burn another client's refresh token.
// Redemption remains the single synchronization point: of several
// concurrent rotations exactly one succeeds.
func (s *Server) refreshTokenGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*oauth2.Token, error) {
	if req.RefreshToken == "" {
		return nil, newError(ErrInvalidRequest, "refresh_token is required")
	}

	current, err := s.store.GetRefreshTokenByIdentifier(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.rejectRefresh(ctx, client, req.RefreshToken, "unknown_or_consumed")
			return nil, newError(ErrInvalidGrant, "invalid refresh token")
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	old, err := s.store.GetAccessTokenByID(ctx, current.AccessTokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.rejectRefresh(ctx, client, req.RefreshToken, "access_token_missing")
			return nil, newError(ErrInvalidGrant, "invalid refresh token")
		}
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	if old.ClientID != client.ID {
		s.rejectRefresh(ctx, client, req.RefreshToken, "client_id_mismatch")
		return nil, newError(ErrInvalidGrant, "invalid refresh token")
	}
	if old.IsRevoked {
		s.rejectRefresh(ctx, client, req.RefreshToken, "access_token_revoked")
		return nil, newError(ErrInvalidGrant, "invalid refresh token")
	}

	requested := scope.Parse(req.Scope)
	scopes, err := s.narrowScopes(client, old.Scopes, requested)
	if err != nil {
		return nil, err
	}

	redeemed, err := s.store.RedeemRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidGrant) {
			s.rejectRefresh(ctx, client, req.RefreshToken, "consumed_or_expired")
			return nil, newError(ErrInvalidGrant, "invalid refresh token")
		}
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}
	if redeemed.AccessTokenID != old.ID {
		// Reissued for another token between lookup and redemption
		s.rejectRefresh(ctx, client, req.RefreshToken, "access_token_changed")
		return nil, newError(ErrInvalidGrant, "invalid refresh token")
	}

	// Revoking is idempotent, so a retried rotation finds the old token
	// revoked and moves on.
	if _, err := s.store.RevokeAccessTokenByID(ctx, old.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke rotated access token: %w", err)
	}
	s.metrics().RecordTokenRevocation(ctx, "rotation", 1)

	token, _, err := s.issueTokens(ctx, client, old.UserID, scopes, true, GrantTypeRefreshToken)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenRefreshed(old.UserID, client.ID, !requested.IsEmpty() && !scopes.Equal(old.Scopes))
	return token, nil
}

func (s *Server) rejectRefresh(ctx context.Context, client *storage.Client, refreshToken, reason string) {
	s.Logger.Debug("Refresh token rejected",
		"reason", reason,
		"client_id", client.ID,
		"token_prefix", util.LogPrefix(refreshToken))
	s.Auditor.LogRefreshRejected(client.ID, reason)
	s.metrics().RecordRedemptionRejected(ctx, "refresh_token")
}

// issueTokens creates and signs an access token and, when withRefresh is
// set, its refresh token.
func (s *Server) issueTokens(
	ctx context.Context,
	client *storage.Client,
	userID string,
	scopes scope.Set,
	withRefresh bool,
	grantType string,
) (*oauth2.Token, *storage.AccessToken, error) {
	accessToken, err := s.store.IssueAccessToken(ctx, storage.AccessTokenParams{
		ClientID: client.ID,
		UserID:   userID,
		Scopes:   scopes,
	}, s.Config.AccessTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	signed, err := s.signer.Sign(accessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	token := &oauth2.Token{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		Expiry:      accessToken.ExpiryDate,
	}

	if withRefresh {
		refreshToken, err := s.store.IssueRefreshToken(ctx, accessToken.ID, s.Config.RefreshTokenTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		token.RefreshToken = refreshToken.Identifier
	}

	token = token.WithExtra(map[string]any{
		"scope":      accessToken.Scopes.String(),
		"expires_in": expiresIn(accessToken.ExpiryDate, s.now()),
	})

	s.Logger.Debug("Issued access token",
		"grant_type", grantType,
		"client_id", client.ID,
		"token_prefix", util.LogPrefix(accessToken.Identifier),
		"refresh", withRefresh)
	s.Auditor.LogTokenIssued(userID, client.ID, grantType, accessToken.Scopes.String())
	s.metrics().RecordTokenIssued(ctx, grantType)

	return token, accessToken, nil
}

// expiresIn returns whole seconds until expiry, rounded up.
func expiresIn(expiry, now time.Time) int64 {
	seconds := math.Ceil(expiry.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return int64(seconds)
}
