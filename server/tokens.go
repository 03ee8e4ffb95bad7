package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/signer"
	"github.com/giantswarm/oauth-engine/storage"
)

// ValidateAccessToken verifies a bearer token and returns its record.
//
// The signature and exp are checked first, then the record is looked up by
// jti. Revoked or unknown records, records whose client has been deleted
// and records past their own expiry are all rejected. Nothing is cached:
// every call consults the store.
func (s *Server) ValidateAccessToken(ctx context.Context, bearer string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "oauth.validate_token")
	defer span.End()

	claims, err := s.signer.Verify(bearer)
	if err != nil {
		if errors.Is(err, signer.ErrExpiredToken) {
			return nil, s.rejectToken(ctx, "expired", wrapError(ErrExpiredToken, err, "token expired"))
		}
		return nil, s.rejectToken(ctx, "signature", wrapError(ErrInvalidToken, err, "token is malformed or forged"))
	}

	token, err := s.store.GetAccessTokenByIdentifier(ctx, claims.ID, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.rejectToken(ctx, "revoked_or_unknown", newError(ErrInvalidToken, "token is revoked or unknown"))
		}
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}

	if token.IsExpired(s.now()) {
		return nil, s.rejectToken(ctx, "expired", newError(ErrExpiredToken, "token expired"))
	}
	if token.ClientID != claims.ClientID() {
		return nil, s.rejectToken(ctx, "audience_mismatch", newError(ErrInvalidToken, "token audience mismatch"))
	}

	if _, err := s.store.GetClientByID(ctx, token.ClientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, s.rejectToken(ctx, "client_deleted", newError(ErrInvalidToken, "token client no longer exists"))
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	return token, nil
}

func (s *Server) rejectToken(ctx context.Context, reason string, err *Error) error {
	s.Logger.Debug("Bearer token rejected", "reason", reason)
	s.metrics().RecordTokenValidationFailed(ctx, reason)
	return err
}

// Token type hints (RFC 7009 section 2.1)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// RevocationRequest carries a token revocation request (RFC 7009).
// ClientID is the client's public identifier.
type RevocationRequest struct {
	ClientID      string
	ClientSecret  string
	Token         string
	TokenTypeHint string
	ClientIP      string
}

// RevokeAccessToken revokes the access token a request names, by signed
// bearer, raw identifier or paired refresh token. Revoking a token revokes
// its refresh token too.
//
// Following RFC 7009 section 2.2, unknown tokens and tokens of other clients
// are not an error; only client authentication failures and internal errors
// are reported.
func (s *Server) RevokeAccessToken(ctx context.Context, req *RevocationRequest) error {
	if req == nil || req.Token == "" {
		return newError(ErrInvalidRequest, "token is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		return err
	}

	token, err := s.findRevocable(ctx, req.Token, req.TokenTypeHint)
	if err != nil {
		return err
	}
	if token == nil {
		s.Logger.Debug("Revocation of unknown token ignored",
			"client_id", client.ID,
			"token_prefix", util.LogPrefix(req.Token))
		return nil
	}
	if token.ClientID != client.ID {
		s.Logger.Warn("Client attempted to revoke a token issued to another client",
			"client_id", client.ID,
			"token_client_id", token.ClientID)
		s.Auditor.LogAuthFailure(token.UserID, client.ID, req.ClientIP, "revocation_client_mismatch")
		return nil
	}

	_, err = s.revoke(ctx, token, "request")
	return err
}

// RevokeAccessTokenByID revokes an access token by record ID for
// administrative callers. Returns false when no token matched.
func (s *Server) RevokeAccessTokenByID(ctx context.Context, id string) (bool, error) {
	token, err := s.store.GetAccessTokenByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load access token: %w", err)
	}
	return s.revoke(ctx, token, "admin")
}

func (s *Server) revoke(ctx context.Context, token *storage.AccessToken, reason string) (bool, error) {
	revoked, err := s.store.RevokeAccessTokenByID(ctx, token.ID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke access token: %w", err)
	}
	if revoked && !token.IsRevoked {
		s.Logger.Info("Revoked access token",
			"client_id", token.ClientID,
			"token_prefix", util.LogPrefix(token.Identifier),
			"reason", reason)
		s.Auditor.LogTokenRevoked(token.UserID, token.ClientID, reason)
		s.metrics().RecordTokenRevocation(ctx, reason, 1)
	}
	return revoked, nil
}

// findRevocable resolves the access token behind a presented token. The
// hint only decides which lookup runs first. Returns nil for unknown tokens.
func (s *Server) findRevocable(ctx context.Context, presented, hint string) (*storage.AccessToken, error) {
	lookups := []func(context.Context, string) (*storage.AccessToken, error){
		s.accessTokenFromBearer,
		s.accessTokenFromIdentifier,
		s.accessTokenFromRefreshToken,
	}
	if hint == TokenTypeHintRefreshToken {
		lookups[0], lookups[2] = lookups[2], lookups[0]
	}

	for _, lookup := range lookups {
		token, err := lookup(ctx, presented)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Server) accessTokenFromBearer(ctx context.Context, bearer string) (*storage.AccessToken, error) {
	claims, err := s.signer.Verify(bearer)
	if err != nil {
		// Expired tokens need no revocation; forged ones cannot be trusted.
		return nil, storage.ErrAccessTokenNotFound
	}
	return s.accessTokenFromIdentifier(ctx, claims.ID)
}

func (s *Server) accessTokenFromIdentifier(ctx context.Context, identifier string) (*storage.AccessToken, error) {
	return s.store.GetAccessTokenByIdentifier(ctx, identifier, true)
}

func (s *Server) accessTokenFromRefreshToken(ctx context.Context, identifier string) (*storage.AccessToken, error) {
	rt, err := s.store.GetRefreshTokenByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.store.GetAccessTokenByID(ctx, rt.AccessTokenID)
}
