package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// IssueAccessToken creates an access token with a never-before-used identifier
func (s *Store) IssueAccessToken(ctx context.Context, params storage.AccessTokenParams, ttl time.Duration) (*storage.AccessToken, error) {
	_, op := s.startOp(ctx, "issue_access_token")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identifier := ""
	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		candidate := security.GenerateIdentifier()
		if _, used := s.retiredIdentifiers[candidate]; !used {
			identifier = candidate
			break
		}
	}
	if identifier == "" {
		return nil, op.End(storage.ErrIdentifierExhausted)
	}
	s.retiredIdentifiers[identifier] = struct{}{}

	now := s.now()
	tok := &storage.AccessToken{
		ID:         newID(),
		ClientID:   params.ClientID,
		UserID:     params.UserID,
		Identifier: identifier,
		Scopes:     append(params.Scopes[:0:0], params.Scopes...),
		ExpiryDate: now.Add(ttl),
		CreatedAt:  now,
	}
	s.accessTokens[tok.ID] = tok
	s.accessTokensByIdentifier[identifier] = tok.ID
	s.syncCounters()

	return tok.Clone(), op.End(nil)
}

// GetAccessTokenByIdentifier looks up an access token by its identifier
func (s *Store) GetAccessTokenByIdentifier(ctx context.Context, identifier string, includeRevoked bool) (*storage.AccessToken, error) {
	_, op := s.startOp(ctx, "get_access_token_by_identifier")

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accessTokensByIdentifier[identifier]
	if !ok {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	tok := s.accessTokens[id]
	if tok.IsRevoked && !includeRevoked {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	return tok.Clone(), op.End(nil)
}

// GetAccessTokenByID looks up an access token by its record ID
func (s *Store) GetAccessTokenByID(ctx context.Context, id string) (*storage.AccessToken, error) {
	_, op := s.startOp(ctx, "get_access_token_by_id")

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.accessTokens[id]
	if !ok {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	return tok.Clone(), op.End(nil)
}

// RevokeAccessTokenByID revokes an access token and deletes its refresh token
func (s *Store) RevokeAccessTokenByID(ctx context.Context, id string) (bool, error) {
	_, op := s.startOp(ctx, "revoke_access_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[id]; !ok {
		return false, op.End(nil)
	}
	s.revokeLocked(id, s.now())
	s.syncCounters()
	return true, op.End(nil)
}

// revokeLocked marks the token revoked (keeping the first revocation time)
// and drops its refresh token. Caller holds s.mu.
func (s *Store) revokeLocked(id string, now time.Time) {
	tok := s.accessTokens[id]
	if !tok.IsRevoked {
		tok.IsRevoked = true
		tok.RevokedAt = now
	}
	s.deleteRefreshForAccessTokenLocked(id)
}

func (s *Store) deleteRefreshForAccessTokenLocked(accessTokenID string) {
	if identifier, ok := s.refreshByAccessToken[accessTokenID]; ok {
		delete(s.refreshTokens, identifier)
		delete(s.refreshByAccessToken, accessTokenID)
	}
}

// DeleteAccessTokenByID removes an access token and its refresh token. The
// identifier stays retired.
func (s *Store) DeleteAccessTokenByID(ctx context.Context, id string) (bool, error) {
	_, op := s.startOp(ctx, "delete_access_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.accessTokens[id]
	if !ok {
		return false, op.End(nil)
	}
	s.deleteRefreshForAccessTokenLocked(id)
	delete(s.accessTokensByIdentifier, tok.Identifier)
	delete(s.accessTokens, id)
	s.syncCounters()
	return true, op.End(nil)
}

// IssueRefreshToken creates the refresh token for an access token,
// replacing any previous one
func (s *Store) IssueRefreshToken(ctx context.Context, accessTokenID string, ttl time.Duration) (*storage.RefreshToken, error) {
	_, op := s.startOp(ctx, "issue_refresh_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.accessTokens[accessTokenID]
	if !ok {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	if tok.IsRevoked {
		return nil, op.End(fmt.Errorf("%w: access token is revoked", storage.ErrAccessTokenNotFound))
	}

	identifier := ""
	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		candidate := security.GenerateIdentifier()
		if _, taken := s.refreshTokens[candidate]; !taken {
			identifier = candidate
			break
		}
	}
	if identifier == "" {
		return nil, op.End(storage.ErrIdentifierExhausted)
	}

	s.deleteRefreshForAccessTokenLocked(accessTokenID)

	now := s.now()
	rt := &storage.RefreshToken{
		ID:            newID(),
		AccessTokenID: accessTokenID,
		Identifier:    identifier,
		ExpiryDate:    now.Add(ttl),
		CreatedAt:     now,
	}
	s.refreshTokens[identifier] = rt
	s.refreshByAccessToken[accessTokenID] = identifier
	s.syncCounters()

	cp := *rt
	return &cp, op.End(nil)
}

// GetRefreshTokenByIdentifier looks up a refresh token by identifier
func (s *Store) GetRefreshTokenByIdentifier(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	_, op := s.startOp(ctx, "get_refresh_token_by_identifier")

	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[identifier]
	if !ok {
		return nil, op.End(storage.ErrRefreshTokenNotFound)
	}
	cp := *rt
	return &cp, op.End(nil)
}

// GetRefreshTokenByAccessTokenID returns the refresh token paired with an access token
func (s *Store) GetRefreshTokenByAccessTokenID(ctx context.Context, accessTokenID string) (*storage.RefreshToken, error) {
	_, op := s.startOp(ctx, "get_refresh_token_by_access_token")

	s.mu.RLock()
	defer s.mu.RUnlock()

	identifier, ok := s.refreshByAccessToken[accessTokenID]
	if !ok {
		return nil, op.End(storage.ErrRefreshTokenNotFound)
	}
	cp := *s.refreshTokens[identifier]
	return &cp, op.End(nil)
}

// RedeemRefreshToken atomically consumes a refresh token
func (s *Store) RedeemRefreshToken(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	_, op := s.startOp(ctx, "redeem_refresh_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[identifier]
	if !ok {
		return nil, op.End(fmt.Errorf("%w: refresh token not found", storage.ErrInvalidGrant))
	}

	delete(s.refreshTokens, identifier)
	if s.refreshByAccessToken[rt.AccessTokenID] == identifier {
		delete(s.refreshByAccessToken, rt.AccessTokenID)
	}
	s.syncCounters()

	if rt.IsExpired(s.now()) {
		s.logger.Debug("Rejected expired refresh token", "token_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: refresh token expired", storage.ErrInvalidGrant))
	}

	return rt, op.End(nil)
}

// DeleteExpiredRefreshTokens removes expired refresh tokens
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) (int, error) {
	_, op := s.startOp(ctx, "delete_expired_refresh_tokens")

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.deleteExpiredRefreshTokensLocked(s.now())
	s.syncCounters()
	return n, op.End(nil)
}

func (s *Store) deleteExpiredRefreshTokensLocked(now time.Time) int {
	removed := 0
	for identifier, rt := range s.refreshTokens {
		if rt.IsExpired(now) {
			delete(s.refreshTokens, identifier)
			if s.refreshByAccessToken[rt.AccessTokenID] == identifier {
				delete(s.refreshByAccessToken, rt.AccessTokenID)
			}
			removed++
		}
	}
	return removed
}
