package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// luaIssueAccessToken reserves an identifier forever and stores the token.
//
// KEYS[1] = retired identifier key
// KEYS[2] = access token hash
// KEYS[3] = identifier lookup
// KEYS[4] = client access token set
// ARGV[1] = current time in unix milliseconds
// ARGV[2..7] = id, identifier, client_id, user_id, scopes, expires_at
//
// Returns "OK" or "COLLISION" when the identifier was ever used before.
const luaIssueAccessToken = `
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
    return 'COLLISION'
end
redis.call('HSET', KEYS[2],
    'id', ARGV[2],
    'identifier', ARGV[3],
    'client_id', ARGV[4],
    'user_id', ARGV[5],
    'scopes', ARGV[6],
    'expires_at', ARGV[7],
    'is_revoked', '0',
    'created_at', ARGV[1])
redis.call('SET', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[4], ARGV[2])
return 'OK'
`

// luaRevokeAccessToken marks a token revoked, keeping the first revocation
// time, and deletes its refresh token.
//
// KEYS[1] = access token hash
// KEYS[2] = refresh index of the access token
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = refresh token key prefix
//
// Returns "OK" or "NOT_FOUND".
const luaRevokeAccessToken = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end
redis.call('HSET', KEYS[1], 'is_revoked', '1')
redis.call('HSETNX', KEYS[1], 'revoked_at', ARGV[1])

local rt = redis.call('GET', KEYS[2])
if rt then
    redis.call('DEL', ARGV[2] .. rt)
end
redis.call('DEL', KEYS[2])
return 'OK'
`

// luaDeleteAccessToken hard-deletes a token, its lookups and its refresh
// token. The retired identifier key stays.
//
// KEYS[1] = access token hash
// KEYS[2] = refresh index of the access token
// ARGV[1] = key prefix
// ARGV[2] = access token ID
//
// Returns 1 when a token was deleted, 0 otherwise.
const luaDeleteAccessToken = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
local fields = redis.call('HMGET', KEYS[1], 'identifier', 'client_id')

local rt = redis.call('GET', KEYS[2])
if rt then
    redis.call('DEL', ARGV[1] .. 'rt:' .. rt)
end
redis.call('DEL', KEYS[2], KEYS[1], ARGV[1] .. 'at:ident:' .. fields[1])
redis.call('SREM', ARGV[1] .. 'client:tokens:' .. fields[2], ARGV[2])
return 1
`

// luaIssueRefreshToken replaces the refresh token of a live access token.
//
// KEYS[1] = access token hash
// KEYS[2] = refresh index of the access token
// KEYS[3] = new refresh token key
// ARGV[1] = refresh token JSON
// ARGV[2] = TTL in milliseconds
// ARGV[3] = new refresh identifier
// ARGV[4] = refresh token key prefix
//
// Returns "OK", "NOT_FOUND", "REVOKED" or "COLLISION".
const luaIssueRefreshToken = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end
if redis.call('HGET', KEYS[1], 'is_revoked') == '1' then
    return 'REVOKED'
end
if redis.call('EXISTS', KEYS[3]) == 1 then
    return 'COLLISION'
end

local previous = redis.call('GET', KEYS[2])
if previous then
    redis.call('DEL', ARGV[4] .. previous)
end
redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
return 'OK'
`

// luaRedeemRefreshToken atomically reads and deletes a refresh token.
//
// Security: This operation MUST be atomic - only ONE concurrent request can
// receive the token. The token is deleted even when it turns out expired.
//
// KEYS[1] = refresh token key
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = refresh index key prefix
// ARGV[3] = identifier
//
// Returns the token JSON, "NOT_FOUND" or "EXPIRED".
const luaRedeemRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
redis.call('DEL', KEYS[1])

local rt = cjson.decode(data)
local index = ARGV[2] .. rt.access_token_id
if redis.call('GET', index) == ARGV[3] then
    redis.call('DEL', index)
end

if tonumber(ARGV[1]) >= tonumber(rt.expires_at) then
    return 'EXPIRED'
end
return data
`

// refreshTokenJSON is the JSON representation of a refresh token
type refreshTokenJSON struct {
	ID            string `json:"id"`
	Identifier    string `json:"identifier"`
	AccessTokenID string `json:"access_token_id"`
	ExpiresAt     int64  `json:"expires_at"`
	CreatedAt     int64  `json:"created_at"`
}

func toRefreshTokenJSON(rt *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		ID:            rt.ID,
		Identifier:    rt.Identifier,
		AccessTokenID: rt.AccessTokenID,
		ExpiresAt:     toMillis(rt.ExpiryDate),
		CreatedAt:     toMillis(rt.CreatedAt),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:            j.ID,
		Identifier:    j.Identifier,
		AccessTokenID: j.AccessTokenID,
		ExpiryDate:    fromMillis(j.ExpiresAt),
		CreatedAt:     fromMillis(j.CreatedAt),
	}
}

// accessTokenFromHash rebuilds an access token from its hash fields
func accessTokenFromHash(fields map[string]string) (*storage.AccessToken, error) {
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	tok := &storage.AccessToken{
		ID:         fields["id"],
		ClientID:   fields["client_id"],
		UserID:     fields["user_id"],
		Identifier: fields["identifier"],
		Scopes:     scope.Parse(fields["scopes"]),
		ExpiryDate: fromMillis(expiresAt),
		IsRevoked:  fields["is_revoked"] == "1",
		CreatedAt:  fromMillis(createdAt),
	}
	if raw, ok := fields["revoked_at"]; ok {
		revokedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid revoked_at: %w", err)
		}
		tok.RevokedAt = fromMillis(revokedAt)
	}
	return tok, nil
}

func (s *Store) getAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.accessTokenKey(id)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrAccessTokenNotFound
	}
	return accessTokenFromHash(fields)
}

// IssueAccessToken creates an access token with a never-before-used identifier
func (s *Store) IssueAccessToken(ctx context.Context, params storage.AccessTokenParams, ttl time.Duration) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "issue_access_token")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	now := s.now()
	tok := &storage.AccessToken{
		ID:         newID(),
		ClientID:   params.ClientID,
		UserID:     params.UserID,
		Scopes:     params.Scopes,
		ExpiryDate: fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:  fromMillis(toMillis(now)),
	}

	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		tok.Identifier = security.GenerateIdentifier()

		result, err := s.eval(ctx, luaIssueAccessToken,
			[]string{
				s.retiredKey(tok.Identifier),
				s.accessTokenKey(tok.ID),
				s.accessTokenIdentKey(tok.Identifier),
				s.clientTokensKey(tok.ClientID),
			},
			millisArg(tok.CreatedAt), tok.ID, tok.Identifier, tok.ClientID, tok.UserID,
			tok.Scopes.String(), millisArg(tok.ExpiryDate))
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to issue access token: %w", err))
		}
		if result == resultCollision {
			continue
		}
		return tok.Clone(), op.End(nil)
	}
	return nil, op.End(storage.ErrIdentifierExhausted)
}

// GetAccessTokenByIdentifier looks up an access token by its identifier
func (s *Store) GetAccessTokenByIdentifier(ctx context.Context, identifier string, includeRevoked bool) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "get_access_token_by_identifier")

	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.accessTokenIdentKey(identifier)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, op.End(storage.ErrAccessTokenNotFound)
		}
		return nil, op.End(fmt.Errorf("failed to get access token lookup: %w", err))
	}

	tok, err := s.getAccessToken(ctx, id)
	if err != nil {
		return nil, op.End(err)
	}
	if tok.IsRevoked && !includeRevoked {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	return tok, op.End(nil)
}

// GetAccessTokenByID looks up an access token by its record ID
func (s *Store) GetAccessTokenByID(ctx context.Context, id string) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "get_access_token_by_id")
	tok, err := s.getAccessToken(ctx, id)
	return tok, op.End(err)
}

// RevokeAccessTokenByID revokes an access token and deletes its refresh token
func (s *Store) RevokeAccessTokenByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "revoke_access_token")

	result, err := s.eval(ctx, luaRevokeAccessToken,
		[]string{s.accessTokenKey(id), s.refreshIndexKey(id)},
		millisArg(s.now()), s.prefix+"rt:")
	if err != nil {
		return false, op.End(fmt.Errorf("failed to revoke access token: %w", err))
	}
	return result == resultOK, op.End(nil)
}

// DeleteAccessTokenByID removes an access token and its refresh token. The
// identifier stays retired.
func (s *Store) DeleteAccessTokenByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "delete_access_token")

	n, err := s.evalInt(ctx, luaDeleteAccessToken,
		[]string{s.accessTokenKey(id), s.refreshIndexKey(id)},
		s.prefix, id)
	if err != nil {
		return false, op.End(fmt.Errorf("failed to delete access token: %w", err))
	}
	return n == 1, op.End(nil)
}

// IssueRefreshToken creates the refresh token for an access token,
// replacing any previous one. Revoked or unknown access tokens are refused.
func (s *Store) IssueRefreshToken(ctx context.Context, accessTokenID string, ttl time.Duration) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "issue_refresh_token")

	now := s.now()
	rt := &storage.RefreshToken{
		ID:            newID(),
		AccessTokenID: accessTokenID,
		ExpiryDate:    fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:     fromMillis(toMillis(now)),
	}

	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		rt.Identifier = security.GenerateIdentifier()

		data, err := json.Marshal(toRefreshTokenJSON(rt))
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to marshal refresh token: %w", err))
		}

		result, err := s.eval(ctx, luaIssueRefreshToken,
			[]string{s.accessTokenKey(accessTokenID), s.refreshIndexKey(accessTokenID), s.refreshTokenKey(rt.Identifier)},
			string(data), ttlMillis(ttl), rt.Identifier, s.prefix+"rt:")
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to issue refresh token: %w", err))
		}

		switch result {
		case resultCollision:
			continue
		case resultNotFound:
			return nil, op.End(storage.ErrAccessTokenNotFound)
		case resultRevoked:
			return nil, op.End(fmt.Errorf("%w: access token is revoked", storage.ErrAccessTokenNotFound))
		}
		return rt, op.End(nil)
	}
	return nil, op.End(storage.ErrIdentifierExhausted)
}

func (s *Store) getRefreshToken(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshTokenKey(identifier)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j), nil
}

// GetRefreshTokenByIdentifier looks up a refresh token by identifier
func (s *Store) GetRefreshTokenByIdentifier(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "get_refresh_token_by_identifier")
	rt, err := s.getRefreshToken(ctx, identifier)
	return rt, op.End(err)
}

// GetRefreshTokenByAccessTokenID returns the refresh token paired with an access token
func (s *Store) GetRefreshTokenByAccessTokenID(ctx context.Context, accessTokenID string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "get_refresh_token_by_access_token")

	identifier, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshIndexKey(accessTokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, op.End(storage.ErrRefreshTokenNotFound)
		}
		return nil, op.End(fmt.Errorf("failed to get refresh token lookup: %w", err))
	}
	rt, err := s.getRefreshToken(ctx, identifier)
	return rt, op.End(err)
}

// RedeemRefreshToken atomically consumes a refresh token.
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
func (s *Store) RedeemRefreshToken(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "redeem_refresh_token")

	result, err := s.eval(ctx, luaRedeemRefreshToken,
		[]string{s.refreshTokenKey(identifier)},
		millisArg(s.now()), s.prefix+"rt:at:", identifier)
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to execute atomic refresh token operation: %w", err))
	}

	switch result {
	case resultNotFound:
		return nil, op.End(fmt.Errorf("%w: refresh token not found or already used", storage.ErrInvalidGrant))
	case resultExpired:
		s.log().Debug("Rejected expired refresh token", "token_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: refresh token expired", storage.ErrInvalidGrant))
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, op.End(fmt.Errorf("failed to parse refresh token: %w", err))
	}
	return fromRefreshTokenJSON(&j), op.End(nil)
}
