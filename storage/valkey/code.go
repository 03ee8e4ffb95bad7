package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// luaIssueAuthCode stores a code unless its identifier is taken.
//
// KEYS[1] = code key
// KEYS[2] = client code set
// KEYS[3] = code expiry index
// ARGV[1] = code JSON
// ARGV[2] = TTL in milliseconds
// ARGV[3] = identifier
// ARGV[4] = expiry in unix milliseconds
//
// Returns "OK" or "COLLISION".
const luaIssueAuthCode = `
if not redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'NX') then
    return 'COLLISION'
end
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return 'OK'
`

// luaRedeemAuthCode atomically reads and deletes an authorization code.
//
// Security: This operation MUST be atomic - only ONE concurrent request can
// receive the code. The code is deleted even when it turns out expired.
//
// KEYS[1] = code key
// KEYS[2] = code expiry index
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = identifier
// ARGV[3] = key prefix
//
// Returns the code JSON, "NOT_FOUND" or "EXPIRED".
const luaRedeemAuthCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])

local code = cjson.decode(data)
redis.call('SREM', ARGV[3] .. 'client:codes:' .. code.client_id, ARGV[2])

if tonumber(ARGV[1]) >= tonumber(code.expires_at) then
    return 'EXPIRED'
end
return data
`

// luaDeleteExpiredAuthCodes removes codes whose expiry has passed.
//
// KEYS[1] = code expiry index
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = key prefix
//
// Returns the number of codes removed.
const luaDeleteExpiredAuthCodes = `
local n = 0
for _, ident in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])) do
    local key = ARGV[2] .. 'code:' .. ident
    local data = redis.call('GET', key)
    if data then
        redis.call('DEL', key)
        redis.call('SREM', ARGV[2] .. 'client:codes:' .. cjson.decode(data).client_id, ident)
        n = n + 1
    end
    redis.call('ZREM', KEYS[1], ident)
end
return n
`

// authCodeJSON is the JSON representation of an authorization code
type authCodeJSON struct {
	ID                  string `json:"id"`
	Identifier          string `json:"identifier"`
	ClientID            string `json:"client_id"`
	UserID              string `json:"user_id,omitempty"`
	RedirectURI         string `json:"redirect_uri,omitempty"`
	Scopes              string `json:"scopes,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	ExpiresAt           int64  `json:"expires_at"`
	CreatedAt           int64  `json:"created_at"`
}

func toAuthCodeJSON(code *storage.AuthCode) *authCodeJSON {
	return &authCodeJSON{
		ID:                  code.ID,
		Identifier:          code.Identifier,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes.String(),
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		ExpiresAt:           toMillis(code.ExpiryDate),
		CreatedAt:           toMillis(code.CreatedAt),
	}
}

func fromAuthCodeJSON(j *authCodeJSON) *storage.AuthCode {
	return &storage.AuthCode{
		ID:                  j.ID,
		Identifier:          j.Identifier,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              scope.Parse(j.Scopes),
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		ExpiryDate:          fromMillis(j.ExpiresAt),
		CreatedAt:           fromMillis(j.CreatedAt),
	}
}

// IssueAuthCode creates a new authorization code
func (s *Store) IssueAuthCode(ctx context.Context, params storage.AuthCodeParams, ttl time.Duration) (*storage.AuthCode, error) {
	ctx, op := s.startOp(ctx, "issue_auth_code")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	now := s.now()
	code := &storage.AuthCode{
		ID:                  newID(),
		ClientID:            params.ClientID,
		UserID:              params.UserID,
		RedirectURI:         params.RedirectURI,
		Scopes:              params.Scopes,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		ExpiryDate:          fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:           fromMillis(toMillis(now)),
	}

	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		code.Identifier = security.GenerateIdentifier()

		data, err := json.Marshal(toAuthCodeJSON(code))
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to marshal auth code: %w", err))
		}

		result, err := s.eval(ctx, luaIssueAuthCode,
			[]string{s.codeKey(code.Identifier), s.clientCodesKey(code.ClientID), s.codeExpiryKey()},
			string(data), ttlMillis(ttl), code.Identifier, millisArg(code.ExpiryDate))
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to issue auth code: %w", err))
		}
		if result == resultCollision {
			continue
		}
		return code, op.End(nil)
	}
	return nil, op.End(storage.ErrIdentifierExhausted)
}

// RedeemAuthCode atomically consumes an authorization code.
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
func (s *Store) RedeemAuthCode(ctx context.Context, identifier string) (*storage.AuthCode, error) {
	ctx, op := s.startOp(ctx, "redeem_auth_code")

	result, err := s.eval(ctx, luaRedeemAuthCode,
		[]string{s.codeKey(identifier), s.codeExpiryKey()},
		millisArg(s.now()), identifier, s.prefix)
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to execute atomic code redemption: %w", err))
	}

	switch result {
	case resultNotFound:
		return nil, op.End(fmt.Errorf("%w: authorization code not found", storage.ErrInvalidGrant))
	case resultExpired:
		s.log().Debug("Rejected expired authorization code", "code_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: authorization code expired", storage.ErrInvalidGrant))
	}

	var j authCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, op.End(fmt.Errorf("failed to unmarshal auth code: %w", err))
	}
	return fromAuthCodeJSON(&j), op.End(nil)
}

// DeleteExpiredAuthCodes removes expired authorization codes
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context) (int, error) {
	ctx, op := s.startOp(ctx, "delete_expired_auth_codes")

	n, err := s.evalInt(ctx, luaDeleteExpiredAuthCodes,
		[]string{s.codeExpiryKey()},
		millisArg(s.now()), s.prefix)
	if err != nil {
		return 0, op.End(fmt.Errorf("failed to delete expired auth codes: %w", err))
	}
	return int(n), op.End(nil)
}
