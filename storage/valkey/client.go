package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

// luaSaveClient stores a client and its public identifier lookup, refusing
// public identifiers owned by another client.
//
// KEYS[1] = client key
// KEYS[2] = public identifier key
// KEYS[3] = set of all client IDs
// ARGV[1] = client ID
// ARGV[2] = client JSON
// ARGV[3] = "create" or "update"
// ARGV[4] = public identifier key prefix
//
// Returns "OK", "DUPLICATE" or "NOT_FOUND" (update of a missing client).
const luaSaveClient = `
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[1] then
    return 'DUPLICATE'
end

local existing = redis.call('GET', KEYS[1])
if ARGV[3] == 'update' then
    if not existing then
        return 'NOT_FOUND'
    end
    local previous = ARGV[4] .. cjson.decode(existing).public_identifier
    if previous ~= KEYS[2] then
        redis.call('DEL', previous)
    end
elseif existing then
    return 'DUPLICATE'
end

redis.call('SET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return 'OK'
`

// luaDeleteClient removes a client and its lookups.
//
// KEYS[1] = client key
// KEYS[2] = set of all client IDs
// ARGV[1] = public identifier key prefix
// ARGV[2] = client ID
//
// Returns 1 when a client was deleted, 0 otherwise.
const luaDeleteClient = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end
redis.call('DEL', KEYS[1], ARGV[1] .. cjson.decode(data).public_identifier)
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`

// luaRevokeAllForClient deletes a client's codes and revokes its access
// tokens together with their refresh tokens.
//
// KEYS[1] = client code set
// KEYS[2] = client access token set
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = key prefix
//
// Returns the number of codes deleted plus access tokens newly revoked.
const luaRevokeAllForClient = `
local n = 0
for _, ident in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    n = n + redis.call('DEL', ARGV[2] .. 'code:' .. ident)
    redis.call('ZREM', ARGV[2] .. 'codes:expiry', ident)
end
redis.call('DEL', KEYS[1])

for _, id in ipairs(redis.call('SMEMBERS', KEYS[2])) do
    local key = ARGV[2] .. 'at:' .. id
    if redis.call('HGET', key, 'is_revoked') == '0' then
        redis.call('HSET', key, 'is_revoked', '1', 'revoked_at', ARGV[1])
        n = n + 1
    end
    local index = ARGV[2] .. 'rt:at:' .. id
    local rt = redis.call('GET', index)
    if rt then
        redis.call('DEL', ARGV[2] .. 'rt:' .. rt)
    end
    redis.call('DEL', index)
end
return n
`

// clientJSON is the JSON representation of an OAuth client
type clientJSON struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	PublicIdentifier  string   `json:"public_identifier"`
	SecretHash        string   `json:"secret_hash,omitempty"`
	RedirectURI       string   `json:"redirect_uri,omitempty"`
	RedirectURILocked bool     `json:"redirect_uri_locked,omitempty"`
	Scopes            string   `json:"scopes,omitempty"`
	GrantTypes        []string `json:"grant_types,omitempty"`
	CreatedAt         int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:                c.ID,
		Name:              c.Name,
		PublicIdentifier:  c.PublicIdentifier,
		SecretHash:        c.SecretHash,
		RedirectURI:       c.RedirectURI,
		RedirectURILocked: c.RedirectURILocked,
		Scopes:            c.Scopes.String(),
		GrantTypes:        c.GrantTypes,
		CreatedAt:         toMillis(c.CreatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ID:                j.ID,
		Name:              j.Name,
		PublicIdentifier:  j.PublicIdentifier,
		SecretHash:        j.SecretHash,
		RedirectURI:       j.RedirectURI,
		RedirectURILocked: j.RedirectURILocked,
		Scopes:            scope.Parse(j.Scopes),
		GrantTypes:        j.GrantTypes,
		CreatedAt:         fromMillis(j.CreatedAt),
	}
}

func (s *Store) getClient(ctx context.Context, id string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// GetClientByID retrieves a client by its internal ID
func (s *Store) GetClientByID(ctx context.Context, id string) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "get_client_by_id")
	c, err := s.getClient(ctx, id)
	return c, op.End(err)
}

// GetClientByPublicIdentifier retrieves a client by its public identifier
func (s *Store) GetClientByPublicIdentifier(ctx context.Context, publicIdentifier string) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "get_client_by_public_identifier")

	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientPublicKey(publicIdentifier)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, op.End(storage.ErrClientNotFound)
		}
		return nil, op.End(fmt.Errorf("failed to get client lookup: %w", err))
	}
	c, err := s.getClient(ctx, id)
	return c, op.End(err)
}

// SaveClient validates and persists a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "save_client")

	if client == nil {
		return nil, op.End(&storage.ValidationError{Field: "client", Message: "must not be nil"})
	}
	if err := client.Validate(); err != nil {
		return nil, op.End(err)
	}

	saved := client.Clone()
	mode := "update"
	if saved.ID == "" {
		mode = "create"
		saved.ID = newID()
		saved.CreatedAt = s.now()
	} else {
		existing, err := s.getClient(ctx, saved.ID)
		if err != nil {
			return nil, op.End(fmt.Errorf("%w: %s", err, saved.ID))
		}
		saved.CreatedAt = existing.CreatedAt
	}
	saved.CreatedAt = fromMillis(toMillis(saved.CreatedAt))

	data, err := json.Marshal(toClientJSON(saved))
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to marshal client: %w", err))
	}

	result, err := s.eval(ctx, luaSaveClient,
		[]string{s.clientKey(saved.ID), s.clientPublicKey(saved.PublicIdentifier), s.clientsKey()},
		saved.ID, string(data), mode, s.prefix+"client:pub:")
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to save client: %w", err))
	}

	switch result {
	case resultDuplicate:
		return nil, op.End(storage.ErrDuplicatePublicIdentifier)
	case resultNotFound:
		return nil, op.End(fmt.Errorf("%w: %s", storage.ErrClientNotFound, saved.ID))
	}

	s.log().Debug("Saved client", "client_id", saved.ID, "public_identifier", saved.PublicIdentifier)
	return saved.Clone(), op.End(nil)
}

// DeleteClientByID removes a client and revokes everything issued to it
func (s *Store) DeleteClientByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "delete_client")

	n, err := s.evalInt(ctx, luaDeleteClient,
		[]string{s.clientKey(id), s.clientsKey()},
		s.prefix+"client:pub:", id)
	if err != nil {
		return false, op.End(fmt.Errorf("failed to delete client: %w", err))
	}
	if n == 0 {
		return false, op.End(nil)
	}

	count, err := s.currentRevoker().RevokeAllForClient(ctx, id)
	if err != nil {
		return true, op.End(fmt.Errorf("client deleted but revocation failed: %w", err))
	}

	s.log().Info("Deleted client", "client_id", id, "revoked_records", count)
	return true, op.End(nil)
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, op := s.startOp(ctx, "list_clients")

	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.clientsKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to list clients: %w", err))
	}

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.getClient(ctx, id)
		if err != nil {
			// Deleted between SMEMBERS and GET
			continue
		}
		clients = append(clients, c)
	}

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ID < clients[j].ID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, op.End(nil)
}

// RevokeAllForClient deletes the client's codes and revokes its access
// tokens together with their refresh tokens
func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	ctx, op := s.startOp(ctx, "revoke_all_for_client")

	n, err := s.evalInt(ctx, luaRevokeAllForClient,
		[]string{s.clientCodesKey(clientID), s.clientTokensKey(clientID)},
		millisArg(s.now()), s.prefix)
	if err != nil {
		return 0, op.End(fmt.Errorf("failed to revoke client tokens: %w", err))
	}
	return int(n), op.End(nil)
}
