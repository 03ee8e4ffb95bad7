package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/giantswarm/oauth-engine/storage"
)

// GetClientByID retrieves a client by its internal ID
func (s *Store) GetClientByID(ctx context.Context, id string) (*storage.Client, error) {
	_, op := s.startOp(ctx, "get_client_by_id")

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, op.End(storage.ErrClientNotFound)
	}
	return client.Clone(), op.End(nil)
}

// GetClientByPublicIdentifier retrieves a client by its public identifier
func (s *Store) GetClientByPublicIdentifier(ctx context.Context, publicIdentifier string) (*storage.Client, error) {
	_, op := s.startOp(ctx, "get_client_by_public_identifier")

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientsByPublicID[publicIdentifier]
	if !ok {
		return nil, op.End(storage.ErrClientNotFound)
	}
	return s.clients[id].Clone(), op.End(nil)
}

// SaveClient validates and persists a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (*storage.Client, error) {
	_, op := s.startOp(ctx, "save_client")

	if client == nil {
		return nil, op.End(&storage.ValidationError{Field: "client", Message: "must not be nil"})
	}
	if err := client.Validate(); err != nil {
		return nil, op.End(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := client.Clone()
	if saved.ID != "" {
		existing, ok := s.clients[saved.ID]
		if !ok {
			return nil, op.End(fmt.Errorf("%w: %s", storage.ErrClientNotFound, saved.ID))
		}
		if owner, taken := s.clientsByPublicID[saved.PublicIdentifier]; taken && owner != saved.ID {
			return nil, op.End(storage.ErrDuplicatePublicIdentifier)
		}
		delete(s.clientsByPublicID, existing.PublicIdentifier)
		saved.CreatedAt = existing.CreatedAt
	} else {
		if _, taken := s.clientsByPublicID[saved.PublicIdentifier]; taken {
			return nil, op.End(storage.ErrDuplicatePublicIdentifier)
		}
		saved.ID = newID()
		saved.CreatedAt = s.now()
	}

	s.clients[saved.ID] = saved
	s.clientsByPublicID[saved.PublicIdentifier] = saved.ID
	s.syncCounters()

	s.logger.Debug("Saved client", "client_id", saved.ID, "public_identifier", saved.PublicIdentifier)
	return saved.Clone(), op.End(nil)
}

// DeleteClientByID removes a client and revokes everything issued to it
func (s *Store) DeleteClientByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "delete_client")

	s.mu.Lock()
	client, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
		delete(s.clientsByPublicID, client.PublicIdentifier)
		s.syncCounters()
	}
	revoker := s.revoker
	s.mu.Unlock()

	if !ok {
		return false, op.End(nil)
	}

	// The client is gone first so nothing new can be issued to it while
	// the cascade runs.
	count, err := revoker.RevokeAllForClient(ctx, id)
	if err != nil {
		return true, op.End(fmt.Errorf("client deleted but revocation failed: %w", err))
	}

	s.logger.Info("Deleted client", "client_id", id, "revoked_records", count)
	return true, op.End(nil)
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	_, op := s.startOp(ctx, "list_clients")

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, op.End(nil)
}

// RevokeAllForClient deletes the client's codes and revokes its access
// tokens together with their refresh tokens
func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	_, op := s.startOp(ctx, "revoke_all_for_client")

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0

	for identifier, code := range s.authCodes {
		if code.ClientID == clientID {
			delete(s.authCodes, identifier)
			count++
		}
	}

	for id, tok := range s.accessTokens {
		if tok.ClientID != clientID || tok.IsRevoked {
			continue
		}
		s.revokeLocked(id, now)
		count++
	}

	s.syncCounters()
	return count, op.End(nil)
}
