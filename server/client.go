package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Client type constants
const (
	// ClientTypeConfidential represents a client holding a secret
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a client without a secret
	ClientTypePublic = "public"
)

// ClientRegistration describes a client to register.
type ClientRegistration struct {
	Name              string
	RedirectURI       string
	RedirectURILocked bool

	// Public registers a client without a secret. Public clients cannot use
	// the client_credentials grant and must use PKCE.
	Public bool

	// Scopes restricts the client to these scopes; empty allows every
	// supported scope
	Scopes []string

	// GrantTypes restricts the client to these grants; empty allows every
	// enabled grant
	GrantTypes []string
}

// RegisterClient registers a new client and returns it together with the
// plaintext secret. The secret is only ever available here; the store keeps
// its bcrypt hash. Public clients get an empty secret.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration) (*storage.Client, string, error) {
	if reg == nil || strings.TrimSpace(reg.Name) == "" {
		return nil, "", newError(ErrInvalidRequest, "client name is required")
	}
	if reg.RedirectURI != "" {
		if err := validateRedirectURI(reg.RedirectURI); err != nil {
			return nil, "", newError(ErrInvalidRequest, "%s", err.Error())
		}
	} else if reg.RedirectURILocked {
		return nil, "", newError(ErrInvalidRequest, "a locked client needs a redirect URI")
	}

	scopes := scope.FromStrings(reg.Scopes)
	if err := s.scopes.Validate(scopes); err != nil {
		return nil, "", newError(ErrInvalidScope, "%s", err.Error())
	}

	for _, g := range reg.GrantTypes {
		if !isKnownGrant(g) {
			return nil, "", newError(ErrInvalidRequest, "unknown grant type %q", g)
		}
		if reg.Public && g == GrantTypeClientCredentials {
			return nil, "", newError(ErrInvalidRequest, "public clients cannot use the %s grant", GrantTypeClientCredentials)
		}
	}

	client := &storage.Client{
		Name:              strings.TrimSpace(reg.Name),
		PublicIdentifier:  security.GenerateIdentifier(),
		RedirectURI:       reg.RedirectURI,
		RedirectURILocked: reg.RedirectURILocked,
		Scopes:            scopes,
		GrantTypes:        append([]string(nil), reg.GrantTypes...),
	}

	var secret string
	clientType := ClientTypePublic
	if !reg.Public {
		clientType = ClientTypeConfidential
		secret = security.GenerateSecret()
		hash, err := security.HashSecret(secret)
		if err != nil {
			return nil, "", err
		}
		client.SecretHash = hash
	}

	saved, err := s.store.SaveClient(ctx, client)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", saved.ID,
		"public_identifier", util.LogPrefix(saved.PublicIdentifier),
		"client_name", saved.Name,
		"client_type", clientType)
	s.Auditor.LogClientRegistered(saved.ID, clientType)
	s.metrics().RecordClientRegistration(ctx, clientType)

	return saved, secret, nil
}

// DeleteClient deletes a client by ID. The store revokes every code and
// token issued to the client before returning. Returns false when no client
// matched.
func (s *Server) DeleteClient(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.DeleteClientByID(ctx, id)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete client: %w", err)
	}
	if !deleted {
		return false, nil
	}

	s.Logger.Info("Deleted OAuth client", "client_id", id)
	s.Auditor.LogClientDeleted(id)
	s.metrics().RecordClientDeletion(ctx)
	return true, nil
}

// GetClient resolves a client by internal ID or public identifier.
func (s *Server) GetClient(ctx context.Context, idOrPublicIdentifier string) (*storage.Client, error) {
	client, err := s.store.GetClientByID(ctx, idOrPublicIdentifier)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, storage.ErrClientNotFound) {
		return nil, err
	}
	return s.store.GetClientByPublicIdentifier(ctx, idOrPublicIdentifier)
}

// ListClients lists every registered client.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return s.store.ListClients(ctx)
}

// authenticateClient resolves the client of a token or revocation request.
//
// SECURITY: an unknown client identifier costs the same bcrypt comparison
// as a wrong secret, so callers cannot probe for registered identifiers.
func (s *Server) authenticateClient(ctx context.Context, publicIdentifier, secret, clientIP string) (*storage.Client, error) {
	if publicIdentifier == "" {
		return nil, newError(ErrInvalidClient, "client authentication required")
	}

	client, err := s.store.GetClientByPublicIdentifier(ctx, publicIdentifier)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			return nil, fmt.Errorf("failed to load client: %w", err)
		}
		_ = security.CompareSecret("", secret)
		s.Auditor.LogAuthFailure("", util.LogPrefix(publicIdentifier), clientIP, "unknown_client")
		return nil, newError(ErrInvalidClient, "client authentication failed")
	}

	if client.IsPublic() {
		if secret != "" {
			s.Auditor.LogAuthFailure("", client.ID, clientIP, "public_client_presented_secret")
			return nil, newError(ErrInvalidClient, "client authentication failed")
		}
		return client, nil
	}

	if err := security.CompareSecret(client.SecretHash, secret); err != nil {
		s.Auditor.LogAuthFailure("", client.ID, clientIP, "invalid_client_secret")
		return nil, newError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}
