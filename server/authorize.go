package server

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

// AuthorizeRequest carries an authorization request for a user the caller
// has already authenticated. ClientID is the client's public identifier.
type AuthorizeRequest struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize issues an authorization code (RFC 6749 section 4.1.1). The
// returned code carries the resolved redirect URI the caller sends the
// user agent to.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*storage.AuthCode, error) {
	ctx, span := s.startSpan(ctx, "oauth.authorize")
	defer span.End()

	client, redirectURI, scopes, err := s.prepareAuthorize(ctx, req, GrantTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}

	if err := validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod, client.IsPublic() || s.Config.RequirePKCE); err != nil {
		return nil, err
	}

	code, err := s.store.IssueAuthCode(ctx, storage.AuthCodeParams{
		ClientID:            client.ID,
		UserID:              req.UserID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}, s.Config.AuthCodeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue authorization code: %w", err)
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", client.ID,
		"code_prefix", util.LogPrefix(code.Identifier),
		"pkce", code.CodeChallenge != "")
	return code, nil
}

// AuthorizeImplicit issues an access token straight from the authorize step
// (RFC 6749 section 4.2). No refresh token is issued. The grant exists for
// old clients only and is disabled unless listed in Config.EnabledGrants.
// Returns the token and the redirect URI it is delivered to.
func (s *Server) AuthorizeImplicit(ctx context.Context, req *AuthorizeRequest) (*oauth2.Token, string, error) {
	ctx, span := s.startSpan(ctx, "oauth.authorize_implicit")
	defer span.End()

	if !s.Config.isGrantEnabled(GrantTypeImplicit) {
		return nil, "", newError(ErrUnsupportedGrantType, "grant type %q is not enabled", GrantTypeImplicit)
	}

	client, redirectURI, scopes, err := s.prepareAuthorize(ctx, req, GrantTypeImplicit)
	if err != nil {
		return nil, "", err
	}

	token, _, err := s.issueTokens(ctx, client, req.UserID, scopes, false, GrantTypeImplicit)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Warn("Issued access token through the implicit grant",
		"client_id", client.ID,
		"recommendation", "Migrate the client to the authorization code grant with PKCE")
	s.Auditor.LogImplicitGrantUsed(req.UserID, client.ID)
	return token, redirectURI, nil
}

// prepareAuthorize resolves the client, redirect URI and scopes shared by
// both authorize flows.
func (s *Server) prepareAuthorize(ctx context.Context, req *AuthorizeRequest, grantType string) (*storage.Client, string, scope.Set, error) {
	if req == nil || req.ClientID == "" {
		return nil, "", nil, newError(ErrInvalidRequest, "client_id is required")
	}
	if req.UserID == "" {
		return nil, "", nil, newError(ErrInvalidRequest, "an authenticated user is required")
	}
	if grantType == GrantTypeAuthorizationCode && !s.Config.isGrantEnabled(grantType) {
		return nil, "", nil, newError(ErrUnsupportedGrantType, "grant type %q is not enabled", grantType)
	}

	client, err := s.store.GetClientByPublicIdentifier(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, "", nil, newError(ErrInvalidClient, "unknown client")
		}
		return nil, "", nil, fmt.Errorf("failed to load client: %w", err)
	}
	if !client.AllowsGrant(grantType) {
		return nil, "", nil, newError(ErrUnauthorizedClient, "client may not use the %s grant", grantType)
	}

	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, "", nil, err
	}

	scopes, err := s.resolveScopes(client, scope.Parse(req.Scope))
	if err != nil {
		return nil, "", nil, err
	}
	return client, redirectURI, scopes, nil
}
