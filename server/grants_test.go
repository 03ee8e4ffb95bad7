package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

const concurrentRequests = 16

func clientCredentials(client *storage.Client, secret, scopeParam string) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     client.PublicIdentifier,
		ClientSecret: secret,
		Scope:        scopeParam,
	}
}

func passwordRequest(client *storage.Client, secret, username, password string) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     client.PublicIdentifier,
		ClientSecret: secret,
		Username:     username,
		Password:     password,
	}
}

func refreshRequest(client *storage.Client, secret, refreshToken, scopeParam string) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     client.PublicIdentifier,
		ClientSecret: secret,
		RefreshToken: refreshToken,
		Scope:        scopeParam,
	}
}

func wantError(t *testing.T, err error, want *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Code)
	}
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %s", err, want.Code)
	}
}

func extraScope(token *oauth2.Token) string {
	s, _ := token.Extra("scope").(string)
	return s
}

func TestClientCredentialsGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	token, err := env.srv.Token(ctx, clientCredentials(client, secret, "existingPlugins"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if token.AccessToken == "" {
		t.Fatal("expected signed access token")
	}
	if token.RefreshToken != "" {
		t.Error("client credentials grant must not issue a refresh token")
	}
	if token.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want Bearer", token.TokenType)
	}
	if got := extraScope(token); got != "existingPlugins" {
		t.Errorf("scope = %q, want existingPlugins", got)
	}
	if got, _ := token.Extra("expires_in").(int64); got != int64(DefaultAccessTokenTTL.Seconds()) {
		t.Errorf("expires_in = %d, want %d", got, int64(DefaultAccessTokenTTL.Seconds()))
	}

	record, err := env.srv.ValidateAccessToken(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if record.UserID != "" {
		t.Errorf("UserID = %q, want empty", record.UserID)
	}
	if record.ClientID != client.ID {
		t.Errorf("ClientID = %q, want %q", record.ClientID, client.ID)
	}
	if _, err := env.store.GetRefreshTokenByAccessTokenID(ctx, record.ID); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("GetRefreshTokenByAccessTokenID() error = %v, want not found", err)
	}
}

func TestClientCredentialsGrantFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)
	public, _ := env.registerClient(t, &ClientRegistration{Name: "SPA", Public: true})

	tests := []struct {
		name string
		req  *TokenRequest
		want *Error
	}{
		{
			name: "wrong secret",
			req:  clientCredentials(client, "wrong", ""),
			want: ErrInvalidClient,
		},
		{
			name: "missing secret",
			req:  clientCredentials(client, "", ""),
			want: ErrInvalidClient,
		},
		{
			name: "unknown client",
			req:  &TokenRequest{GrantType: GrantTypeClientCredentials, ClientID: "nobody", ClientSecret: secret},
			want: ErrInvalidClient,
		},
		{
			name: "public client",
			req:  clientCredentials(public, "", ""),
			want: ErrUnauthorizedClient,
		},
		{
			name: "unknown scope",
			req:  clientCredentials(client, secret, "existingPlugins deleteEverything"),
			want: ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.Token(ctx, tt.req)
			wantError(t, err, tt.want)
		})
	}
}

func TestScopeResolution(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	restricted, restrictedSecret := env.registerClient(t, &ClientRegistration{Scopes: []string{"existingPlugins"}})
	open, openSecret := env.registerClient(t, nil)

	tests := []struct {
		name      string
		client    *storage.Client
		secret    string
		scope     string
		wantScope string
		wantErr   *Error
	}{
		{
			name:      "no scope yields full allowance",
			client:    open,
			secret:    openSecret,
			wantScope: "existingPlugins publishPlugins",
		},
		{
			name:      "no scope on restricted client",
			client:    restricted,
			secret:    restrictedSecret,
			wantScope: "existingPlugins",
		},
		{
			name:      "requested order is kept",
			client:    open,
			secret:    openSecret,
			scope:     "publishPlugins existingPlugins",
			wantScope: "publishPlugins existingPlugins",
		},
		{
			name:      "disallowed scope is dropped",
			client:    restricted,
			secret:    restrictedSecret,
			scope:     "existingPlugins publishPlugins",
			wantScope: "existingPlugins",
		},
		{
			name:    "only disallowed scopes",
			client:  restricted,
			secret:  restrictedSecret,
			scope:   "publishPlugins",
			wantErr: ErrInvalidScope,
		},
		{
			name:    "unknown scope",
			client:  open,
			secret:  openSecret,
			scope:   "admin",
			wantErr: ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := env.srv.Token(ctx, clientCredentials(tt.client, tt.secret, tt.scope))
			if tt.wantErr != nil {
				wantError(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if got := extraScope(token); got != tt.wantScope {
				t.Errorf("scope = %q, want %q", got, tt.wantScope)
			}
		})
	}
}

func TestPasswordGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	token, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.RefreshToken == "" {
		t.Fatal("password grant must issue a refresh token")
	}

	record, err := env.srv.ValidateAccessToken(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if record.UserID != "user-alice" {
		t.Errorf("UserID = %q, want user-alice", record.UserID)
	}

	refresh, err := env.store.GetRefreshTokenByIdentifier(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshTokenByIdentifier() error = %v", err)
	}
	if refresh.AccessTokenID != record.ID {
		t.Errorf("refresh token AccessTokenID = %q, want %q", refresh.AccessTokenID, record.ID)
	}
	if env.users.CallCount("VerifyUserCredentials") != 1 {
		t.Errorf("verifier called %d times, want 1", env.users.CallCount("VerifyUserCredentials"))
	}
}

func TestPasswordGrantPublicClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, _ := env.registerClient(t, &ClientRegistration{Name: "CLI", Public: true})

	if _, err := env.srv.Token(ctx, passwordRequest(client, "", "bob", "password")); err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	_, err := env.srv.Token(ctx, passwordRequest(client, "made-up-secret", "bob", "password"))
	wantError(t, err, ErrInvalidClient)
}

func TestPasswordGrantFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	_, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "wrong"))
	wantError(t, err, ErrInvalidGrant)

	_, err = env.srv.Token(ctx, passwordRequest(client, secret, "mallory", "password"))
	wantError(t, err, ErrInvalidGrant)

	_, err = env.srv.Token(ctx, passwordRequest(client, secret, "", ""))
	wantError(t, err, ErrInvalidRequest)

	env.users.VerifyUserCredentialsFunc = func(context.Context, string, string) (string, error) {
		return "", errors.New("directory unavailable")
	}
	_, err = env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password"))
	if err == nil || AsError(err) != nil {
		t.Fatalf("verifier failure must surface as an internal error, got %v", err)
	}
}

func TestRefreshTokenGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	first, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	oldRecord, err := env.srv.ValidateAccessToken(ctx, first.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}

	second, err := env.srv.Token(ctx, refreshRequest(client, secret, first.RefreshToken, ""))
	if err != nil {
		t.Fatalf("refresh Token() error = %v", err)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}

	// Old pair is gone
	if _, err := env.srv.ValidateAccessToken(ctx, first.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old access token: error = %v, want invalid_token", err)
	}
	revoked, err := env.store.GetAccessTokenByID(ctx, oldRecord.ID)
	if err != nil {
		t.Fatalf("GetAccessTokenByID() error = %v", err)
	}
	if !revoked.IsRevoked {
		t.Error("old access token must be revoked")
	}
	if _, err := env.store.GetRefreshTokenByIdentifier(ctx, first.RefreshToken); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("old refresh token: error = %v, want not found", err)
	}

	// New pair is valid and keeps user and scopes
	newRecord, err := env.srv.ValidateAccessToken(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("new access token: ValidateAccessToken() error = %v", err)
	}
	if newRecord.UserID != oldRecord.UserID || !newRecord.Scopes.Equal(oldRecord.Scopes) {
		t.Errorf("new token = %+v, want user and scopes of %+v", newRecord, oldRecord)
	}
	newRefresh, err := env.store.GetRefreshTokenByIdentifier(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("new refresh token: error = %v", err)
	}
	if newRefresh.AccessTokenID != newRecord.ID {
		t.Error("new refresh token must pair with the new access token")
	}

	// Replaying R1 fails
	_, err = env.srv.Token(ctx, refreshRequest(client, secret, first.RefreshToken, ""))
	wantError(t, err, ErrInvalidGrant)
}

func TestRefreshTokenScopeNarrowing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	issue := func(scopeParam string) *oauth2.Token {
		t.Helper()
		req := passwordRequest(client, secret, "alice", "password")
		req.Scope = scopeParam
		token, err := env.srv.Token(ctx, req)
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		return token
	}

	t.Run("narrowing is allowed", func(t *testing.T) {
		token := issue("existingPlugins publishPlugins")
		refreshed, err := env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, "existingPlugins"))
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if got := extraScope(refreshed); got != "existingPlugins" {
			t.Errorf("scope = %q, want existingPlugins", got)
		}
	})

	t.Run("widening is rejected and keeps the refresh token", func(t *testing.T) {
		token := issue("existingPlugins")
		_, err := env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, "existingPlugins publishPlugins"))
		wantError(t, err, ErrInvalidScope)

		if _, err := env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, "")); err != nil {
			t.Fatalf("refresh token should survive a rejected widening, got %v", err)
		}
	})

	t.Run("unknown scope is rejected", func(t *testing.T) {
		token := issue("existingPlugins")
		_, err := env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, "root"))
		wantError(t, err, ErrInvalidScope)
	})
}

func TestRefreshTokenOfOtherClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	owner, ownerSecret := env.registerClient(t, nil)
	thief, thiefSecret := env.registerClient(t, &ClientRegistration{Name: "Other"})

	token, err := env.srv.Token(ctx, passwordRequest(owner, ownerSecret, "alice", "password"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	_, err = env.srv.Token(ctx, refreshRequest(thief, thiefSecret, token.RefreshToken, ""))
	wantError(t, err, ErrInvalidGrant)

	if _, err := env.srv.Token(ctx, refreshRequest(owner, ownerSecret, token.RefreshToken, "")); err != nil {
		t.Fatalf("owner refresh after foreign attempt: error = %v", err)
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.RefreshTokenTTL = 2 * time.Hour })
	client, secret := env.registerClient(t, nil)

	token, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	env.clock.Advance(2 * time.Hour)

	_, err = env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, ""))
	wantError(t, err, ErrInvalidGrant)
}

func TestConcurrentRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	token, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password"))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.srv.Token(ctx, refreshRequest(client, secret, token.RefreshToken, ""))
			switch {
			case err == nil:
				successes.Add(1)
			case !errors.Is(err, ErrInvalidGrant):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("%d concurrent refreshes succeeded, want exactly 1", got)
	}
}

func authorizeCode(t *testing.T, env *testEnv, client *storage.Client, redirectURI, challenge string) *storage.AuthCode {
	t.Helper()
	req := &AuthorizeRequest{
		ClientID:    client.PublicIdentifier,
		UserID:      "user-alice",
		RedirectURI: redirectURI,
		Scope:       "existingPlugins",
	}
	if challenge != "" {
		req.CodeChallenge = challenge
		req.CodeChallengeMethod = PKCEMethodS256
	}
	code, err := env.srv.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return code
}

func codeRequest(client *storage.Client, secret, code, redirectURI, verifier string) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     client.PublicIdentifier,
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
	}
}

func TestAuthorizationCodeGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	challenge, verifier := testutil.GeneratePKCEPair()
	code := authorizeCode(t, env, client, testRedirectURI, challenge)

	if got := code.ExpiryDate.Sub(testEpoch); got != 10*time.Minute {
		t.Errorf("code lifetime = %v, want 10m", got)
	}

	token, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, verifier))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.RefreshToken == "" {
		t.Error("authorization code grant must issue a refresh token")
	}

	record, err := env.srv.ValidateAccessToken(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if record.UserID != "user-alice" || !record.Scopes.Equal(scope.NewSet(scope.ExistingPlugins)) {
		t.Errorf("record = %+v, want user-alice with existingPlugins", record)
	}

	// Second exchange fails
	_, err = env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, verifier))
	wantError(t, err, ErrInvalidGrant)
}

func TestAuthorizationCodeRedirectMismatchConsumesCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)
	code := authorizeCode(t, env, client, testRedirectURI, "")

	_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, "https://evil.example.com/callback", ""))
	wantError(t, err, ErrInvalidGrant)

	// The code was consumed by the failed attempt; a corrected retry fails too.
	_, err = env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, ""))
	wantError(t, err, ErrInvalidGrant)
}

func TestAuthorizationCodeOmittedRedirectURI(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)

	code := authorizeCode(t, env, client, "", "")
	if code.RedirectURI != testRedirectURI {
		t.Fatalf("code RedirectURI = %q, want registered URI", code.RedirectURI)
	}
	if _, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, "", "")); err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	other := authorizeCode(t, env, client, "http://127.0.0.1:8765/cb", "")
	_, err := env.srv.Token(ctx, codeRequest(client, secret, other.Identifier, "", ""))
	wantError(t, err, ErrInvalidGrant)
}

func TestAuthorizationCodeFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)
	other, otherSecret := env.registerClient(t, &ClientRegistration{Name: "Other"})

	t.Run("wrong client", func(t *testing.T) {
		code := authorizeCode(t, env, client, testRedirectURI, "")
		_, err := env.srv.Token(ctx, codeRequest(other, otherSecret, code.Identifier, testRedirectURI, ""))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		challenge, _ := testutil.GeneratePKCEPair()
		_, wrongVerifier := testutil.GeneratePKCEPair()
		code := authorizeCode(t, env, client, testRedirectURI, challenge)
		_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, wrongVerifier))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("missing verifier", func(t *testing.T) {
		challenge, _ := testutil.GeneratePKCEPair()
		code := authorizeCode(t, env, client, testRedirectURI, challenge)
		_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, ""))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("verifier without challenge", func(t *testing.T) {
		_, verifier := testutil.GeneratePKCEPair()
		code := authorizeCode(t, env, client, testRedirectURI, "")
		_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, verifier))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("expired", func(t *testing.T) {
		code := authorizeCode(t, env, client, testRedirectURI, "")
		env.clock.Advance(10 * time.Minute)
		_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, ""))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := env.srv.Token(ctx, codeRequest(client, secret, "no-such-code", testRedirectURI, ""))
		wantError(t, err, ErrInvalidGrant)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := env.srv.Token(ctx, codeRequest(client, secret, "", testRedirectURI, ""))
		wantError(t, err, ErrInvalidRequest)
	})
}

func TestConcurrentCodeExchange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client, secret := env.registerClient(t, nil)
	code := authorizeCode(t, env, client, testRedirectURI, "")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.srv.Token(ctx, codeRequest(client, secret, code.Identifier, testRedirectURI, ""))
			switch {
			case err == nil:
				successes.Add(1)
			case !errors.Is(err, ErrInvalidGrant):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("%d concurrent exchanges succeeded, want exactly 1", got)
	}
}

func TestGrantAvailability(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) {
		c.EnabledGrants = []string{GrantTypeClientCredentials, GrantTypePassword}
	})
	client, secret := env.registerClient(t, nil)
	machineOnly, machineSecret := env.registerClient(t, &ClientRegistration{
		Name:       "Machine",
		GrantTypes: []string{GrantTypeClientCredentials},
	})

	tests := []struct {
		name string
		req  *TokenRequest
		want *Error
	}{
		{
			name: "missing grant type",
			req:  &TokenRequest{ClientID: client.PublicIdentifier},
			want: ErrInvalidRequest,
		},
		{
			name: "unknown grant type",
			req:  &TokenRequest{GrantType: "urn:ietf:params:oauth:grant-type:device_code", ClientID: client.PublicIdentifier},
			want: ErrUnsupportedGrantType,
		},
		{
			name: "implicit at token endpoint",
			req:  &TokenRequest{GrantType: GrantTypeImplicit, ClientID: client.PublicIdentifier},
			want: ErrUnsupportedGrantType,
		},
		{
			name: "disabled grant",
			req:  refreshRequest(client, secret, "whatever", ""),
			want: ErrUnsupportedGrantType,
		},
		{
			name: "grant not allowed for client",
			req:  passwordRequest(machineOnly, machineSecret, "alice", "password"),
			want: ErrUnauthorizedClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.Token(ctx, tt.req)
			wantError(t, err, tt.want)
		})
	}

	if _, err := env.srv.Token(ctx, clientCredentials(machineOnly, machineSecret, "")); err != nil {
		t.Fatalf("allowed grant: Token() error = %v", err)
	}
}

func TestExpiresIn(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Time
		want   int64
	}{
		{name: "whole seconds", expiry: testEpoch.Add(time.Hour), want: 3600},
		{name: "rounds up", expiry: testEpoch.Add(1500 * time.Millisecond), want: 2},
		{name: "past", expiry: testEpoch.Add(-time.Second), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expiresIn(tt.expiry, testEpoch); got != tt.want {
				t.Errorf("expiresIn() = %d, want %d", got, tt.want)
			}
		})
	}
}
