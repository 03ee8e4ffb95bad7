// Package mock provides a failure-injecting storage.Store for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// Store wraps another storage.Store. Every method delegates to the wrapped
// store unless its Func field is replaced, which lets tests inject failures
// into single operations. Calls are counted per method name.
type Store struct {
	mu         sync.Mutex
	callCounts map[string]int

	GetClientByIDFunc               func(ctx context.Context, id string) (*storage.Client, error)
	GetClientByPublicIdentifierFunc func(ctx context.Context, publicIdentifier string) (*storage.Client, error)
	SaveClientFunc                  func(ctx context.Context, client *storage.Client) (*storage.Client, error)
	DeleteClientByIDFunc            func(ctx context.Context, id string) (bool, error)
	ListClientsFunc                 func(ctx context.Context) ([]*storage.Client, error)

	IssueAuthCodeFunc          func(ctx context.Context, params storage.AuthCodeParams, ttl time.Duration) (*storage.AuthCode, error)
	RedeemAuthCodeFunc         func(ctx context.Context, identifier string) (*storage.AuthCode, error)
	DeleteExpiredAuthCodesFunc func(ctx context.Context) (int, error)

	IssueAccessTokenFunc           func(ctx context.Context, params storage.AccessTokenParams, ttl time.Duration) (*storage.AccessToken, error)
	GetAccessTokenByIdentifierFunc func(ctx context.Context, identifier string, includeRevoked bool) (*storage.AccessToken, error)
	GetAccessTokenByIDFunc         func(ctx context.Context, id string) (*storage.AccessToken, error)
	RevokeAccessTokenByIDFunc      func(ctx context.Context, id string) (bool, error)
	DeleteAccessTokenByIDFunc      func(ctx context.Context, id string) (bool, error)

	IssueRefreshTokenFunc              func(ctx context.Context, accessTokenID string, ttl time.Duration) (*storage.RefreshToken, error)
	GetRefreshTokenByIdentifierFunc    func(ctx context.Context, identifier string) (*storage.RefreshToken, error)
	GetRefreshTokenByAccessTokenIDFunc func(ctx context.Context, accessTokenID string) (*storage.RefreshToken, error)
	RedeemRefreshTokenFunc             func(ctx context.Context, identifier string) (*storage.RefreshToken, error)

	RevokeAllForClientFunc func(ctx context.Context, clientID string) (int, error)
}

var _ storage.Store = (*Store)(nil)

// New creates a mock delegating to inner
func New(inner storage.Store) *Store {
	return &Store{
		callCounts: make(map[string]int),

		GetClientByIDFunc:               inner.GetClientByID,
		GetClientByPublicIdentifierFunc: inner.GetClientByPublicIdentifier,
		SaveClientFunc:                  inner.SaveClient,
		DeleteClientByIDFunc:            inner.DeleteClientByID,
		ListClientsFunc:                 inner.ListClients,

		IssueAuthCodeFunc:          inner.IssueAuthCode,
		RedeemAuthCodeFunc:         inner.RedeemAuthCode,
		DeleteExpiredAuthCodesFunc: inner.DeleteExpiredAuthCodes,

		IssueAccessTokenFunc:           inner.IssueAccessToken,
		GetAccessTokenByIdentifierFunc: inner.GetAccessTokenByIdentifier,
		GetAccessTokenByIDFunc:         inner.GetAccessTokenByID,
		RevokeAccessTokenByIDFunc:      inner.RevokeAccessTokenByID,
		DeleteAccessTokenByIDFunc:      inner.DeleteAccessTokenByID,

		IssueRefreshTokenFunc:              inner.IssueRefreshToken,
		GetRefreshTokenByIdentifierFunc:    inner.GetRefreshTokenByIdentifier,
		GetRefreshTokenByAccessTokenIDFunc: inner.GetRefreshTokenByAccessTokenID,
		RedeemRefreshTokenFunc:             inner.RedeemRefreshToken,

		RevokeAllForClientFunc: inner.RevokeAllForClient,
	}
}

func (m *Store) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// CallCount returns how often method was called
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

// ResetCallCounts resets all call counters
func (m *Store) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts = make(map[string]int)
}

// GetClientByID retrieves a client by its internal ID
func (m *Store) GetClientByID(ctx context.Context, id string) (*storage.Client, error) {
	m.count("GetClientByID")
	return m.GetClientByIDFunc(ctx, id)
}

// GetClientByPublicIdentifier retrieves a client by its public identifier
func (m *Store) GetClientByPublicIdentifier(ctx context.Context, publicIdentifier string) (*storage.Client, error) {
	m.count("GetClientByPublicIdentifier")
	return m.GetClientByPublicIdentifierFunc(ctx, publicIdentifier)
}

// SaveClient persists a client
func (m *Store) SaveClient(ctx context.Context, client *storage.Client) (*storage.Client, error) {
	m.count("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// DeleteClientByID removes a client
func (m *Store) DeleteClientByID(ctx context.Context, id string) (bool, error) {
	m.count("DeleteClientByID")
	return m.DeleteClientByIDFunc(ctx, id)
}

// ListClients lists all registered clients
func (m *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	return m.ListClientsFunc(ctx)
}

// IssueAuthCode creates an authorization code
func (m *Store) IssueAuthCode(ctx context.Context, params storage.AuthCodeParams, ttl time.Duration) (*storage.AuthCode, error) {
	m.count("IssueAuthCode")
	return m.IssueAuthCodeFunc(ctx, params, ttl)
}

// RedeemAuthCode consumes an authorization code
func (m *Store) RedeemAuthCode(ctx context.Context, identifier string) (*storage.AuthCode, error) {
	m.count("RedeemAuthCode")
	return m.RedeemAuthCodeFunc(ctx, identifier)
}

// DeleteExpiredAuthCodes removes expired authorization codes
func (m *Store) DeleteExpiredAuthCodes(ctx context.Context) (int, error) {
	m.count("DeleteExpiredAuthCodes")
	return m.DeleteExpiredAuthCodesFunc(ctx)
}

// IssueAccessToken creates an access token
func (m *Store) IssueAccessToken(ctx context.Context, params storage.AccessTokenParams, ttl time.Duration) (*storage.AccessToken, error) {
	m.count("IssueAccessToken")
	return m.IssueAccessTokenFunc(ctx, params, ttl)
}

// GetAccessTokenByIdentifier looks up an access token by identifier
func (m *Store) GetAccessTokenByIdentifier(ctx context.Context, identifier string, includeRevoked bool) (*storage.AccessToken, error) {
	m.count("GetAccessTokenByIdentifier")
	return m.GetAccessTokenByIdentifierFunc(ctx, identifier, includeRevoked)
}

// GetAccessTokenByID looks up an access token by record ID
func (m *Store) GetAccessTokenByID(ctx context.Context, id string) (*storage.AccessToken, error) {
	m.count("GetAccessTokenByID")
	return m.GetAccessTokenByIDFunc(ctx, id)
}

// RevokeAccessTokenByID revokes an access token
func (m *Store) RevokeAccessTokenByID(ctx context.Context, id string) (bool, error) {
	m.count("RevokeAccessTokenByID")
	return m.RevokeAccessTokenByIDFunc(ctx, id)
}

// DeleteAccessTokenByID removes an access token
func (m *Store) DeleteAccessTokenByID(ctx context.Context, id string) (bool, error) {
	m.count("DeleteAccessTokenByID")
	return m.DeleteAccessTokenByIDFunc(ctx, id)
}

// IssueRefreshToken creates a refresh token
func (m *Store) IssueRefreshToken(ctx context.Context, accessTokenID string, ttl time.Duration) (*storage.RefreshToken, error) {
	m.count("IssueRefreshToken")
	return m.IssueRefreshTokenFunc(ctx, accessTokenID, ttl)
}

// GetRefreshTokenByIdentifier looks up a refresh token by identifier
func (m *Store) GetRefreshTokenByIdentifier(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	m.count("GetRefreshTokenByIdentifier")
	return m.GetRefreshTokenByIdentifierFunc(ctx, identifier)
}

// GetRefreshTokenByAccessTokenID looks up the refresh token of an access token
func (m *Store) GetRefreshTokenByAccessTokenID(ctx context.Context, accessTokenID string) (*storage.RefreshToken, error) {
	m.count("GetRefreshTokenByAccessTokenID")
	return m.GetRefreshTokenByAccessTokenIDFunc(ctx, accessTokenID)
}

// RedeemRefreshToken consumes a refresh token
func (m *Store) RedeemRefreshToken(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	m.count("RedeemRefreshToken")
	return m.RedeemRefreshTokenFunc(ctx, identifier)
}

// RevokeAllForClient revokes everything issued to a client
func (m *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	m.count("RevokeAllForClient")
	return m.RevokeAllForClientFunc(ctx, clientID)
}
