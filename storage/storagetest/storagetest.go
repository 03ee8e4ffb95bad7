// Package storagetest holds the behaviour suite every storage engine runs
// from its own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Factory returns an empty store that reads time from clock. The factory
// registers any teardown with t.Cleanup.
type Factory func(t *testing.T, clock security.Clock) storage.Store

// epoch is the fixed starting instant of the mock clock.
var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const concurrentRedeemers = 32

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	setup := func(t *testing.T) (storage.Store, *testutil.MockTime) {
		clock := testutil.NewMockTime(epoch)
		return newStore(t, clock), clock
	}

	t.Run("Clients", func(t *testing.T) {
		t.Run("SaveAndGet", func(t *testing.T) {
			s, _ := setup(t)
			testClientSaveAndGet(t, s)
		})
		t.Run("Validation", func(t *testing.T) {
			s, _ := setup(t)
			testClientValidation(t, s)
		})
		t.Run("DuplicatePublicIdentifier", func(t *testing.T) {
			s, _ := setup(t)
			testClientDuplicatePublicIdentifier(t, s)
		})
		t.Run("Update", func(t *testing.T) {
			s, _ := setup(t)
			testClientUpdate(t, s)
		})
		t.Run("List", func(t *testing.T) {
			s, clock := setup(t)
			testClientList(t, s, clock)
		})
		t.Run("DeleteCascades", func(t *testing.T) {
			s, _ := setup(t)
			testClientDeleteCascades(t, s)
		})
	})

	t.Run("AuthCodes", func(t *testing.T) {
		t.Run("IssueAndRedeem", func(t *testing.T) {
			s, _ := setup(t)
			testAuthCodeIssueAndRedeem(t, s)
		})
		t.Run("RedeemExpired", func(t *testing.T) {
			s, clock := setup(t)
			testAuthCodeRedeemExpired(t, s, clock)
		})
		t.Run("ConcurrentRedeem", func(t *testing.T) {
			s, _ := setup(t)
			testAuthCodeConcurrentRedeem(t, s)
		})
		t.Run("DeleteExpired", func(t *testing.T) {
			s, clock := setup(t)
			testAuthCodeDeleteExpired(t, s, clock)
		})
	})

	t.Run("AccessTokens", func(t *testing.T) {
		t.Run("IssueAndGet", func(t *testing.T) {
			s, _ := setup(t)
			testAccessTokenIssueAndGet(t, s)
		})
		t.Run("UniqueIdentifiers", func(t *testing.T) {
			s, _ := setup(t)
			testAccessTokenUniqueIdentifiers(t, s)
		})
		t.Run("RevokeIsIdempotentAndCascades", func(t *testing.T) {
			s, clock := setup(t)
			testAccessTokenRevoke(t, s, clock)
		})
		t.Run("Delete", func(t *testing.T) {
			s, _ := setup(t)
			testAccessTokenDelete(t, s)
		})
	})

	t.Run("RefreshTokens", func(t *testing.T) {
		t.Run("IssueAndRedeem", func(t *testing.T) {
			s, _ := setup(t)
			testRefreshTokenIssueAndRedeem(t, s)
		})
		t.Run("ReissueReplaces", func(t *testing.T) {
			s, _ := setup(t)
			testRefreshTokenReissueReplaces(t, s)
		})
		t.Run("RedeemExpired", func(t *testing.T) {
			s, clock := setup(t)
			testRefreshTokenRedeemExpired(t, s, clock)
		})
		t.Run("ConcurrentRedeem", func(t *testing.T) {
			s, _ := setup(t)
			testRefreshTokenConcurrentRedeem(t, s)
		})
		t.Run("IssueForUnknownAccessToken", func(t *testing.T) {
			s, _ := setup(t)
			_, err := s.IssueRefreshToken(context.Background(), "missing", time.Hour)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	})
}

func mustClient(t *testing.T, s storage.Store, publicID string) *storage.Client {
	t.Helper()
	c, err := s.SaveClient(context.Background(), &storage.Client{
		Name:             "client " + publicID,
		PublicIdentifier: publicID,
		SecretHash:       "hash",
		RedirectURI:      "https://app.example.com/callback",
		Scopes:           scope.NewSet(scope.ExistingPlugins),
		GrantTypes:       []string{"authorization_code", "refresh_token"},
	})
	require.NoError(t, err)
	return c
}

func mustAccessToken(t *testing.T, s storage.Store, clientID string) *storage.AccessToken {
	t.Helper()
	tok, err := s.IssueAccessToken(context.Background(), storage.AccessTokenParams{
		ClientID: clientID,
		UserID:   "user-1",
		Scopes:   scope.NewSet(scope.ExistingPlugins),
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

func testClientSaveAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	saved := mustClient(t, s, "pub-1")

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, epoch, saved.CreatedAt.UTC())

	byID, err := s.GetClientByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "pub-1", byID.PublicIdentifier)
	assert.Equal(t, "hash", byID.SecretHash)
	assert.Equal(t, "https://app.example.com/callback", byID.RedirectURI)
	assert.True(t, byID.Scopes.Equal(scope.NewSet(scope.ExistingPlugins)))
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, byID.GrantTypes)

	byPublic, err := s.GetClientByPublicIdentifier(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byPublic.ID)

	_, err = s.GetClientByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	_, err = s.GetClientByPublicIdentifier(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testClientValidation(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.SaveClient(ctx, &storage.Client{PublicIdentifier: "pub"})
	assert.True(t, storage.IsValidationError(err), "missing name: %v", err)

	_, err = s.SaveClient(ctx, &storage.Client{Name: "n"})
	assert.True(t, storage.IsValidationError(err), "missing public identifier: %v", err)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func testClientDuplicatePublicIdentifier(t *testing.T, s storage.Store) {
	mustClient(t, s, "pub-dup")
	_, err := s.SaveClient(context.Background(), &storage.Client{Name: "other", PublicIdentifier: "pub-dup"})
	assert.ErrorIs(t, err, storage.ErrDuplicatePublicIdentifier)
}

func testClientUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	saved := mustClient(t, s, "pub-upd")

	saved.Name = "renamed"
	saved.RedirectURILocked = true
	updated, err := s.SaveClient(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	got, err := s.GetClientByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.RedirectURILocked)

	_, err = s.SaveClient(ctx, &storage.Client{ID: "missing", Name: "x", PublicIdentifier: "x"})
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func testClientList(t *testing.T, s storage.Store, clock *testutil.MockTime) {
	first := mustClient(t, s, "pub-a")
	clock.Advance(time.Second)
	second := mustClient(t, s, "pub-b")

	clients, err := s.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, first.ID, clients[0].ID)
	assert.Equal(t, second.ID, clients[1].ID)
}

func testClientDeleteCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doomed := mustClient(t, s, "pub-doomed")
	kept := mustClient(t, s, "pub-kept")

	code, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: doomed.ID, UserID: "u"}, 10*time.Minute)
	require.NoError(t, err)
	doomedToken := mustAccessToken(t, s, doomed.ID)
	doomedRefresh, err := s.IssueRefreshToken(ctx, doomedToken.ID, time.Hour)
	require.NoError(t, err)
	keptToken := mustAccessToken(t, s, kept.ID)

	deleted, err := s.DeleteClientByID(ctx, doomed.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetClientByID(ctx, doomed.ID)
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	_, err = s.RedeemAuthCode(ctx, code.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)

	_, err = s.GetAccessTokenByIdentifier(ctx, doomedToken.Identifier, false)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	revoked, err := s.GetAccessTokenByIdentifier(ctx, doomedToken.Identifier, true)
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked)

	_, err = s.RedeemRefreshToken(ctx, doomedRefresh.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)

	still, err := s.GetAccessTokenByIdentifier(ctx, keptToken.Identifier, false)
	require.NoError(t, err)
	assert.False(t, still.IsRevoked)

	deleted, err = s.DeleteClientByID(ctx, doomed.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testAuthCodeIssueAndRedeem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-code")

	code, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{
		ClientID:            client.ID,
		UserID:              "user-1",
		RedirectURI:         "https://app.example.com/callback",
		Scopes:              scope.NewSet(scope.ExistingPlugins),
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
	}, 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Identifier)
	assert.Equal(t, epoch.Add(10*time.Minute), code.ExpiryDate.UTC())

	redeemed, err := s.RedeemAuthCode(ctx, code.Identifier)
	require.NoError(t, err)
	assert.Equal(t, client.ID, redeemed.ClientID)
	assert.Equal(t, "user-1", redeemed.UserID)
	assert.Equal(t, "https://app.example.com/callback", redeemed.RedirectURI)
	assert.Equal(t, "challenge", redeemed.CodeChallenge)
	assert.Equal(t, "S256", redeemed.CodeChallengeMethod)
	assert.True(t, redeemed.Scopes.Equal(scope.NewSet(scope.ExistingPlugins)))

	_, err = s.RedeemAuthCode(ctx, code.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)

	_, err = s.RedeemAuthCode(ctx, "never-issued")
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)
}

func testAuthCodeRedeemExpired(t *testing.T, s storage.Store, clock *testutil.MockTime) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-code-exp")

	code, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: client.ID, UserID: "u"}, 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	_, err = s.RedeemAuthCode(ctx, code.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)
}

func testAuthCodeConcurrentRedeem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-code-race")

	code, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: client.ID, UserID: "u"}, 10*time.Minute)
	require.NoError(t, err)

	successes := raceRedeem(t, func() error {
		_, err := s.RedeemAuthCode(ctx, code.Identifier)
		return err
	})
	assert.Equal(t, int64(1), successes, "exactly one redeemer must win")
}

func testAuthCodeDeleteExpired(t *testing.T, s storage.Store, clock *testutil.MockTime) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-code-sweep")

	short, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: client.ID}, time.Minute)
	require.NoError(t, err)
	long, err := s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: client.ID}, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	n, err := s.DeleteExpiredAuthCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.RedeemAuthCode(ctx, short.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)
	_, err = s.RedeemAuthCode(ctx, long.Identifier)
	assert.NoError(t, err)
}

func testAccessTokenIssueAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-at")

	tok := mustAccessToken(t, s, client.ID)
	assert.NotEmpty(t, tok.ID)
	assert.NotEmpty(t, tok.Identifier)
	assert.Equal(t, epoch.Add(time.Hour), tok.ExpiryDate.UTC())
	assert.False(t, tok.IsRevoked)

	byIdentifier, err := s.GetAccessTokenByIdentifier(ctx, tok.Identifier, false)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, byIdentifier.ID)
	assert.Equal(t, "user-1", byIdentifier.UserID)
	assert.True(t, byIdentifier.Scopes.Equal(tok.Scopes))

	byID, err := s.GetAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.Identifier, byID.Identifier)

	clientOnly, err := s.IssueAccessToken(ctx, storage.AccessTokenParams{ClientID: client.ID}, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, clientOnly.UserID)
	assert.True(t, clientOnly.Scopes.IsEmpty())

	_, err = s.GetAccessTokenByIdentifier(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	_, err = s.GetAccessTokenByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
}

func testAccessTokenUniqueIdentifiers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-unique")

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		tok := mustAccessToken(t, s, client.ID)
		_, dup := seen[tok.Identifier]
		require.False(t, dup, "identifier reused")
		seen[tok.Identifier] = struct{}{}

		switch i % 3 {
		case 0:
			_, err := s.RevokeAccessTokenByID(ctx, tok.ID)
			require.NoError(t, err)
		case 1:
			_, err := s.DeleteAccessTokenByID(ctx, tok.ID)
			require.NoError(t, err)
		}
	}
}

func testAccessTokenRevoke(t *testing.T, s storage.Store, clock *testutil.MockTime) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-revoke")
	tok := mustAccessToken(t, s, client.ID)
	rt, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)

	ok, err := s.RevokeAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetAccessTokenByIdentifier(ctx, tok.Identifier, false)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

	revoked, err := s.GetAccessTokenByIdentifier(ctx, tok.Identifier, true)
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked)
	assert.Equal(t, epoch, revoked.RevokedAt.UTC())

	_, err = s.GetRefreshTokenByIdentifier(ctx, rt.Identifier)
	assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)
	_, err = s.RedeemRefreshToken(ctx, rt.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)

	// Revoking again succeeds and keeps the first revocation time.
	clock.Advance(time.Minute)
	ok, err = s.RevokeAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	again, err := s.GetAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch, again.RevokedAt.UTC())

	_, err = s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

	ok, err = s.RevokeAccessTokenByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testAccessTokenDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-del")
	tok := mustAccessToken(t, s, client.ID)
	rt, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)

	ok, err := s.DeleteAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetAccessTokenByID(ctx, tok.ID)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	_, err = s.GetAccessTokenByIdentifier(ctx, tok.Identifier, true)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	_, err = s.GetRefreshTokenByIdentifier(ctx, rt.Identifier)
	assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)

	ok, err = s.DeleteAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRefreshTokenIssueAndRedeem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-rt")
	tok := mustAccessToken(t, s, client.ID)

	rt, err := s.IssueRefreshToken(ctx, tok.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, rt.AccessTokenID)
	assert.Equal(t, epoch.Add(24*time.Hour), rt.ExpiryDate.UTC())

	byIdentifier, err := s.GetRefreshTokenByIdentifier(ctx, rt.Identifier)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, byIdentifier.ID)

	byAccess, err := s.GetRefreshTokenByAccessTokenID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, rt.Identifier, byAccess.Identifier)

	redeemed, err := s.RedeemRefreshToken(ctx, rt.Identifier)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, redeemed.AccessTokenID)

	_, err = s.RedeemRefreshToken(ctx, rt.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)
	_, err = s.GetRefreshTokenByAccessTokenID(ctx, tok.ID)
	assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)
}

func testRefreshTokenReissueReplaces(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-rt-re")
	tok := mustAccessToken(t, s, client.ID)

	first, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)
	second, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Identifier, second.Identifier)

	_, err = s.RedeemRefreshToken(ctx, first.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)

	current, err := s.GetRefreshTokenByAccessTokenID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Identifier, current.Identifier)
}

func testRefreshTokenRedeemExpired(t *testing.T, s storage.Store, clock *testutil.MockTime) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-rt-exp")
	tok := mustAccessToken(t, s, client.ID)

	rt, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = s.RedeemRefreshToken(ctx, rt.Identifier)
	assert.ErrorIs(t, err, storage.ErrInvalidGrant)
}

func testRefreshTokenConcurrentRedeem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	client := mustClient(t, s, "pub-rt-race")
	tok := mustAccessToken(t, s, client.ID)

	rt, err := s.IssueRefreshToken(ctx, tok.ID, time.Hour)
	require.NoError(t, err)

	successes := raceRedeem(t, func() error {
		_, err := s.RedeemRefreshToken(ctx, rt.Identifier)
		return err
	})
	assert.Equal(t, int64(1), successes, "exactly one redeemer must win")
}

// raceRedeem runs redeem from many goroutines released at once and returns
// how many succeeded. Every failure must be ErrInvalidGrant.
func raceRedeem(t *testing.T, redeem func() error) int64 {
	t.Helper()

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		start     = make(chan struct{})
		errs      = make(chan error, concurrentRedeemers)
	)
	for i := 0; i < concurrentRedeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := redeem(); err != nil {
				errs <- err
				return
			}
			successes.Add(1)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.True(t, errors.Is(err, storage.ErrInvalidGrant), "unexpected error: %v", err)
	}
	return successes.Load()
}
