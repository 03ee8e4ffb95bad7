package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/storagetest"
)

func newTestStore(t *testing.T, clock security.Clock) *Store {
	t.Helper()
	s := New()
	s.SetClock(clock)
	t.Cleanup(s.Stop)
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock security.Clock) storage.Store {
		return newTestStore(t, clock)
	})
}

type recordingRevoker struct {
	clientIDs []string
	err       error
}

func (r *recordingRevoker) RevokeAllForClient(_ context.Context, clientID string) (int, error) {
	r.clientIDs = append(r.clientIDs, clientID)
	return 0, r.err
}

func TestDeleteClientUsesConfiguredRevoker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testutil.NewMockTime(time.Now()))

	revoker := &recordingRevoker{}
	s.SetRevoker(revoker)

	c, err := s.SaveClient(ctx, &storage.Client{Name: "app", PublicIdentifier: "pub"})
	require.NoError(t, err)
	tok, err := s.IssueAccessToken(ctx, storage.AccessTokenParams{ClientID: c.ID}, time.Hour)
	require.NoError(t, err)

	deleted, err := s.DeleteClientByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{c.ID}, revoker.clientIDs)

	// The store's own cascade did not run.
	got, err := s.GetAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRevoked)
}

func TestDeleteClientReportsRevokerFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testutil.NewMockTime(time.Now()))
	s.SetRevoker(&recordingRevoker{err: errors.New("backend down")})

	c, err := s.SaveClient(ctx, &storage.Client{Name: "app", PublicIdentifier: "pub"})
	require.NoError(t, err)

	deleted, err := s.DeleteClientByID(ctx, c.ID)
	assert.True(t, deleted)
	assert.ErrorContains(t, err, "backend down")

	_, err = s.GetClientByID(ctx, c.ID)
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testutil.NewMockTime(time.Now()))

	c, err := s.SaveClient(ctx, &storage.Client{Name: "app", PublicIdentifier: "pub"})
	require.NoError(t, err)
	c.Name = "mutated"

	got, err := s.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "app", got.Name)

	tok, err := s.IssueAccessToken(ctx, storage.AccessTokenParams{ClientID: c.ID}, time.Hour)
	require.NoError(t, err)
	tok.IsRevoked = true

	fresh, err := s.GetAccessTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, fresh.IsRevoked)
}

func TestCleanupKeepsAccessTokens(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	tok, err := s.IssueAccessToken(ctx, storage.AccessTokenParams{ClientID: "c"}, time.Minute)
	require.NoError(t, err)
	_, err = s.IssueRefreshToken(ctx, tok.ID, time.Minute)
	require.NoError(t, err)
	_, err = s.IssueAuthCode(ctx, storage.AuthCodeParams{ClientID: "c"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	s.cleanup()

	assert.Equal(t, int64(0), s.authCodesCount.Load())
	assert.Equal(t, int64(0), s.refreshTokensCount.Load())
	assert.Equal(t, int64(1), s.accessTokensCount.Load())

	_, err = s.GetAccessTokenByID(ctx, tok.ID)
	assert.NoError(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewWithInterval(10 * time.Millisecond)
	s.Stop()
	s.Stop()
}
