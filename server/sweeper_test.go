package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
	storagemock "github.com/giantswarm/oauth-engine/storage/mock"
)

func TestSweeperSweepOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.RefreshTokenTTL = 2 * time.Hour })
	client, secret := env.registerClient(t, nil)

	expiredCode := authorizeCode(t, env, client, testRedirectURI, "")
	if _, err := env.srv.Token(ctx, passwordRequest(client, secret, "alice", "password")); err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	liveCode := authorizeCode(t, env, client, testRedirectURI, "")

	sweeper := NewSweeper(env.store, time.Minute, nil)
	result, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if result.AuthCodes != 1 {
		t.Errorf("AuthCodes = %d, want 1", result.AuthCodes)
	}
	if result.RefreshTokens != 1 {
		t.Errorf("RefreshTokens = %d, want 1", result.RefreshTokens)
	}

	if _, err := env.store.RedeemAuthCode(ctx, expiredCode.Identifier); !errors.Is(err, storage.ErrInvalidGrant) {
		t.Errorf("expired code: error = %v, want invalid grant", err)
	}
	if _, err := env.store.RedeemAuthCode(ctx, liveCode.Identifier); err != nil {
		t.Errorf("live code must survive the sweep: %v", err)
	}
}

func TestSweeperReportsFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	failing := storagemock.New(env.store)
	failing.DeleteExpiredAuthCodesFunc = func(context.Context) (int, error) {
		return 0, errors.New("connection reset")
	}

	if _, err := NewSweeper(failing, 0, nil).SweepOnce(context.Background()); err == nil {
		t.Fatal("SweepOnce() should report store failures")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	failing := storagemock.New(env.store)

	sweeper := NewSweeper(failing, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for failing.CallCount("DeleteExpiredAuthCodes") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if failing.CallCount("DeleteExpiredAuthCodes") == 0 {
		t.Error("Run() never swept")
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewSweeper(env.store, -1, nil)
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
}
