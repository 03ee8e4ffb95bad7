package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// DefaultSweepInterval is how often a Sweeper runs when no interval is set
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired authorization codes and, on engines
// that keep them, expired refresh tokens. Expired access tokens are kept:
// their records are the revocation audit trail.
type Sweeper struct {
	store    storage.AuthCodeStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper for store. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(store storage.AuthCodeStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// SweepResult reports what one sweep removed
type SweepResult struct {
	AuthCodes     int
	RefreshTokens int
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	codes, err := s.store.DeleteExpiredAuthCodes(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	result.AuthCodes = codes

	if deleter, ok := s.store.(storage.ExpiredRefreshTokenDeleter); ok {
		tokens, err := deleter.DeleteExpiredRefreshTokens(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
		}
		result.RefreshTokens = tokens
	}

	if result.AuthCodes > 0 || result.RefreshTokens > 0 {
		s.logger.Debug("Swept expired records",
			"auth_codes", result.AuthCodes,
			"refresh_tokens", result.RefreshTokens)
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are
// logged and retried at the next tick. Returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}
