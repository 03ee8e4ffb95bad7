package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

const storageType = "memory"

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients           map[string]*storage.Client // ID -> client
	clientsByPublicID map[string]string          // public identifier -> ID

	authCodes map[string]*storage.AuthCode // identifier -> code

	accessTokens             map[string]*storage.AccessToken // ID -> token
	accessTokensByIdentifier map[string]string               // identifier -> ID
	retiredIdentifiers       map[string]struct{}             // every access token identifier ever issued

	refreshTokens        map[string]*storage.RefreshToken // identifier -> token
	refreshByAccessToken map[string]string                // access token ID -> refresh identifier

	revoker storage.Revoker
	clock   security.Clock
	logger  *slog.Logger

	instrumentation atomic.Pointer[instrumentation.Instrumentation]

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount       atomic.Int64
	authCodesCount     atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Revoker = (*Store)(nil)

	_ storage.ExpiredRefreshTokenDeleter = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:                  make(map[string]*storage.Client),
		clientsByPublicID:        make(map[string]string),
		authCodes:                make(map[string]*storage.AuthCode),
		accessTokens:             make(map[string]*storage.AccessToken),
		accessTokensByIdentifier: make(map[string]string),
		retiredIdentifiers:       make(map[string]struct{}),
		refreshTokens:            make(map[string]*storage.RefreshToken),
		refreshByAccessToken:     make(map[string]string),
		clock:                    security.SystemClock,
		logger:                   slog.Default(),
		cleanupInterval:          cleanupInterval,
		stopCleanup:              make(chan struct{}),
	}
	s.revoker = s

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for expiries
func (s *Store) SetClock(clock security.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = security.ClockOrDefault(clock)
}

// SetRevoker replaces the revoker invoked when a client is deleted.
// A nil revoker restores the store's own implementation.
func (s *Store) SetRevoker(r storage.Revoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = s
	}
	s.revoker = r
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation.Store(inst)
	if inst == nil {
		return
	}

	s.mu.Lock()
	s.syncCounters()
	s.mu.Unlock()

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizes{
		Clients:       s.clientsCount.Load,
		AuthCodes:     s.authCodesCount.Load,
		AccessTokens:  s.accessTokensCount.Load,
		RefreshTokens: s.refreshTokensCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// startOp opens a traced storage operation
func (s *Store) startOp(ctx context.Context, operation string) (context.Context, *instrumentation.StorageOp) {
	return instrumentation.StartStorageOp(ctx, s.instrumentation.Load(), storageType, operation)
}

// syncCounters refreshes the size gauges. Caller holds s.mu.
func (s *Store) syncCounters() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
}

// now reads the clock. Caller holds s.mu (read or write).
func (s *Store) now() time.Time {
	return s.clock.Now()
}

func newID() string {
	return uuid.NewString()
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired authorization codes and refresh tokens. Expired
// access tokens are kept so revocation and lookups keep working.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	codes := s.deleteExpiredAuthCodesLocked(now)

	refresh := s.deleteExpiredRefreshTokensLocked(now)

	s.syncCounters()

	if codes > 0 || refresh > 0 {
		s.logger.Debug("Cleaned up expired records",
			"auth_codes", codes,
			"refresh_tokens", refresh)
	}
}
