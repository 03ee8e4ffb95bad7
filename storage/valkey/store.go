package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth-engine:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// sizeQueryTimeout bounds the cardinality queries behind the size gauges
	sizeQueryTimeout = 2 * time.Second

	storageType = "valkey"
)

// Script results shared by the Lua scripts
const (
	resultOK        = "OK"
	resultNotFound  = "NOT_FOUND"
	resultExpired   = "EXPIRED"
	resultCollision = "COLLISION"
	resultDuplicate = "DUPLICATE"
	resultRevoked   = "REVOKED"
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth-engine:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock is the time source for expiries (default: system clock)
	Clock security.Clock
}

// Store is a Valkey-backed implementation of storage.Store.
type Store struct {
	client valkeygo.Client
	prefix string

	mu      sync.RWMutex
	revoker storage.Revoker
	clock   security.Clock
	logger  *slog.Logger

	instrumentation atomic.Pointer[instrumentation.Instrumentation]
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Revoker = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Build client options
	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	s := &Store{
		client: client,
		prefix: prefix,
		clock:  security.ClockOrDefault(cfg.Clock),
		logger: logger,
	}
	s.revoker = s
	return s, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.log().Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
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

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// Client and authorization code counts are reported; token counts would
// need a keyspace scan and are left out.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation.Store(inst)
	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizes{
		Clients: s.sizeCallback(func() valkeygo.Completed {
			return s.client.B().Scard().Key(s.clientsKey()).Build()
		}),
		AuthCodes: s.sizeCallback(func() valkeygo.Completed {
			return s.client.B().Zcard().Key(s.codeExpiryKey()).Build()
		}),
	})
	if err != nil {
		s.log().Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) sizeCallback(cmd func() valkeygo.Completed) instrumentation.StorageSizeCallback {
	return func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), sizeQueryTimeout)
		defer cancel()
		n, err := s.client.Do(ctx, cmd()).AsInt64()
		if err != nil {
			return 0
		}
		return n
	}
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, *instrumentation.StorageOp) {
	return instrumentation.StartStorageOp(ctx, s.instrumentation.Load(), storageType, operation)
}

func (s *Store) now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now()
}

func (s *Store) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Store) currentRevoker() storage.Revoker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoker
}

// eval runs a Lua script and returns its string result
func (s *Store) eval(ctx context.Context, script string, keys []string, args ...string) (string, error) {
	return s.client.Do(ctx,
		s.client.B().Eval().Script(script).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).ToString()
}

// evalInt runs a Lua script that returns an integer
func (s *Store) evalInt(ctx context.Context, script string, keys []string, args ...string) (int64, error) {
	return s.client.Do(ctx,
		s.client.B().Eval().Script(script).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).AsInt64()
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{id}
func (s *Store) clientKey(id string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, id)
}

// clientPublicKey returns the public identifier lookup: {prefix}client:pub:{publicID}
func (s *Store) clientPublicKey(publicID string) string {
	return fmt.Sprintf("%sclient:pub:%s", s.prefix, publicID)
}

// clientsKey returns the set of all client IDs: {prefix}clients
func (s *Store) clientsKey() string {
	return s.prefix + "clients"
}

// clientCodesKey returns the set of a client's codes: {prefix}client:codes:{clientID}
func (s *Store) clientCodesKey(clientID string) string {
	return fmt.Sprintf("%sclient:codes:%s", s.prefix, clientID)
}

// clientTokensKey returns the set of a client's access tokens: {prefix}client:tokens:{clientID}
func (s *Store) clientTokensKey(clientID string) string {
	return fmt.Sprintf("%sclient:tokens:%s", s.prefix, clientID)
}

// codeKey returns the key for an authorization code: {prefix}code:{identifier}
func (s *Store) codeKey(identifier string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, identifier)
}

// codeExpiryKey returns the code expiry index: {prefix}codes:expiry
func (s *Store) codeExpiryKey() string {
	return s.prefix + "codes:expiry"
}

// accessTokenKey returns the hash of an access token: {prefix}at:{id}
func (s *Store) accessTokenKey(id string) string {
	return fmt.Sprintf("%sat:%s", s.prefix, id)
}

// accessTokenIdentKey returns the identifier lookup: {prefix}at:ident:{identifier}
func (s *Store) accessTokenIdentKey(identifier string) string {
	return fmt.Sprintf("%sat:ident:%s", s.prefix, identifier)
}

// retiredKey returns the reservation of an identifier: {prefix}retired:{identifier}
func (s *Store) retiredKey(identifier string) string {
	return fmt.Sprintf("%sretired:%s", s.prefix, identifier)
}

// refreshTokenKey returns the key for a refresh token: {prefix}rt:{identifier}
func (s *Store) refreshTokenKey(identifier string) string {
	return fmt.Sprintf("%srt:%s", s.prefix, identifier)
}

// refreshIndexKey returns the refresh token lookup of an access token: {prefix}rt:at:{accessTokenID}
func (s *Store) refreshIndexKey(accessTokenID string) string {
	return fmt.Sprintf("%srt:at:%s", s.prefix, accessTokenID)
}

// ============================================================
// Helper functions
// ============================================================

func newID() string {
	return uuid.NewString()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func millisArg(value time.Time) string {
	return strconv.FormatInt(toMillis(value), 10)
}

// ttlMillis converts a TTL to a PX argument. Valkey rejects PX 0.
func ttlMillis(ttl time.Duration) string {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
