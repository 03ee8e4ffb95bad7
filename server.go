package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/providers/static"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/signer"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/storage/sqlstore"
	"github.com/giantswarm/oauth-engine/storage/valkey"
)

// Engine bundles a grant engine with its store, HTTP handler and sweeper,
// all built from one Config.
type Engine struct {
	Server  *server.Server
	Handler *Handler
	Store   storage.Store
	Sweeper *server.Sweeper

	closeStore func()
}

// EngineOptions are the collaborators NewEngine does not build from Config.
type EngineOptions struct {
	// Verifier backs the password grant. When nil, Config.UsersFile is loaded.
	Verifier providers.PasswordVerifier

	// Instrumentation defaults to a no-op instance
	Instrumentation *instrumentation.Instrumentation

	// Clock overrides the system clock of the server, signer and store
	Clock security.Clock

	Logger *slog.Logger
}

// NewEngine opens the configured store and wires the grant engine on top
// of it. Close releases the store.
func NewEngine(ctx context.Context, cfg *Config, opts EngineOptions) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := opts.Instrumentation
	if inst == nil {
		inst = instrumentation.NewNoop()
	}

	serverConfig := cfg.ServerConfig()
	serverConfig.Clock = opts.Clock

	verifier := opts.Verifier
	if verifier == nil && cfg.UsersFile != "" {
		users, err := static.Load(cfg.UsersFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded users file", "path", cfg.UsersFile, "users", users.Len())
		verifier = users
	}
	if verifier == nil && len(serverConfig.EnabledGrants) == 0 {
		// nobody could pass the password grant, so it is left off
		serverConfig.EnabledGrants = slices.DeleteFunc(slices.Clone(server.DefaultEnabledGrants), func(g string) bool {
			return g == server.GrantTypePassword
		})
		logger.Info("No users file configured, password grant disabled")
	}

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokenSigner, err := newSigner(cfg, opts.Clock, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	setStoreClock(store, opts.Clock)
	setStoreInstrumentation(store, inst)

	srv, err := server.New(store, tokenSigner, verifier, serverConfig, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.AuditLogging))

	return &Engine{
		Server:     srv,
		Handler:    NewHandler(srv, cfg.HandlerConfig(), logger),
		Store:      store,
		Sweeper:    server.NewSweeper(store, cfg.SweepInterval, logger),
		closeStore: closeStore,
	}, nil
}

// Close stops the handler's rate limiter and releases the store.
func (e *Engine) Close() {
	e.Handler.Close()
	e.closeStore()
}

// OpenStore opens the storage engine named by cfg.Storage. The returned
// func releases it.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Storage {
	case StorageMemory, "":
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Stop, nil

	case StorageSQLite, StoragePostgres:
		var (
			store *sqlstore.Store
			err   error
		)
		if cfg.Storage == StorageSQLite {
			store, err = sqlstore.OpenSQLite(ctx, cfg.DatabaseDSN)
		} else {
			store, err = sqlstore.OpenPostgres(ctx, cfg.DatabaseDSN)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage, err)
		}
		store.SetLogger(logger)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close storage", "storage", cfg.Storage, "error", err)
			}
		}, nil

	case StorageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.ValkeyAddr,
			Password:  cfg.ValkeyPass,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open valkey storage: %w", err)
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// newSigner builds the token signer. Without a configured key an ephemeral
// one is generated, which is only acceptable for in-memory storage: tokens
// would not survive a restart anyway.
func newSigner(cfg *Config, clock security.Clock, logger *slog.Logger) (*signer.Signer, error) {
	algorithm := cfg.SigningAlgorithm
	if algorithm == "" {
		algorithm = signer.AlgorithmHS256
	}

	key := cfg.SigningKey
	if key == "" {
		if cfg.Storage != StorageMemory && cfg.Storage != "" {
			return nil, fmt.Errorf("%sSIGNING_KEY is required for %s storage", EnvPrefix, cfg.Storage)
		}
		generated, err := signer.GenerateKey(algorithm)
		if err != nil {
			return nil, err
		}
		logger.Warn("No signing key configured, using an ephemeral key", "algorithm", algorithm)
		key = generated
	}

	s, err := signer.NewFromBase64(algorithm, key, cfg.Issuer, clock)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return s, nil
}

func setStoreClock(store storage.Store, clock security.Clock) {
	if clock == nil {
		return
	}
	if s, ok := store.(interface{ SetClock(security.Clock) }); ok {
		s.SetClock(clock)
	}
}

func setStoreInstrumentation(store storage.Store, inst *instrumentation.Instrumentation) {
	if s, ok := store.(interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}); ok {
		s.SetInstrumentation(inst)
	}
}
