package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/signer"
	"github.com/giantswarm/oauth-engine/storage"
)

// TokenSigner turns access-token records into bearer strings and back.
// *signer.Signer implements it.
type TokenSigner interface {
	Sign(token *storage.AccessToken) (string, error)
	Verify(bearer string) (*signer.Claims, error)
}

var _ TokenSigner = (*signer.Signer)(nil)

// Server implements the grant dispatcher.
// It coordinates the grants using a storage.Store, a TokenSigner and an
// optional PasswordVerifier.
type Server struct {
	store    storage.Store
	signer   TokenSigner
	verifier providers.PasswordVerifier
	scopes   *scope.Registry

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new grant dispatcher. verifier may be nil unless the
// password grant is enabled.
func New(
	store storage.Store,
	tokenSigner TokenSigner,
	verifier providers.PasswordVerifier,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tokenSigner == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := applyDefaults(config, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.isGrantEnabled(GrantTypePassword) && verifier == nil {
		return nil, fmt.Errorf("a password verifier is required when the %s grant is enabled", GrantTypePassword)
	}

	return &Server{
		store:           store,
		signer:          tokenSigner,
		verifier:        verifier,
		scopes:          scope.NewRegistry(scope.FromStrings(cfg.SupportedScopes)...),
		Instrumentation: instrumentation.NewNoop(),
		Logger:          logger,
		Config:          cfg,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets OpenTelemetry instrumentation. A nil value
// restores no-op instrumentation.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		inst = instrumentation.NewNoop()
	}
	s.Instrumentation = inst
}

// Store returns the store the server operates on.
func (s *Server) Store() storage.Store {
	return s.store
}

// Scopes returns the registry of supported scopes.
func (s *Server) Scopes() *scope.Registry {
	return s.scopes
}

func (s *Server) now() time.Time {
	return s.Config.Clock.Now()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.Instrumentation.Tracer("server").Start(ctx, name)
}

func (s *Server) metrics() *instrumentation.Metrics {
	return s.Instrumentation.Metrics()
}
