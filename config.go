package oauth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/signer"
)

// EnvPrefix is prepended to every configuration variable
const EnvPrefix = "OAUTH_ENGINE_"

// Storage engines selectable with OAUTH_ENGINE_STORAGE
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageValkey   = "valkey"
)

// Config holds the engine configuration. Every field can be set from the
// environment, see LoadConfig.
type Config struct {
	// Issuer is the iss claim of signed access tokens
	Issuer string `env:"ISSUER"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	// AuthCodeTTL values above 10 minutes are accepted but logged as a
	// misconfiguration
	AuthCodeTTL time.Duration `env:"AUTH_CODE_TTL" envDefault:"10m"`

	// EnabledGrants defaults to every grant except implicit
	EnabledGrants []string `env:"ENABLED_GRANTS" envSeparator:","`

	// SigningKey is base64 key material: an HMAC secret for HS256 or an
	// Ed25519 seed or private key for EdDSA
	SigningKey       string `env:"SIGNING_KEY"`
	SigningAlgorithm string `env:"SIGNING_ALGORITHM" envDefault:"HS256"`

	SupportedScopes []string `env:"SUPPORTED_SCOPES" envSeparator:"," envDefault:"existingPlugins"`
	RequirePKCE     bool     `env:"REQUIRE_PKCE"`

	Storage       string        `env:"STORAGE" envDefault:"memory"`
	DatabaseDSN   string        `env:"DATABASE_DSN"` // file path for sqlite
	ValkeyAddr    string        `env:"VALKEY_ADDR"`
	ValkeyPass    string        `env:"VALKEY_PASSWORD"`
	ValkeyDB      int           `env:"VALKEY_DB"`
	ValkeyPrefix  string        `env:"VALKEY_KEY_PREFIX"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit         int  `env:"RATE_LIMIT" envDefault:"10"`
	RateLimitBurst    int  `env:"RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy        bool `env:"TRUST_PROXY"`
	TrustedProxyCount int  `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`

	AuditLogging   bool `env:"AUDIT_LOGGING" envDefault:"true"`
	MetricsEnabled bool `env:"METRICS_ENABLED"`

	// UsersFile is the YAML users file backing the password grant
	UsersFile string `env:"USERS_FILE"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the configuration from OAUTH_ENGINE_* environment
// variables. Variables from dotenvFiles are loaded first without overriding
// the environment; missing files are ignored.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite, StoragePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%sDATABASE_DSN is required for %s storage", EnvPrefix, c.Storage)
		}
	case StorageValkey:
		if c.ValkeyAddr == "" {
			return fmt.Errorf("%sVALKEY_ADDR is required for valkey storage", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	switch c.SigningAlgorithm {
	case signer.AlgorithmHS256, signer.AlgorithmEdDSA:
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.SigningAlgorithm)
	}

	if c.RateLimit < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	return nil
}

// ServerConfig returns the grant engine part of the configuration.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:          c.Issuer,
		AccessTokenTTL:  c.AccessTokenTTL,
		RefreshTokenTTL: c.RefreshTokenTTL,
		AuthCodeTTL:     c.AuthCodeTTL,
		EnabledGrants:   c.EnabledGrants,
		SupportedScopes: c.SupportedScopes,
		RequirePKCE:     c.RequirePKCE,
	}
}

// HandlerConfig returns the HTTP part of the configuration.
func (c *Config) HandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		RateLimit:         c.RateLimit,
		RateLimitBurst:    c.RateLimitBurst,
		TrustProxy:        c.TrustProxy,
		TrustedProxyCount: c.TrustedProxyCount,
	}
}

// SlogLevel parses LogLevel, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
