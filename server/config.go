package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
)

// Grant types (RFC 6749)
const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeImplicit          = "implicit"
)

// Default lifetimes
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultAuthCodeTTL     = 10 * time.Minute

	// MaxRecommendedAuthCodeTTL is the longest code lifetime accepted without
	// a misconfiguration warning (RFC 6749 section 4.1.2)
	MaxRecommendedAuthCodeTTL = 10 * time.Minute
)

// AllGrantTypes lists every grant the engine implements.
var AllGrantTypes = []string{
	GrantTypeClientCredentials,
	GrantTypePassword,
	GrantTypeAuthorizationCode,
	GrantTypeRefreshToken,
	GrantTypeImplicit,
}

// DefaultEnabledGrants is every grant except the legacy implicit grant.
var DefaultEnabledGrants = []string{
	GrantTypeClientCredentials,
	GrantTypePassword,
	GrantTypeAuthorizationCode,
	GrantTypeRefreshToken,
}

// Config holds token engine configuration
type Config struct {
	// Issuer identifies this server in log lines and, through the signer, in
	// the iss claim
	Issuer string

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL time.Duration // default: 1 hour

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL time.Duration // default: 30 days

	// AuthCodeTTL is how long authorization codes are valid.
	// Values above MaxRecommendedAuthCodeTTL are accepted with a warning.
	AuthCodeTTL time.Duration // default: 10 minutes

	// EnabledGrants lists the grant types this deployment accepts
	// Default: DefaultEnabledGrants (implicit is off)
	EnabledGrants []string

	// SupportedScopes lists every scope the deployment knows
	// Default: ["existingPlugins"]
	SupportedScopes []string

	// RequirePKCE makes a code challenge mandatory for confidential clients
	// too. Public clients always need one.
	RequirePKCE bool // default: false

	// Clock is the time source for expiry re-checks (default: system clock)
	Clock security.Clock
}

// applyDefaults fills unset values and validates the rest.
func applyDefaults(config *Config, logger *slog.Logger) (*Config, error) {
	cfg := *config

	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if cfg.AuthCodeTTL == 0 {
		cfg.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if cfg.AccessTokenTTL < 0 || cfg.RefreshTokenTTL < 0 || cfg.AuthCodeTTL < 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}

	if len(cfg.EnabledGrants) == 0 {
		cfg.EnabledGrants = append([]string(nil), DefaultEnabledGrants...)
	}
	for _, g := range cfg.EnabledGrants {
		if !isKnownGrant(g) {
			return nil, fmt.Errorf("unknown grant type %q", g)
		}
	}

	if len(cfg.SupportedScopes) == 0 {
		cfg.SupportedScopes = []string{string(scope.ExistingPlugins)}
	}

	cfg.Clock = security.ClockOrDefault(cfg.Clock)

	logConfigWarnings(&cfg, logger)
	return &cfg, nil
}

// logConfigWarnings logs settings that are accepted but probably wrong
func logConfigWarnings(config *Config, logger *slog.Logger) {
	if config.AuthCodeTTL > MaxRecommendedAuthCodeTTL {
		logger.Warn("CONFIGURATION WARNING: authorization code lifetime is unusually long",
			"auth_code_ttl", config.AuthCodeTTL,
			"recommended_max", MaxRecommendedAuthCodeTTL,
			"risk", "Leaked codes stay redeemable for longer",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
	}
	if config.isGrantEnabled(GrantTypeImplicit) {
		logger.Warn("SECURITY WARNING: implicit grant is ENABLED",
			"risk", "Access tokens are exposed in redirect URIs and browser history",
			"recommendation", "Use the authorization code grant with PKCE",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc9700#section-2.1.2")
	}
	if config.RefreshTokenTTL < config.AccessTokenTTL {
		logger.Warn("CONFIGURATION WARNING: refresh tokens expire before access tokens",
			"access_token_ttl", config.AccessTokenTTL,
			"refresh_token_ttl", config.RefreshTokenTTL)
	}
}

func (c *Config) isGrantEnabled(grantType string) bool {
	for _, g := range c.EnabledGrants {
		if g == grantType {
			return true
		}
	}
	return false
}

func isKnownGrant(grantType string) bool {
	for _, g := range AllGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}
