package oauth

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/server"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.AccessTokenTTL != time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 1h", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 30*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 720h", cfg.RefreshTokenTTL)
	}
	if cfg.AuthCodeTTL != 10*time.Minute {
		t.Errorf("AuthCodeTTL = %v, want 10m", cfg.AuthCodeTTL)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("Storage = %q, want memory", cfg.Storage)
	}
	if len(cfg.SupportedScopes) != 1 || cfg.SupportedScopes[0] != "existingPlugins" {
		t.Errorf("SupportedScopes = %v, want [existingPlugins]", cfg.SupportedScopes)
	}
	if cfg.SigningAlgorithm != "HS256" {
		t.Errorf("SigningAlgorithm = %q, want HS256", cfg.SigningAlgorithm)
	}
	if len(cfg.EnabledGrants) != 0 {
		t.Errorf("EnabledGrants = %v, want server defaults", cfg.EnabledGrants)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("OAUTH_ENGINE_ISSUER", "https://auth.example.com")
	t.Setenv("OAUTH_ENGINE_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("OAUTH_ENGINE_ENABLED_GRANTS", "client_credentials,refresh_token")
	t.Setenv("OAUTH_ENGINE_SUPPORTED_SCOPES", "existingPlugins,publishPlugins")
	t.Setenv("OAUTH_ENGINE_STORAGE", "sqlite")
	t.Setenv("OAUTH_ENGINE_DATABASE_DSN", "/var/lib/oauth-engine/engine.db")
	t.Setenv("OAUTH_ENGINE_TRUST_PROXY", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Issuer != "https://auth.example.com" || cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("unexpected config %+v", cfg)
	}
	if strings.Join(cfg.EnabledGrants, " ") != "client_credentials refresh_token" {
		t.Errorf("EnabledGrants = %v", cfg.EnabledGrants)
	}
	if !cfg.TrustProxy || !cfg.HandlerConfig().TrustProxy {
		t.Error("TrustProxy not applied")
	}

	sc := cfg.ServerConfig()
	if sc.AccessTokenTTL != 15*time.Minute || len(sc.SupportedScopes) != 2 {
		t.Errorf("ServerConfig() = %+v", sc)
	}
	if sc.EnabledGrants[0] != server.GrantTypeClientCredentials {
		t.Errorf("ServerConfig().EnabledGrants = %v", sc.EnabledGrants)
	}
}

func TestLoadConfigDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OAUTH_ENGINE_AUTH_CODE_TTL=5m\nOAUTH_ENGINE_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// the real environment wins over the file
	t.Setenv("OAUTH_ENGINE_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("OAUTH_ENGINE_AUTH_CODE_TTL") })

	cfg, err := LoadConfig(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.AuthCodeTTL != 5*time.Minute {
		t.Errorf("AuthCodeTTL = %v, want 5m", cfg.AuthCodeTTL)
	}
	if cfg.SlogLevel() != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, want warn", cfg.SlogLevel())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown storage", map[string]string{"OAUTH_ENGINE_STORAGE": "mongo"}, "unknown storage"},
		{"sqlite without dsn", map[string]string{"OAUTH_ENGINE_STORAGE": "sqlite"}, "DATABASE_DSN"},
		{"postgres without dsn", map[string]string{"OAUTH_ENGINE_STORAGE": "postgres"}, "DATABASE_DSN"},
		{"valkey without address", map[string]string{"OAUTH_ENGINE_STORAGE": "valkey"}, "VALKEY_ADDR"},
		{"unknown algorithm", map[string]string{"OAUTH_ENGINE_SIGNING_ALGORITHM": "none"}, "signing algorithm"},
		{"negative rate limit", map[string]string{"OAUTH_ENGINE_RATE_LIMIT": "-1"}, "rate limit"},
		{"malformed duration", map[string]string{"OAUTH_ENGINE_ACCESS_TOKEN_TTL": "soon"}, "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevelFallback(t *testing.T) {
	cfg := &Config{LogLevel: "chatty"}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("SlogLevel() = %v, want info", cfg.SlogLevel())
	}
}
