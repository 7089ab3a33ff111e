package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// clearEnv unsets every mapped variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envMappings {
		name := strings.ToUpper(key)
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv(PathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Heartbeat != 30*time.Second {
		t.Errorf("Server.Heartbeat = %v, want 30s", cfg.Server.Heartbeat)
	}
	if cfg.Store.Backend != BackendTable || cfg.Store.Table != "Boards" {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Redis.EventsChannel != "board-events" {
		t.Errorf("Redis.EventsChannel = %q", cfg.Redis.EventsChannel)
	}
	if cfg.Auth.JWKSCacheTTL != 15*time.Minute {
		t.Errorf("Auth.JWKSCacheTTL = %v, want 15m", cfg.Auth.JWKSCacheTTL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "secret")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("EVENTS_QUEUE", "board-events")
	t.Setenv("RATE_LIMIT", "2.5")
	t.Setenv("EVENTS_BREAKER_TIMEOUT", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7071" {
		t.Errorf("Server.Port = %q, want 7071", cfg.Server.Port)
	}
	if cfg.Store.ConnectionString != "UseDevelopmentStorage=true" {
		t.Errorf("Store.ConnectionString = %q", cfg.Store.ConnectionString)
	}
	if !cfg.Auth.TestMode || cfg.Auth.TestSecret != "secret" {
		t.Errorf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Redis.CacheTTL != 90*time.Second {
		t.Errorf("Redis.CacheTTL = %v, want 90s", cfg.Redis.CacheTTL)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins: %#v", cfg.Server.CORSOrigins)
	}
	if cfg.Events.Queue != "board-events" {
		t.Errorf("Events.Queue = %q", cfg.Events.Queue)
	}
	if cfg.Server.RateLimit != 2.5 || cfg.Server.RateBurst != 40 {
		t.Errorf("unexpected rate limit: %v/%d", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	if cfg.Events.BreakerTimeout != time.Minute || cfg.Events.BreakerFailures != 5 {
		t.Errorf("unexpected breaker config: %+v", cfg.Events)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9000"
log:
  format: text
  level: warn
store:
  backend: memory
auth:
  test_mode: true
  test_secret: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(PathEnvVar, path)
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("env should override file, got port %q", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "warn" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Auth.TestSecret != "from-file" {
		t.Errorf("Auth.TestSecret = %q", cfg.Auth.TestSecret)
	}
	if cfg.Redis.CacheTTL != 5*time.Minute {
		t.Errorf("defaults should survive, got CacheTTL %v", cfg.Redis.CacheTTL)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "memory")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "AUTH0_DOMAIN") {
		t.Fatalf("expected missing auth error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Store.Backend = BackendMemory
		cfg.Auth.Domain = "tenant.auth0.com"
		cfg.Auth.Audience = "api://taskboard"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "table needs connection", mutate: func(c *Config) { c.Store.Backend = BackendTable }, wantErr: "STORAGE_CONNECTION_STRING"},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, wantErr: "DATABASE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "sqlite" }, wantErr: "unknown STORAGE_BACKEND"},
		{name: "queue needs connection", mutate: func(c *Config) { c.Events.Queue = "events" }, wantErr: "EVENTS_QUEUE"},
		{name: "test mode needs secret", mutate: func(c *Config) { c.Auth.TestMode = true }, wantErr: "TEST_JWT_SECRET"},
		{name: "bad jwks ttl", mutate: func(c *Config) { c.Auth.JWKSCacheTTL = 0 }, wantErr: "JWKS_CACHE_TTL"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "LOG_LEVEL"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "negative ttl", mutate: func(c *Config) { c.Redis.CacheTTL = -time.Second }, wantErr: "TTL"},
		{name: "rate limit without burst", mutate: func(c *Config) { c.Server.RateBurst = 0 }, wantErr: "RATE_BURST"},
		{name: "rate limit disabled", mutate: func(c *Config) { c.Server.RateLimit, c.Server.RateBurst = 0, 0 }},
		{name: "breaker needs threshold", mutate: func(c *Config) { c.Events.BreakerFailures = 0 }, wantErr: "EVENTS_BREAKER_FAILURES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogConfigApply(t *testing.T) {
	logger := log.New()

	LogConfig{Level: "warn", Format: "text"}.Apply(logger)
	if logger.GetLevel() != log.WarnLevel {
		t.Fatalf("expected warn level, got %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.TextFormatter); !ok {
		t.Fatalf("expected text formatter, got %T", logger.Formatter)
	}

	LogConfig{Level: "warn", Format: "json", Debug: true}.Apply(logger)
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("DEBUG should force debug level, got %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", logger.Formatter)
	}
}

func TestAuthConfigURLs(t *testing.T) {
	a := AuthConfig{Domain: "tenant.auth0.com"}
	if a.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url: %s", a.JWKSURL())
	}
	if a.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected issuer: %s", a.Issuer())
	}
}
