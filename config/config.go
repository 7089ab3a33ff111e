// Package config loads the service configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

// Storage backends.
const (
	BackendTable    = "table"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// PathEnvVar overrides the location of the YAML config file.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched when CONFIG_PATH is not set.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Store  StoreConfig  `koanf:"store"`
	Redis  RedisConfig  `koanf:"redis"`
	Events EventsConfig `koanf:"events"`
	Auth   AuthConfig   `koanf:"auth"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	BodyLimit       string        `koanf:"body_limit"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Heartbeat       time.Duration `koanf:"heartbeat"`
	// RateLimit is the sustained requests per second allowed per user.
	// Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Debug  bool   `koanf:"debug"`
}

type StoreConfig struct {
	Backend          string `koanf:"backend"`
	ConnectionString string `koanf:"connection_string"`
	Table            string `koanf:"table"`
	PostgresDSN      string `koanf:"postgres_dsn"`
}

// RedisConfig enables the read cache and cross-instance event fan-out when
// a connection string is present.
type RedisConfig struct {
	ConnectionString string        `koanf:"connection_string"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
	EventsChannel    string        `koanf:"events_channel"`
	IdempotencyTTL   time.Duration `koanf:"idempotency_ttl"`
}

// EventsConfig names the Azure queue that receives change events. Empty
// disables the queue publisher.
type EventsConfig struct {
	Queue string `koanf:"queue"`
	// BreakerFailures consecutive publish failures open the circuit for
	// BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type AuthConfig struct {
	Domain       string        `koanf:"domain"`
	Audience     string        `koanf:"audience"`
	TestMode     bool          `koanf:"test_mode"`
	TestSecret   string        `koanf:"test_secret"`
	JWKSCacheTTL time.Duration `koanf:"jwks_cache_ttl"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			BodyLimit:       "1M",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			Heartbeat:       30 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: BackendTable,
			Table:   "Boards",
		},
		Redis: RedisConfig{
			CacheTTL:       5 * time.Minute,
			EventsChannel:  "board-events",
			IdempotencyTTL: 24 * time.Hour,
		},
		Events: EventsConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Auth: AuthConfig{
			JWKSCacheTTL: 15 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitList turns a comma separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok || raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

var envMappings = map[string]string{
	"functions_customhandler_port": "server.port",
	"body_limit":                   "server.body_limit",
	"cors_origins":                 "server.cors_origins",
	"shutdown_timeout":             "server.shutdown_timeout",
	"stream_heartbeat":             "server.heartbeat",
	"rate_limit":                   "server.rate_limit",
	"rate_burst":                   "server.rate_burst",

	"debug":      "log.debug",
	"log_level":  "log.level",
	"log_format": "log.format",

	"storage_backend":           "store.backend",
	"storage_connection_string": "store.connection_string",
	"boards_table":              "store.table",
	"database_url":              "store.postgres_dsn",

	"redis_connection_string": "redis.connection_string",
	"cache_ttl":               "redis.cache_ttl",
	"events_channel":          "redis.events_channel",
	"idempotency_ttl":         "redis.idempotency_ttl",

	"events_queue":            "events.queue",
	"events_breaker_failures": "events.breaker_failures",
	"events_breaker_timeout":  "events.breaker_timeout",

	"auth0_domain":    "auth.domain",
	"auth0_audience":  "auth.audience",
	"auth0_test_mode": "auth.test_mode",
	"test_jwt_secret": "auth.test_secret",
	"jwks_cache_ttl":  "auth.jwks_cache_ttl",
}

// envTransformFunc maps the environment variable names used by the
// deployment scripts to config paths. Unknown variables are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate rejects incomplete backend and auth settings.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("FUNCTIONS_CUSTOMHANDLER_PORT must not be empty")
	}
	if c.Server.Heartbeat <= 0 {
		return fmt.Errorf("STREAM_HEARTBEAT must be positive")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT must not be negative and needs a positive RATE_BURST")
	}
	if c.Events.BreakerFailures == 0 || c.Events.BreakerTimeout <= 0 {
		return fmt.Errorf("EVENTS_BREAKER_FAILURES and EVENTS_BREAKER_TIMEOUT must be positive")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Events.Queue != "" && c.Store.ConnectionString == "" {
		return fmt.Errorf("STORAGE_CONNECTION_STRING is required when EVENTS_QUEUE is set")
	}
	if c.Redis.CacheTTL < 0 || c.Redis.IdempotencyTTL < 0 {
		return fmt.Errorf("redis TTLs must not be negative")
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	return c.validateLog()
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendTable:
		if c.Store.ConnectionString == "" {
			return fmt.Errorf("STORAGE_CONNECTION_STRING is required for the table backend")
		}
		if c.Store.Table == "" {
			return fmt.Errorf("BOARDS_TABLE must not be empty")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want table, postgres or memory)", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			return fmt.Errorf("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return nil
	}
	if c.Auth.Domain == "" || c.Auth.Audience == "" {
		return fmt.Errorf("missing Auth0 config: AUTH0_DOMAIN and AUTH0_AUDIENCE are required")
	}
	if c.Auth.JWKSCacheTTL <= 0 {
		return fmt.Errorf("invalid JWKS_CACHE_TTL")
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	switch c.Log.Format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (want json or text)", c.Log.Format)
	}
}

// Apply configures logger according to the log settings. DEBUG=true wins
// over LOG_LEVEL.
func (c LogConfig) Apply(logger *log.Logger) {
	if c.Format == "text" {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
		return
	}
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		logger.SetLevel(lvl)
	}
}

// JWKSURL is the Auth0 key set location for the configured tenant.
func (c AuthConfig) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Domain)
}

// Issuer is the expected token issuer.
func (c AuthConfig) Issuer() string {
	return "https://" + c.Domain + "/"
}
