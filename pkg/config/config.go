// Package config loads process-level configuration from environment
// variables. Conference-scoped settings (provider credentials, webhook
// URLs) live in pkg/conference and are resolved per tenant, not here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Tokens        TokenConfig
	Retry         RetryConfig
	Observability ObservabilityConfig

	// SkipInit disables warming every conference at startup.
	SkipInit bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	// Type is "postgres" or "memory".
	Type string

	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures presence storage. An empty Addr disables
// presence tracking.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// CacheConfig bounds the in-process caches.
type CacheConfig struct {
	ConferenceSize int
	ConferenceTTL  time.Duration
	ConfigSize     int
	ConfigTTL      time.Duration
	ClientSize     int
	RoleSize       int
	RoleTTL        time.Duration
}

// TokenConfig sets provider access-token lifetimes.
type TokenConfig struct {
	ChatTTL  time.Duration
	VideoTTL time.Duration
}

// RetryConfig configures the provider rate-limit retry policy.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	ServiceName    string
	ServiceVersion string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GREENROOM_HOST", "0.0.0.0"),
			Port:            getEnv("GREENROOM_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GREENROOM_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GREENROOM_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("GREENROOM_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GREENROOM_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Type:            getEnv("GREENROOM_STORAGE_TYPE", "postgres"),
			PostgresURL:     getEnv("GREENROOM_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("GREENROOM_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("GREENROOM_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("GREENROOM_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:        getEnv("GREENROOM_REDIS_ADDR", ""),
			Password:    getEnv("GREENROOM_REDIS_PASSWORD", ""),
			DB:          getEnvInt("GREENROOM_REDIS_DB", 0),
			PresenceTTL: getEnvDuration("GREENROOM_PRESENCE_TTL", 5*time.Minute),
		},
		Cache: CacheConfig{
			ConferenceSize: getEnvInt("GREENROOM_CONFERENCE_CACHE_SIZE", 128),
			ConferenceTTL:  getEnvDuration("GREENROOM_CONFERENCE_CACHE_TTL", 5*time.Minute),
			ConfigSize:     getEnvInt("GREENROOM_CONFIG_CACHE_SIZE", 128),
			ConfigTTL:      getEnvDuration("GREENROOM_CONFIG_CACHE_TTL", time.Minute),
			ClientSize:     getEnvInt("GREENROOM_CLIENT_CACHE_SIZE", 128),
			RoleSize:       getEnvInt("GREENROOM_ROLE_CACHE_SIZE", 512),
			RoleTTL:        getEnvDuration("GREENROOM_ROLE_CACHE_TTL", 5*time.Minute),
		},
		Tokens: TokenConfig{
			ChatTTL:  getEnvDuration("GREENROOM_CHAT_TOKEN_TTL", 3*time.Hour),
			VideoTTL: getEnvDuration("GREENROOM_VIDEO_TOKEN_TTL", time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvInt("GREENROOM_RETRY_MAX_ATTEMPTS", 5),
			InitialDelay: getEnvDuration("GREENROOM_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:     getEnvDuration("GREENROOM_RETRY_MAX_DELAY", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("GREENROOM_LOG_LEVEL", "info"),
			LogFormat:      getEnv("GREENROOM_LOG_FORMAT", "json"),
			MetricsEnabled: getEnvBool("GREENROOM_METRICS_ENABLED", true),
			ServiceName:    getEnv("GREENROOM_SERVICE_NAME", "greenroom"),
			ServiceVersion: getEnv("GREENROOM_SERVICE_VERSION", "dev"),
		},
		SkipInit: getEnvBool("GREENROOM_SKIP_INIT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	if c.Cache.ConferenceSize <= 0 || c.Cache.ConfigSize <= 0 || c.Cache.ClientSize <= 0 || c.Cache.RoleSize <= 0 {
		return fmt.Errorf("cache sizes must be positive")
	}
	if c.Tokens.ChatTTL <= 0 || c.Tokens.VideoTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
