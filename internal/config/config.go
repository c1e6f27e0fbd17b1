package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Idempotency backends
const (
	BackendDisabled = "disabled"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Storage     StorageConfig
	CORS        CORSConfig
	RateLimit   RateLimitConfig
}

type AppConfig struct {
	Name      string
	Env       string
	Port      string
	Debug     bool
	LogLevel  string
	LogFormat string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Timezone string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IdempotencyConfig struct {
	// Backend is one of disabled, memory, postgres, redis
	Backend         string
	Methods         []string
	ExcludedPaths   []string
	TTL             time.Duration
	LockTimeout     time.Duration
	BufferThreshold int64
	BufferDir       string
	JanitorInterval time.Duration
}

// StorageConfig selects where things are kept: memory or postgres
type StorageConfig struct {
	Backend string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type RateLimitConfig struct {
	Requests int
	Duration int
}

// Load reads .env and the environment
func Load() *Config {
	return LoadFrom(viper.New(), ".env")
}

// LoadFrom reads configuration from file (if it exists) and the environment into v
func LoadFrom(v *viper.Viper, file string) *Config {
	v.SetConfigFile(file)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config file not found, using environment variables", slog.String("file", file), slog.Any("error", err))
	}

	// Set defaults
	v.SetDefault("APP_NAME", "idempotency-api")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "idempotency")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDEMPOTENCY_BACKEND", BackendMemory)
	v.SetDefault("IDEMPOTENCY_METHODS", "POST,PATCH")
	v.SetDefault("IDEMPOTENCY_EXCLUDED_PATHS", "/relationships/")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_LOCK_TIMEOUT", "30s")
	v.SetDefault("IDEMPOTENCY_BUFFER_THRESHOLD", 30*1024)
	v.SetDefault("IDEMPOTENCY_BUFFER_DIR", "")
	v.SetDefault("IDEMPOTENCY_JANITOR_INTERVAL", "10m")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("CORS_ALLOWED_METHODS", "")
	v.SetDefault("CORS_ALLOWED_HEADERS", "")
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_DURATION", 60)

	return &Config{
		App: AppConfig{
			Name:      v.GetString("APP_NAME"),
			Env:       v.GetString("APP_ENV"),
			Port:      v.GetString("APP_PORT"),
			Debug:     v.GetBool("APP_DEBUG"),
			LogLevel:  v.GetString("LOG_LEVEL"),
			LogFormat: v.GetString("LOG_FORMAT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSL_MODE"),
			Timezone: v.GetString("DB_TIMEZONE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Idempotency: IdempotencyConfig{
			Backend:         strings.ToLower(v.GetString("IDEMPOTENCY_BACKEND")),
			Methods:         splitList(strings.ToUpper(v.GetString("IDEMPOTENCY_METHODS"))),
			ExcludedPaths:   splitList(v.GetString("IDEMPOTENCY_EXCLUDED_PATHS")),
			TTL:             v.GetDuration("IDEMPOTENCY_TTL"),
			LockTimeout:     v.GetDuration("IDEMPOTENCY_LOCK_TIMEOUT"),
			BufferThreshold: v.GetInt64("IDEMPOTENCY_BUFFER_THRESHOLD"),
			BufferDir:       v.GetString("IDEMPOTENCY_BUFFER_DIR"),
			JanitorInterval: v.GetDuration("IDEMPOTENCY_JANITOR_INTERVAL"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("STORAGE_BACKEND")),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			AllowedMethods: splitList(v.GetString("CORS_ALLOWED_METHODS")),
			AllowedHeaders: splitList(v.GetString("CORS_ALLOWED_HEADERS")),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
			Duration: v.GetInt("RATE_LIMIT_DURATION"),
		},
	}
}

// Validate reports settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Idempotency.Backend {
	case BackendDisabled, BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.Idempotency.Backend)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Idempotency.Backend != BackendDisabled && len(c.Idempotency.Methods) == 0 {
		return fmt.Errorf("IDEMPOTENCY_METHODS must not be empty")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Duration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_DURATION must be positive")
	}
	return nil
}

// NeedsPostgres reports whether any component is backed by Postgres
func (c *Config) NeedsPostgres() bool {
	return c.Idempotency.Backend == BackendPostgres || c.Storage.Backend == BackendPostgres
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.Timezone
}

// splitList parses a comma separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
