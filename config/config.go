// Package config loads runtime settings from a .env file and the
// environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
)

var httpURL = regexp.MustCompile(`^https?://[^\s/]+`)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config aggregates runtime configuration.
type Config struct {
	App      AppConfig
	Supabase SupabaseConfig
	Session  SessionConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
}

// AppConfig controls the HTTP server.
type AppConfig struct {
	Addr                  string
	RequestTimeoutSeconds int
}

// SupabaseConfig points at the hosted project.
type SupabaseConfig struct {
	URL string
	Key string
}

// SessionConfig selects where the session is persisted.
type SessionConfig struct {
	Store                string
	StorageKey           string
	SQLiteDSN            string
	AutoRefresh          bool
	RefreshMarginSeconds int
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret     string
	JWKSURL       string
	SigningMethod string
	ContextKey    string
	TokenLookup   string
	AuthScheme    string
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Addr:                  getEnv("HTTP_ADDR", ":8080"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Supabase: SupabaseConfig{
			URL: os.Getenv("SUPABASE_URL"),
			Key: os.Getenv("SUPABASE_KEY"),
		},
		Session: SessionConfig{
			Store:                strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			StorageKey:           getEnv("SESSION_STORAGE_KEY", "sb-auth-token"),
			SQLiteDSN:            getEnv("SQLITE_DSN", "file:authsession.db?cache=shared"),
			AutoRefresh:          getEnvAsBool("AUTH_AUTO_REFRESH", true),
			RefreshMarginSeconds: getEnvAsInt("AUTH_REFRESH_MARGIN_SECONDS", 90),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("SUPABASE_JWT_SECRET"),
			JWKSURL:       os.Getenv("SUPABASE_JWKS_URL"),
			SigningMethod: getEnv("AUTH_SIGNING_METHOD", "HS256"),
			ContextKey:    getEnv("AUTH_CONTEXT_KEY", "user"),
			TokenLookup:   getEnv("AUTH_TOKEN_LOOKUP", "header:Authorization"),
			AuthScheme:    getEnv("AUTH_SCHEME", "Bearer"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports settings that make the service unusable. The signing
// method only applies to a shared secret.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Supabase,
		validation.Field(&c.Supabase.URL, validation.Required, validation.Match(httpURL).Error("must be an http(s) URL")),
		validation.Field(&c.Supabase.Key, validation.Required),
	); err != nil {
		return fmt.Errorf("supabase config: %w", err)
	}

	if err := validation.ValidateStruct(&c.Session,
		validation.Field(&c.Session.Store, validation.In(StoreMemory, StoreSQLite, StoreRedis)),
		validation.Field(&c.Session.RefreshMarginSeconds, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	return validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.SigningMethod, validation.In("HS256", "HS384", "HS512")),
	)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// RefreshMargin returns how long before expiry the session is refreshed.
func (s SessionConfig) RefreshMargin() time.Duration {
	return time.Duration(s.RefreshMarginSeconds) * time.Second
}

func (a AuthConfig) GetSigningKey() string    { return a.JWTSecret }
func (a AuthConfig) GetSigningMethod() string { return a.SigningMethod }
func (a AuthConfig) GetJWKSURL() string       { return a.JWKSURL }
func (a AuthConfig) GetContextKey() string    { return a.ContextKey }
func (a AuthConfig) GetTokenLookup() string   { return a.TokenLookup }
func (a AuthConfig) GetAuthScheme() string    { return a.AuthScheme }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
