package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLen = 32

// Config holds all configuration for the tenantdesk server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Identity   IdentityConfig
	Revocation RevocationConfig
	HTTP       HTTPConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// RedisConfig is optional. An empty URL disables the revocation hint cache.
type RedisConfig struct {
	URL string
}

type JWTConfig struct {
	Secret   string
	Audience string
	Leeway   time.Duration
}

// IdentityConfig holds credentials for the external identity platform.
// Only the login and registration handlers talk to it.
type IdentityConfig struct {
	BaseURL    string
	APIKey     string
	ServiceKey string
	Timeout    time.Duration
}

type RevocationConfig struct {
	RefreshTokenTTL time.Duration
	SweepInterval   time.Duration
}

type HTTPConfig struct {
	AllowedOrigins []string
	StaticDir      string
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("TENANTDESK_PORT", 8080),
			Env:      envString("TENANTDESK_ENV", "development"),
			LogLevel: strings.ToLower(envString("TENANTDESK_LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			AcquireTimeout:  envDuration("DATABASE_ACQUIRE_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		JWT: JWTConfig{
			Secret:   os.Getenv("JWT_SECRET"),
			Audience: os.Getenv("JWT_AUDIENCE"),
			Leeway:   envDuration("JWT_LEEWAY", 30*time.Second),
		},
		Identity: IdentityConfig{
			BaseURL:    strings.TrimRight(os.Getenv("IDENTITY_URL"), "/"),
			APIKey:     os.Getenv("IDENTITY_API_KEY"),
			ServiceKey: os.Getenv("IDENTITY_SERVICE_KEY"),
			Timeout:    envDuration("IDENTITY_TIMEOUT", 10*time.Second),
		},
		Revocation: RevocationConfig{
			RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 720*time.Hour),
			SweepInterval:   envDuration("REVOCATION_SWEEP_INTERVAL", time.Hour),
		},
		HTTP: HTTPConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS"),
			StaticDir:      os.Getenv("STATIC_DIR"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DATABASE_MAX_IDLE_CONNS (%d) must not exceed DATABASE_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("DATABASE_ACQUIRE_TIMEOUT must be positive")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < minSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen)
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("IDENTITY_URL is required")
	}
	if !strings.HasPrefix(c.Identity.BaseURL, "http://") && !strings.HasPrefix(c.Identity.BaseURL, "https://") {
		return fmt.Errorf("IDENTITY_URL must start with http:// or https://, got %q", c.Identity.BaseURL)
	}
	if c.Identity.APIKey == "" {
		return fmt.Errorf("IDENTITY_API_KEY is required")
	}
	if c.Identity.ServiceKey == "" {
		return fmt.Errorf("IDENTITY_SERVICE_KEY is required")
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("TENANTDESK_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Revocation.SweepInterval <= 0 {
		return fmt.Errorf("REVOCATION_SWEEP_INTERVAL must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
