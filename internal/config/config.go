// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level
	Session     SessionConfig
	Oracle      OracleConfig
	RateLimit   RateLimitConfig
	Timeout     TimeoutConfig
}

// SessionConfig controls in-memory chat session lifetime.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// OracleConfig selects the answer backend.
type OracleConfig struct {
	Backend           string // "static", "gemini" or "grpc"
	Timeout           time.Duration
	GeminiAPIKey      string
	GeminiModel       string
	GRPCAddr          string
	ServiceAreasFile  string
	WatchServiceAreas bool
}

// RateLimitConfig bounds requests per session token.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TimeoutConfig holds timeouts for I/O with dependencies.
type TimeoutConfig struct {
	Store       time.Duration
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/tera.db"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Oracle: OracleConfig{
			Backend:           strings.ToLower(getEnv("ORACLE_BACKEND", "static")),
			Timeout:           getEnvDuration("ORACLE_TIMEOUT", 20*time.Second),
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			GRPCAddr:          getEnv("ORACLE_GRPC_ADDR", ""),
			ServiceAreasFile:  getEnv("SERVICE_AREAS_FILE", ""),
			WatchServiceAreas: getEnvBool("SERVICE_AREAS_WATCH", false),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeout: TimeoutConfig{
			Store:       getEnvDuration("STORE_TIMEOUT", 5*time.Second),
			HealthCheck: 5 * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	switch c.Oracle.Backend {
	case "static":
	case "gemini":
		if c.Oracle.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ORACLE_BACKEND=gemini")
		}
	case "grpc":
		if c.Oracle.GRPCAddr == "" {
			return fmt.Errorf("ORACLE_GRPC_ADDR is required when ORACLE_BACKEND=grpc")
		}
	default:
		return fmt.Errorf("ORACLE_BACKEND must be one of static, gemini, grpc (got %q)", c.Oracle.Backend)
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the origins accepted by CORS and the chat socket.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
