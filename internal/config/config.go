// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/followups/internal/scheduler"
	"github.com/ashureev/followups/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	LogLevel    string
	APIKeys     []string

	StoreDriver string
	DBPath      string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string

	Dispatch DispatchConfig
	Delivery DeliveryConfig
}

// DispatchConfig controls scheduled passes.
type DispatchConfig struct {
	Schedule            string
	PassTimeout         time.Duration
	Workers             int
	Pacing              time.Duration
	ExcludeStatuses     []string
	DefaultMonthlyLimit int
}

// DeliveryConfig points at the messaging provider.
type DeliveryConfig struct {
	URL         string
	APIKey      string
	From        string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		APIKeys:     getEnvList("API_KEYS", nil),

		StoreDriver: getEnv("STORE_DRIVER", store.DriverSQLite),
		DBPath:      getEnv("DB_PATH", "./data/followups.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Dispatch: DispatchConfig{
			Schedule:            getEnv("DISPATCH_SCHEDULE", "0 9 * * *"),
			PassTimeout:         getEnvDuration("DISPATCH_PASS_TIMEOUT", 30*time.Minute),
			Workers:             getEnvInt("DISPATCH_WORKERS", 4),
			Pacing:              getEnvDuration("DISPATCH_PACING", 500*time.Millisecond),
			ExcludeStatuses:     getEnvList("DISPATCH_EXCLUDE_STATUSES", []string{"lapsed", "closed", "unsubscribed"}),
			DefaultMonthlyLimit: getEnvInt("DEFAULT_MONTHLY_LIMIT", 50),
		},
		Delivery: DeliveryConfig{
			URL:         getEnv("DELIVERY_URL", ""),
			APIKey:      getEnv("DELIVERY_API_KEY", ""),
			From:        getEnv("DELIVERY_FROM", ""),
			Timeout:     getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
			MaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("DELIVERY_BACKOFF_BASE", 2*time.Second),
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
	switch c.StoreDriver {
	case store.DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case store.DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", store.DriverSQLite, store.DriverPostgres, c.StoreDriver)
	}
	if _, err := scheduler.ParseSchedule(c.Dispatch.Schedule); err != nil {
		return fmt.Errorf("DISPATCH_SCHEDULE: %w", err)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be > 0")
	}
	if c.Dispatch.Pacing < 0 {
		return fmt.Errorf("DISPATCH_PACING cannot be negative")
	}
	if c.Dispatch.DefaultMonthlyLimit <= 0 {
		return fmt.Errorf("DEFAULT_MONTHLY_LIMIT must be > 0")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be > 0")
	}
	return nil
}

// DeliveryEnabled reports whether a messaging provider is configured.
func (c *Config) DeliveryEnabled() bool {
	return c.Delivery.URL != ""
}

// AllowedOrigins returns the CORS and websocket origins.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// WebSocketOrigins returns the origin host patterns accepted by the
// websocket stream, which matches hosts rather than full origins.
func (c *Config) WebSocketOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(c.FrontendURL)
	if err != nil || u.Host == "" {
		return []string{c.FrontendURL}
	}
	return []string{u.Host}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
