package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port        string `toml:"port"`
	Environment string `toml:"env"` // ENV: production, development, etc.
	LogLevel    string `toml:"log_level"`

	MongoURI      string `toml:"mongodb_uri"`
	MongoDatabase string `toml:"mongo_database"` // empty: taken from the URI path
	PostgresURI   string `toml:"postgres_uri"`
	RedisURI      string `toml:"redis_uri"`
	NATSURL       string `toml:"nats_url"`

	StoreBackend  string `toml:"store_backend"`  // mongo, postgres, memory
	FanoutBackend string `toml:"fanout_backend"` // local, redis, nats

	AllowedOrigins []string `toml:"allowed_origins"`

	RateLimitRequests int           `toml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `toml:"rate_limit_window"`
	SendRateLimit     int           `toml:"send_rate_limit"` // per IP per minute on /api/messages/send
	RequestTimeout    time.Duration `toml:"request_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	MaxBodyBytes      int64         `toml:"max_body_bytes"`
	RecentCacheTTL    time.Duration `toml:"recent_cache_ttl"` // 0 disables the Redis page cache

	TracingEnabled  bool   `toml:"tracing_enabled"`
	TracingEndpoint string `toml:"tracing_endpoint"`
	ServiceName     string `toml:"service_name"`
}

func defaults() *Config {
	return &Config{
		Port:              "8080",
		Environment:       "development",
		LogLevel:          "info",
		MongoURI:          "mongodb://localhost:27017/whatsapp",
		PostgresURI:       "postgres://localhost:5432/whatsapp?sslmode=disable",
		RedisURI:          "redis://localhost:6379/0",
		NATSURL:           "nats://localhost:4222",
		StoreBackend:      "mongo",
		FanoutBackend:     "local",
		AllowedOrigins:    []string{"http://localhost:3000"},
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		SendRateLimit:     30,
		RequestTimeout:    30 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		MaxBodyBytes:      1 << 20,
		RecentCacheTTL:    5 * time.Minute,
		TracingEndpoint:   "localhost:4318",
		ServiceName:       "chatrelay-backend",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = strings.ToLower(strings.TrimSpace(getEnv("ENV", cfg.Environment)))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MongoURI = getEnv("MONGODB_URI", getEnv("MONGO_URI", cfg.MongoURI))
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.PostgresURI = getEnv("POSTGRES_URI", cfg.PostgresURI)
	cfg.RedisURI = getEnv("REDIS_URI", cfg.RedisURI)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", cfg.StoreBackend)))
	cfg.FanoutBackend = strings.ToLower(strings.TrimSpace(getEnv("FANOUT_BACKEND", cfg.FanoutBackend)))

	if origins := parseOrigins(getEnv("ALLOWED_ORIGINS", "")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	cfg.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.SendRateLimit = getIntEnv("SEND_RATE_LIMIT", cfg.SendRateLimit)
	cfg.RequestTimeout = getDurationEnv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxBodyBytes = int64(getIntEnv("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.RecentCacheTTL = getDurationEnv("RECENT_CACHE_TTL", cfg.RecentCacheTTL)

	cfg.TracingEnabled = getBoolEnv("TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingEndpoint = getEnv("TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)

	return cfg, nil
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// NeedsMongo, NeedsPostgres, NeedsRedis and NeedsNATS report which
// connections the selected backends require.
func (c *Config) NeedsMongo() bool {
	switch c.StoreBackend {
	case "", "mongo", "mongodb":
		return true
	}
	return false
}

func (c *Config) NeedsPostgres() bool {
	return c.StoreBackend == "postgres" || c.StoreBackend == "postgresql"
}

// Redis also backs the page cache, and the rate limiter outside production.
func (c *Config) NeedsRedis() bool {
	return c.FanoutBackend == "redis" || c.RecentCacheTTL > 0 || !c.IsProduction()
}

func (c *Config) NeedsNATS() bool {
	return c.FanoutBackend == "nats"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", key, raw, fallback)
		return fallback
	}
	return value
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", key, raw, fallback)
		return fallback
	}
	return value
}

func getBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", key, raw, fallback)
		return fallback
	}
	return value
}
