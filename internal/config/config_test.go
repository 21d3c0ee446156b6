package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// clearEnv unsets every key Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ENV", "LOG_LEVEL", "MONGODB_URI", "MONGO_URI", "MONGO_DATABASE",
		"POSTGRES_URI", "REDIS_URI", "NATS_URL", "STORE_BACKEND", "FANOUT_BACKEND",
		"ALLOWED_ORIGINS", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "SEND_RATE_LIMIT",
		"REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT", "MAX_BODY_BYTES", "TRACING_ENABLED",
		"TRACING_ENDPOINT", "SERVICE_NAME", "RECENT_CACHE_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != "mongo" || cfg.FanoutBackend != "local" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimitWindow != time.Minute || cfg.MaxBodyBytes != 1<<20 {
		t.Errorf("limits = %s / %d", cfg.RateLimitWindow, cfg.MaxBodyBytes)
	}
	if cfg.IsProduction() {
		t.Error("default environment should not be production")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", " Production ")
	t.Setenv("MONGO_URI", "mongodb://db:27017/chat")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_REQUESTS", "250")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("RECENT_CACHE_TTL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || !cfg.IsProduction() {
		t.Errorf("port/env = %s/%s", cfg.Port, cfg.Environment)
	}
	if cfg.MongoURI != "mongodb://db:27017/chat" {
		t.Errorf("MongoURI = %s, want MONGO_URI fallback", cfg.MongoURI)
	}
	if cfg.StoreBackend != "postgres" || !cfg.NeedsPostgres() || cfg.NeedsMongo() {
		t.Errorf("store backend = %s", cfg.StoreBackend)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.RateLimitRequests != 250 || cfg.RateLimitWindow != 30*time.Second || !cfg.TracingEnabled {
		t.Errorf("limits/tracing = %d %s %t", cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.TracingEnabled)
	}
	if cfg.NeedsRedis() {
		t.Error("production with local fan-out and no page cache should not need redis")
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitRequests != 100 || cfg.RequestTimeout != 30*time.Second || cfg.TracingEnabled {
		t.Errorf("fallbacks not applied: %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chatrelay.toml")
	content := `
port = "7070"
store_backend = "memory"
fanout_backend = "nats"
allowed_origins = ["https://inbox.example"]
rate_limit_window = "2m"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "6060" {
		t.Errorf("env should win over file, port = %s", cfg.Port)
	}
	if cfg.StoreBackend != "memory" || cfg.FanoutBackend != "nats" || !cfg.NeedsNATS() {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.RateLimitWindow != 2*time.Minute {
		t.Errorf("window = %s", cfg.RateLimitWindow)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://inbox.example"}) {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.NeedsMongo() || cfg.NeedsPostgres() {
		t.Error("memory backend needs no database")
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("port = "), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed config file")
	}
}
