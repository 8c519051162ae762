package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent mimics a desktop Chrome build; the marketplace serves a
// reduced page to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Crawler   CrawlerConfig
	Warehouse WarehouseConfig
	Runs      RunsConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8000
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys. Empty means open access.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting of the HTTP API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// CrawlerConfig controls how the marketplace search is fetched and parsed.
type CrawlerConfig struct {
	// UserAgent is sent on every outbound request.
	UserAgent string

	// BaseURL is the search listing host, without trailing slash.
	BaseURL string // default: "https://lista.mercadolivre.com.br"

	// MaxRetries is the number of attempts per page fetch (not re-tries after the first).
	MaxRetries int // default: 3

	// RetryMin and RetryMax bound the exponential backoff between attempts.
	RetryMin time.Duration // default: 2s
	RetryMax time.Duration // default: 10s

	// RequestTimeout caps a single page fetch.
	RequestTimeout time.Duration // default: 15s

	// PageSize is the nominal number of results per search page.
	PageSize int // default: 50

	// Workers > 1 processes source terms concurrently. Rate limiting is
	// still shared across workers.
	Workers int // default: 1

	Marketplace  string // default: "mercado_livre"
	Currency     string // default: "BRL"
	ItemIDPrefix string // default: "MLB"
}

// WarehouseConfig identifies the record store.
type WarehouseConfig struct {
	// Backend is one of "clickhouse", "postgres" or "memory".
	Backend string // default: "clickhouse"

	// DSN is the connection string of the network backends.
	DSN string

	// Project is a free-form namespace reported in logs and health output.
	Project string // default: "promozone-ml"

	// Dataset is the database (ClickHouse) or schema (Postgres) holding the table.
	Dataset string // default: "promocoes"

	Table string // default: "promotions"

	// CredentialsPath points at a JSON file {"username": "...", "password": "..."}
	// whose values override the DSN user info.
	CredentialsPath string
}

// RunsConfig controls the collection run registry.
type RunsConfig struct {
	// TTL evicts terminal runs older than this. Zero keeps them for the
	// process lifetime.
	TTL time.Duration // default: 0
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: envOr("PROMOZONE_HOST", "0.0.0.0"),
			Port: envIntOr("PROMOZONE_PORT", 8000),
			Mode: envOr("PROMOZONE_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PROMOZONE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PROMOZONE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PROMOZONE_RATE_RPS", 5.0),
			Burst:             envIntOr("PROMOZONE_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("PROMOZONE_LOG_LEVEL", "info"),
			Format: envOr("PROMOZONE_LOG_FORMAT", "json"),
		},
		Crawler: CrawlerConfig{
			UserAgent:      envOr("PROMOZONE_USER_AGENT", DefaultUserAgent),
			BaseURL:        strings.TrimRight(envOr("PROMOZONE_BASE_URL", "https://lista.mercadolivre.com.br"), "/"),
			MaxRetries:     envIntOr("PROMOZONE_MAX_RETRIES", 3),
			RetryMin:       envSecondsOr("PROMOZONE_RETRY_MIN_SECONDS", 2*time.Second),
			RetryMax:       envSecondsOr("PROMOZONE_RETRY_MAX_SECONDS", 10*time.Second),
			RequestTimeout: envDurationOr("PROMOZONE_REQUEST_TIMEOUT", 15*time.Second),
			PageSize:       envIntOr("PROMOZONE_PAGE_SIZE", 50),
			Workers:        envIntOr("PROMOZONE_CRAWLER_WORKERS", 1),
			Marketplace:    envOr("PROMOZONE_MARKETPLACE", "mercado_livre"),
			Currency:       envOr("PROMOZONE_CURRENCY", "BRL"),
			ItemIDPrefix:   envOr("PROMOZONE_ITEM_ID_PREFIX", "MLB"),
		},
		Warehouse: WarehouseConfig{
			Backend:         envOr("PROMOZONE_WAREHOUSE_BACKEND", "clickhouse"),
			DSN:             os.Getenv("PROMOZONE_WAREHOUSE_DSN"),
			Project:         envOr("PROMOZONE_WAREHOUSE_PROJECT", "promozone-ml"),
			Dataset:         envOr("PROMOZONE_WAREHOUSE_DATASET", "promocoes"),
			Table:           envOr("PROMOZONE_WAREHOUSE_TABLE", "promotions"),
			CredentialsPath: os.Getenv("PROMOZONE_WAREHOUSE_CREDENTIALS"),
		},
		Runs: RunsConfig{
			TTL: envDurationOr("PROMOZONE_RUN_TTL", 0),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSecondsOr accepts a plain number of seconds ("2", "0.5") or a Go duration ("1500ms").
func envSecondsOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
