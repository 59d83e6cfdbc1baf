// Package config loads service configuration from environment variables,
// with .env support for local runs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need. Every field has a usable
// default so a bare `go run ./cmd/api` starts against the in-memory store.
type Config struct {
	Addr  string
	PGDSN string

	JWTSecret string
	TokenTTL  time.Duration

	ProviderBaseURL   string
	ProviderRateLimit int // requests per minute
	KeyTTL            time.Duration

	RetentionDays        int
	AllowRecalcCompleted bool

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	CORSOrigin     string
}

// Load reads the environment, after best-effort loading a local .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:                 envStr("WARCHEST_ADDR", ":8080"),
		PGDSN:                envStr("WARCHEST_PG_DSN", ""),
		JWTSecret:            envStr("WARCHEST_JWT_SECRET", ""),
		TokenTTL:             envDuration("WARCHEST_TOKEN_TTL", 24*time.Hour),
		ProviderBaseURL:      envStr("WARCHEST_PROVIDER_URL", ""),
		ProviderRateLimit:    envInt("WARCHEST_PROVIDER_RATE_LIMIT", 60),
		KeyTTL:               envDuration("WARCHEST_KEY_TTL", 24*time.Hour),
		RetentionDays:        envInt("WARCHEST_AUDIT_RETENTION_DAYS", 365),
		AllowRecalcCompleted: envBool("WARCHEST_ALLOW_RECALC_COMPLETED", true),
		RateLimitRPS:         envFloat("WARCHEST_RATE_LIMIT_RPS", 10),
		RateLimitBurst:       envInt("WARCHEST_RATE_LIMIT_BURST", 30),
		MaxBodyBytes:         int64(envInt("WARCHEST_MAX_BODY_BYTES", 1<<20)),
		CORSOrigin:           envStr("WARCHEST_CORS_ORIGIN", "*"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
