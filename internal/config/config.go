// Package config loads and validates process configuration from the
// environment, per spec section 6.1 and SPEC_FULL section 4.3.
// Grounded on the teacher's app/cmd/main.go (godotenv.Load,
// os.Getenv reads scattered through server.Run) and
// kxddry-rag-text-search's internal/config/config.go defaulting
// pattern, generalized into one validated Load call.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hr-knowledge-base/rag-core/internal/auth"
)

// RateLimitBackend selects the ratelimit.Limiter implementation.
type RateLimitBackend string

const (
	RateLimitMemory RateLimitBackend = "memory"
	RateLimitRedis  RateLimitBackend = "redis"
)

// Config is the process-wide, read-only-after-startup configuration.
type Config struct {
	DatabaseURL      string
	OpenAIAPIKey     string
	APISecretToken   string
	AllowedOrigins   []string
	LLMModel         string
	Env              string
	EmbedderBaseURL  string
	LLMBaseURL       string
	RateLimitBackend RateLimitBackend
	RedisURL         string
	MetricsRetention time.Duration
	ListenAddr       string
}

// Load reads and validates every key from the process environment.
// A .env file is loaded first if present (teacher behavior); missing
// .env is not an error, since production deployments set real env
// vars directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		APISecretToken:   os.Getenv("API_SECRET_TOKEN"),
		LLMModel:         getOr("LLM_MODEL", "gpt-5-mini"),
		Env:              getOr("NODE_ENV", "production"),
		EmbedderBaseURL:  os.Getenv("EMBEDDER_BASE_URL"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		RateLimitBackend: RateLimitBackend(getOr("RATE_LIMIT_BACKEND", string(RateLimitMemory))),
		RedisURL:         os.Getenv("REDIS_URL"),
		ListenAddr:       getOr("SERVER_ADDR", ":8080"),
	}

	origins := getOr("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	retention := getOr("METRICS_RETENTION", "1h")
	d, err := time.ParseDuration(retention)
	if err != nil {
		return nil, fmt.Errorf("METRICS_RETENTION: %w", err)
	}
	cfg.MetricsRetention = d

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.APISecretToken == "" {
		missing = append(missing, "API_SECRET_TOKEN")
	}
	if c.EmbedderBaseURL == "" {
		missing = append(missing, "EMBEDDER_BASE_URL")
	}
	if c.LLMBaseURL == "" {
		missing = append(missing, "LLM_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if len(c.APISecretToken) < auth.MinSecretLength {
		return fmt.Errorf("API_SECRET_TOKEN must be at least %d bytes", auth.MinSecretLength)
	}

	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", RateLimitMemory, RateLimitRedis)
	}

	if c.Env != "development" && c.Env != "test" && c.Env != "production" {
		return fmt.Errorf("NODE_ENV must be one of development, test, production")
	}

	return nil
}

func getOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
