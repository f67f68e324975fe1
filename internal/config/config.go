// Package config loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Search backends.
const (
	BackendOpenSearch  = "opensearch"
	BackendMeilisearch = "meilisearch"
)

// Rerank providers.
const (
	ProviderBedrock = "bedrock"
	ProviderCohere  = "cohere"
	ProviderOllama  = "ollama"
)

// Config holds all configuration for the search service
type Config struct {
	// Server
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8080"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Search backend
	SearchBackend      string `env:"SEARCH_BACKEND" envDefault:"opensearch"`
	OpenSearchEndpoint string `env:"OPENSEARCH_ENDPOINT"`
	OpenSearchIndex    string `env:"OPENSEARCH_INDEX"`
	OpenSearchService  string `env:"OPENSEARCH_SERVICE" envDefault:"aoss"`
	OpenSearchUsername string `env:"OPENSEARCH_USERNAME"`
	OpenSearchPassword string `env:"OPENSEARCH_PASSWORD"`
	AWSRegion          string `env:"AWS_REGION" envDefault:"us-east-1"`
	MeilisearchHost    string `env:"MEILISEARCH_HOST" envDefault:"http://localhost:7700"`
	MeilisearchAPIKey  string `env:"MEILISEARCH_API_KEY"`
	MeilisearchIndex   string `env:"MEILISEARCH_INDEX"`
	DocumentIDField    string `env:"DOCUMENT_ID_FIELD" envDefault:"id"`

	// Reranker
	RerankProvider string `env:"RERANK_PROVIDER" envDefault:"bedrock"`
	RerankModel    string `env:"RERANK_MODEL"`
	RerankEndpoint string `env:"RERANK_ENDPOINT"`
	RerankAPIKey   string `env:"RERANK_API_KEY"`
	OllamaURL      string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`

	// Pipeline
	PoolSize         int           `env:"POOL_SIZE" envDefault:"100"`
	TopK             int           `env:"TOP_K" envDefault:"20"`
	PrimaryField     string        `env:"PRIMARY_FIELD" envDefault:"full_text"`
	FallbackFields   []string      `env:"FALLBACK_FIELDS" envSeparator:"," envDefault:"title,description,content"`
	SearchTimeout    time.Duration `env:"SEARCH_TIMEOUT" envDefault:"20s"`
	RerankTimeout    time.Duration `env:"RERANK_TIMEOUT" envDefault:"20s"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"1"`
	ExcerptLength    int           `env:"EXCERPT_LENGTH" envDefault:"200"`
	IncludeSource    bool          `env:"INCLUDE_SOURCE" envDefault:"false"`
	OutputFile       string        `env:"OUTPUT_FILE" envDefault:"reranking_results.json"`

	// PostgreSQL run store; empty disables it
	DatabaseURL string `env:"DATABASE_URL"`

	// Auth
	APIKeys   []string      `env:"API_KEYS" envSeparator:","`
	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	// Rate limiting; 0 disables
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.SearchBackend = strings.ToLower(strings.TrimSpace(c.SearchBackend))
	c.RerankProvider = strings.ToLower(strings.TrimSpace(c.RerankProvider))
	c.FallbackFields = trimAll(c.FallbackFields)
	c.APIKeys = trimAll(c.APIKeys)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the settings needed to run searches.
func (c *Config) Validate() error {
	var errs []error

	switch c.SearchBackend {
	case BackendOpenSearch:
		if c.OpenSearchEndpoint == "" {
			errs = append(errs, errors.New("OPENSEARCH_ENDPOINT is required"))
		}
		if c.OpenSearchIndex == "" {
			errs = append(errs, errors.New("OPENSEARCH_INDEX is required"))
		}
		if c.OpenSearchService != "aoss" && c.OpenSearchService != "es" && c.OpenSearchService != "none" {
			errs = append(errs, fmt.Errorf("OPENSEARCH_SERVICE must be aoss, es or none, got %q", c.OpenSearchService))
		}
	case BackendMeilisearch:
		if c.MeilisearchHost == "" {
			errs = append(errs, errors.New("MEILISEARCH_HOST is required"))
		}
		if c.MeilisearchIndex == "" {
			errs = append(errs, errors.New("MEILISEARCH_INDEX is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SEARCH_BACKEND %q", c.SearchBackend))
	}

	switch c.RerankProvider {
	case ProviderBedrock, ProviderOllama:
	case ProviderCohere:
		if c.RerankModel == "" {
			errs = append(errs, errors.New("RERANK_MODEL is required for the cohere provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RERANK_PROVIDER %q", c.RerankProvider))
	}

	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("POOL_SIZE must be positive, got %d", c.PoolSize))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive, got %d", c.TopK))
	}
	if c.SearchTimeout <= 0 || c.RerankTimeout <= 0 {
		errs = append(errs, errors.New("SEARCH_TIMEOUT and RERANK_TIMEOUT must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
