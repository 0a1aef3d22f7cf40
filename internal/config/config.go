// Package config provides environment-driven configuration for clearoid.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Threshold defaults per use case. The source of truth for the numbers is the
// duplicate policy: strict gating on insert, looser discovery for similar-title
// queries, looser still for exploratory search. Every API operation accepts a
// caller override.
const (
	DefaultInsertThreshold  = 0.85
	DefaultSimilarThreshold = 0.75
	DefaultSearchThreshold  = 0.70
)

// Config holds the application configuration.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Port int `envconfig:"CLEAROID_PORT" default:"8500"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int    `envconfig:"CLEAROID_DB_MAX_CONNS" default:"8"`

	// Embedding backend selection. Provider is the preferred backend;
	// remaining backends form the fallback chain.
	EmbeddingProvider   string `envconfig:"CLEAROID_EMBEDDING_PROVIDER" default:"local"`
	EmbeddingDimensions int    `envconfig:"CLEAROID_EMBEDDING_DIMENSIONS" default:"384"`

	// Local ONNX backend.
	ModelPath     string `envconfig:"CLEAROID_MODEL_PATH" default:"models/all-MiniLM-L6-v2.onnx"`
	TokenizerPath string `envconfig:"CLEAROID_TOKENIZER_PATH" default:"models/tokenizer.json"`
	ONNXLibPath   string `envconfig:"CLEAROID_ONNX_LIB_PATH" default:""`

	// OpenAI-compatible backend.
	EmbeddingAPIKey  string `envconfig:"EMBEDDING_API_KEY" default:""`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL" default:""`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:""`

	// Duplicate policy.
	InsertThreshold  float64 `envconfig:"CLEAROID_INSERT_THRESHOLD" default:"0.85"`
	SimilarThreshold float64 `envconfig:"CLEAROID_SIMILAR_THRESHOLD" default:"0.75"`
	SearchThreshold  float64 `envconfig:"CLEAROID_SEARCH_THRESHOLD" default:"0.70"`

	// CandidateLimit bounds corpus scans using the pgvector index when > 0.
	// 0 keeps the exact full-scan semantics.
	CandidateLimit int `envconfig:"CLEAROID_CANDIDATE_LIMIT" default:"0"`
}

// Load reads configuration from the environment, honoring a local .env file.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CLEAROID_PORT must be a valid port, got %d", c.Port)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CLEAROID_DB_MAX_CONNS must be >= 1")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("CLEAROID_EMBEDDING_DIMENSIONS must be >= 1")
	}
	switch c.EmbeddingProvider {
	case "local", "openai":
	default:
		return fmt.Errorf("CLEAROID_EMBEDDING_PROVIDER must be local or openai, got %q", c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == "openai" && strings.TrimSpace(c.EmbeddingAPIKey) == "" {
		return fmt.Errorf("EMBEDDING_API_KEY is required when CLEAROID_EMBEDDING_PROVIDER=openai")
	}
	for name, v := range map[string]float64{
		"CLEAROID_INSERT_THRESHOLD":  c.InsertThreshold,
		"CLEAROID_SIMILAR_THRESHOLD": c.SimilarThreshold,
		"CLEAROID_SEARCH_THRESHOLD":  c.SearchThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.CandidateLimit < 0 {
		return fmt.Errorf("CLEAROID_CANDIDATE_LIMIT must be >= 0")
	}
	return nil
}
