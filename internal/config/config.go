// Package config provides layered configuration for ragd.
// Values are resolved with the precedence: defaults → .env file → YAML file
// → env vars. Environment variables always win, so existing workflows are
// unaffected.
//
// File search order for the YAML file:
//  1. --config CLI flag (explicit path)
//  2. RAGD_CONFIG environment variable
//  3. ~/.ragd/config.yaml
//  4. ./ragd.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Generation configures the text generation provider.
	Generation GenerationConfig `yaml:"generation"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Providers holds per-vendor credentials shared by generation and
	// embedding.
	Providers ProvidersConfig `yaml:"providers"`

	// VectorDB configures the vector store backend.
	VectorDB VectorDBConfig `yaml:"vectordb"`

	// Storage configures the metadata database and the assets directory.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`

	// Locale is the preferred prompt template locale (default: en).
	Locale string `yaml:"locale"`
}

// GenerationConfig holds text generation settings.
type GenerationConfig struct {
	// Provider selects the backend: openai, cohere, gemini.
	Provider string `yaml:"provider"`
	// Model is the generation model name.
	Model string `yaml:"model"`
	// MaxTokens caps the number of generated tokens.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
	// InputMaxChars is the prompt truncation budget in characters.
	InputMaxChars int `yaml:"input_max_chars"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend; empty inherits the generation provider.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Size overrides the embedding vector size. It is part of the vector
	// collection naming contract.
	Size int `yaml:"size"`
	// RateLimit caps sustained embedding calls per second against the
	// provider API. Zero disables rate limiting.
	RateLimit float32 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous burst of embedding calls.
	RateBurst int `yaml:"rate_burst"`
}

// ProvidersConfig holds per-vendor credentials and endpoints.
type ProvidersConfig struct {
	// OpenAI holds OpenAI settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Cohere holds Cohere settings.
	Cohere CohereConfig `yaml:"cohere"`
	// Gemini holds Google Gemini settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OpenAIConfig holds OpenAI settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint for compatible gateways.
	BaseURL string `yaml:"base_url"`
}

// CohereConfig holds Cohere settings.
type CohereConfig struct {
	// APIKey is the Cohere API key. Prefer env var COHERE_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// VectorDBConfig holds vector store settings.
type VectorDBConfig struct {
	// Provider selects the backend: qdrant, pgvector.
	Provider string `yaml:"provider"`
	// Distance is the similarity metric: cosine, dot.
	Distance string `yaml:"distance"`
	// Qdrant holds Qdrant-specific settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
	// Postgres holds pgvector-specific settings.
	Postgres PostgresConfig `yaml:"postgres"`
}

// QdrantConfig holds Qdrant settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// PostgresConfig holds pgvector settings.
type PostgresConfig struct {
	// DSN is the connection string. Prefer env var POSTGRES_DSN.
	DSN string `yaml:"dsn"`
	// IndexType is the similarity index access method: hnsw, ivfflat.
	IndexType string `yaml:"index_type"`
	// IndexThreshold is the row count that triggers index creation.
	IndexThreshold int `yaml:"index_threshold"`
}

// StorageConfig holds metadata database and asset settings.
type StorageConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
	// AssetsDir is the directory uploaded files are stored under.
	AssetsDir string `yaml:"assets_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGD_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"GENERATION_PROVIDER", func(c *Config) string { return c.Generation.Provider }},
	{"GENERATION_MODEL", func(c *Config) string { return c.Generation.Model }},
	{"GENERATION_MAX_TOKENS", func(c *Config) string { return intStr(c.Generation.MaxTokens) }},
	{"GENERATION_TEMPERATURE", func(c *Config) string { return float32Str(c.Generation.Temperature) }},
	{"INPUT_MAX_CHARS", func(c *Config) string { return intStr(c.Generation.InputMaxChars) }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_SIZE", func(c *Config) string { return intStr(c.Embedding.Size) }},
	{"EMBEDDING_RATE_LIMIT", func(c *Config) string { return float32Str(c.Embedding.RateLimit) }},
	{"EMBEDDING_RATE_BURST", func(c *Config) string { return intStr(c.Embedding.RateBurst) }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Providers.OpenAI.APIKey }},
	{"OPENAI_API_BASE", func(c *Config) string { return c.Providers.OpenAI.BaseURL }},
	{"COHERE_API_KEY", func(c *Config) string { return c.Providers.Cohere.APIKey }},
	{"COHERE_API_BASE", func(c *Config) string { return c.Providers.Cohere.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Providers.Gemini.APIKey }},
	{"VECTORDB_PROVIDER", func(c *Config) string { return c.VectorDB.Provider }},
	{"VECTORDB_DISTANCE", func(c *Config) string { return c.VectorDB.Distance }},
	{"QDRANT_HOST", func(c *Config) string { return c.VectorDB.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.VectorDB.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorDB.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.VectorDB.Qdrant.TLS) }},
	{"POSTGRES_DSN", func(c *Config) string { return c.VectorDB.Postgres.DSN }},
	{"PGVECTOR_INDEX_TYPE", func(c *Config) string { return c.VectorDB.Postgres.IndexType }},
	{"PGVECTOR_INDEX_THRESHOLD", func(c *Config) string { return intStr(c.VectorDB.Postgres.IndexThreshold) }},
	{"RAGD_DB_PATH", func(c *Config) string { return c.Storage.DBPath }},
	{"RAGD_ASSETS_DIR", func(c *Config) string { return c.Storage.AssetsDir }},
	{"RAGD_HOST", func(c *Config) string { return c.Server.Host }},
	{"RAGD_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RAGD_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"DEFAULT_LOCALE", func(c *Config) string { return c.Locale }},
}

// Load layers a .env file and a YAML config file into the environment.
// Non-empty YAML values are applied as env vars, but existing env vars are
// never overwritten (env always wins). Returns the YAML path that was
// loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err == nil {
		log.Debug("config: loaded .env file")
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGD_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragd", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragd.yaml"); err == nil {
		return "ragd.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
