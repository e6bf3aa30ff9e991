package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Backend enumerates the supported LLM providers. The set is closed — new
// backends are added here, not discovered at runtime.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API (or a compatible endpoint).
	BackendOpenAI Backend = "openai"
	// BackendCohere selects the Cohere API.
	BackendCohere Backend = "cohere"
	// BackendGemini selects the Google Gemini API.
	BackendGemini Backend = "gemini"
)

// Default models and embedding sizes per backend.
const (
	defaultOpenAIGenerationModel = "gpt-4o"
	defaultCohereGenerationModel = "command-r"
	defaultGeminiGenerationModel = "gemini-1.5-pro"

	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultCohereEmbeddingModel = "embed-english-v3.0"

	// defaultOpenAIEmbeddingSize is the output dimension of text-embedding-3-small.
	defaultOpenAIEmbeddingSize = 1536
	// defaultCohereEmbeddingSize is the output dimension of embed-english-v3.0.
	defaultCohereEmbeddingSize = 1024
)

// DefaultEmbeddingSize returns the default embedding vector size for the
// given backend name. Callers that need to pre-compute a collection name
// before constructing a provider should use this rather than hardcoding a
// value. EMBEDDING_SIZE always takes precedence when set.
func DefaultEmbeddingSize(backend string) int {
	if v := getEnvInt("EMBEDDING_SIZE", 0); v > 0 {
		return v
	}
	switch Backend(backend) {
	case BackendCohere:
		return defaultCohereEmbeddingSize
	default:
		return defaultOpenAIEmbeddingSize
	}
}

// NewEmbeddingFromEnv constructs an EmbeddingProvider from environment
// variables.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER — if unset, inherits GENERATION_PROVIDER (default: openai)
//  2. Per-backend credentials: OPENAI_API_KEY / COHERE_API_KEY / GOOGLE_API_KEY
//  3. EMBEDDING_MODEL — overrides the default model for the resolved backend
//  4. EMBEDDING_SIZE — overrides the default dimensions (openai: 1536, cohere: 1024)
//  5. INPUT_MAX_CHARS — overrides the input truncation budget
func NewEmbeddingFromEnv(ctx context.Context) (EmbeddingProvider, error) {
	backend := getEnv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("GENERATION_PROVIDER", string(BackendOpenAI))
	}

	maxChars := getEnvInt("INPUT_MAX_CHARS", 0)

	switch Backend(backend) {
	case BackendOpenAI:
		return NewOpenAI(ctx, &OpenAIConfig{
			BaseURL:        getEnv("OPENAI_API_BASE"),
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIEmbeddingModel),
			EmbeddingSize:  getEnvInt("EMBEDDING_SIZE", defaultOpenAIEmbeddingSize),
			MaxInputChars:  maxChars,
		})

	case BackendCohere:
		return NewCohere(&CohereConfig{
			BaseURL:        getEnv("COHERE_API_BASE"),
			APIKey:         os.Getenv("COHERE_API_KEY"),
			EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", defaultCohereEmbeddingModel),
			EmbeddingSize:  getEnvInt("EMBEDDING_SIZE", defaultCohereEmbeddingSize),
			MaxInputChars:  maxChars,
		})

	case BackendGemini:
		// Gemini embedding works but has no sensible universal default size;
		// require an explicit EMBEDDING_SIZE so the collection naming
		// contract stays deterministic.
		size := getEnvInt("EMBEDDING_SIZE", 0)
		if size <= 0 {
			return nil, fmt.Errorf("llm: gemini embedding requires EMBEDDING_SIZE to be set")
		}
		return NewGemini(ctx, &GeminiConfig{
			APIKey:         os.Getenv("GOOGLE_API_KEY"),
			EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-004"),
			EmbeddingSize:  size,
			MaxInputChars:  maxChars,
		})

	default:
		return nil, fmt.Errorf("llm: unknown embedding backend %q (valid values: openai, cohere, gemini)", backend)
	}
}

// NewGenerationFromEnv constructs a GenerationProvider from environment
// variables. GENERATION_PROVIDER selects the backend (default: openai);
// GENERATION_MODEL, GENERATION_MAX_TOKENS, and GENERATION_TEMPERATURE tune
// it.
func NewGenerationFromEnv(ctx context.Context) (GenerationProvider, error) {
	backend := getEnvOrDefault("GENERATION_PROVIDER", string(BackendOpenAI))

	maxChars := getEnvInt("INPUT_MAX_CHARS", 0)
	maxTokens := getEnvInt("GENERATION_MAX_TOKENS", 1024)
	temperature := getEnvFloat32("GENERATION_TEMPERATURE", 0.1)

	switch Backend(backend) {
	case BackendOpenAI:
		return NewOpenAI(ctx, &OpenAIConfig{
			BaseURL:         getEnv("OPENAI_API_BASE"),
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			GenerationModel: getEnvOrDefault("GENERATION_MODEL", defaultOpenAIGenerationModel),
			MaxInputChars:   maxChars,
			MaxOutputTokens: maxTokens,
			Temperature:     temperature,
		})

	case BackendCohere:
		return NewCohere(&CohereConfig{
			BaseURL:         getEnv("COHERE_API_BASE"),
			APIKey:          os.Getenv("COHERE_API_KEY"),
			GenerationModel: getEnvOrDefault("GENERATION_MODEL", defaultCohereGenerationModel),
			MaxInputChars:   maxChars,
			MaxOutputTokens: maxTokens,
			Temperature:     temperature,
		})

	case BackendGemini:
		return NewGemini(ctx, &GeminiConfig{
			APIKey:          os.Getenv("GOOGLE_API_KEY"),
			GenerationModel: getEnvOrDefault("GENERATION_MODEL", defaultGeminiGenerationModel),
			MaxInputChars:   maxChars,
		})

	default:
		return nil, fmt.Errorf("llm: unknown generation backend %q (valid values: openai, cohere, gemini)", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
