package llm

import (
	"context"
	"testing"
)

func TestNewEmbeddingFromEnvUnknownBackend(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "mystery")

	if _, err := NewEmbeddingFromEnv(context.Background()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewEmbeddingFromEnvInheritsGenerationProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("GENERATION_PROVIDER", "cohere")
	t.Setenv("COHERE_API_KEY", "k")
	t.Setenv("EMBEDDING_SIZE", "")
	t.Setenv("EMBEDDING_MODEL", "")

	p, err := NewEmbeddingFromEnv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Cohere); !ok {
		t.Errorf("expected *Cohere, got %T", p)
	}
	if p.EmbeddingSize() != defaultCohereEmbeddingSize {
		t.Errorf("embedding size = %d, want %d", p.EmbeddingSize(), defaultCohereEmbeddingSize)
	}
}

func TestNewEmbeddingFromEnvMissingKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "cohere")
	t.Setenv("COHERE_API_KEY", "")

	if _, err := NewEmbeddingFromEnv(context.Background()); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewEmbeddingFromEnvGeminiRequiresSize(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "gemini")
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("EMBEDDING_SIZE", "")

	if _, err := NewEmbeddingFromEnv(context.Background()); err == nil {
		t.Error("expected error when EMBEDDING_SIZE is unset for gemini")
	}
}

func TestDefaultEmbeddingSize(t *testing.T) {
	t.Setenv("EMBEDDING_SIZE", "")

	if got := DefaultEmbeddingSize("openai"); got != defaultOpenAIEmbeddingSize {
		t.Errorf("openai size = %d", got)
	}
	if got := DefaultEmbeddingSize("cohere"); got != defaultCohereEmbeddingSize {
		t.Errorf("cohere size = %d", got)
	}

	t.Setenv("EMBEDDING_SIZE", "42")
	if got := DefaultEmbeddingSize("cohere"); got != 42 {
		t.Errorf("override size = %d, want 42", got)
	}
}
