// Package llm defines the pluggable provider capabilities of the RAG
// backend: embedding text into dense vectors and generating answer text from
// a prompt plus chat history. Concrete implementations (OpenAI, Cohere,
// Gemini) satisfy these interfaces so the pipelines never depend on a
// specific vendor API.
package llm

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
)

// InputType distinguishes document embeddings from query embeddings. Some
// providers apply different normalization to queries than to stored
// documents, so the two modes are not interchangeable even for identical
// text.
type InputType string

const (
	// InputDocument embeds text that will be stored and searched against.
	InputDocument InputType = "document"

	// InputQuery embeds text used to search stored documents.
	InputQuery InputType = "query"
)

// ErrModelNotConfigured is returned when a provider is used before a model id
// has been set. It is a configuration error: callers must not retry.
var ErrModelNotConfigured = errors.New("llm: model id is not configured")

// EmbeddingProvider converts text into fixed-size dense vectors.
// Implementations must be safe to call from multiple goroutines, and must
// truncate over-length input to their character budget silently rather than
// erroring.
type EmbeddingProvider interface {
	// EmbedBatch converts a batch of texts into their embeddings in one
	// provider call. The returned slice is parallel to the input slice.
	EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error)

	// EmbeddingSize returns the dimensionality of the vectors this provider
	// produces. It is part of the vector collection naming contract.
	EmbeddingSize() int
}

// GenerateOptions tunes a single generation call. Zero values fall back to
// the provider's configured defaults.
type GenerateOptions struct {
	// MaxTokens caps the number of tokens the model may generate.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0). Nil keeps the
	// provider default.
	Temperature *float32
}

// GenerationProvider turns a prompt and prior chat history into generated
// text. Implementations must be safe to call from multiple goroutines.
type GenerationProvider interface {
	// GenerateText appends the prompt as the latest user turn after history
	// and returns the model's reply. The prompt is truncated to the
	// provider's input budget before submission.
	GenerateText(ctx context.Context, prompt string, history []*schema.Message, opts *GenerateOptions) (string, error)
}
