package llm

import (
	"context"
	"fmt"
	"slices"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/54b3r/ragd-go/internal/budget"
)

// Gemini task types for the embedding endpoint. Gemini embeds retrieval
// documents and retrieval queries with different task conditioning.
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

// Gemini implements EmbeddingProvider and GenerationProvider against the
// Google Gemini API. Generation is delegated to the eino Gemini chat model;
// embeddings use the genai client directly.
type Gemini struct {
	// client is the shared genai API client.
	client *genai.Client
	// embeddingModel is the embedding model name, empty when unconfigured.
	embeddingModel string
	// embeddingSize is the dimensionality of produced vectors.
	embeddingSize int
	// maxInputChars is the per-text input character budget.
	maxInputChars int
	// chat is the generation model, nil when no generation model is set.
	chat model.ToolCallingChatModel
}

// GeminiConfig holds the settings for constructing a Gemini provider.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// EmbeddingModel is the embedding model name (e.g. "text-embedding-004").
	EmbeddingModel string
	// EmbeddingSize is the output vector dimensionality.
	EmbeddingSize int
	// GenerationModel is the chat model name (e.g. "gemini-1.5-pro").
	GenerationModel string
	// MaxInputChars is the input truncation budget (0 = default).
	MaxInputChars int
}

// NewGemini constructs a Gemini provider.
func NewGemini(ctx context.Context, cfg *GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}

	p := &Gemini{
		client:         client,
		embeddingModel: cfg.EmbeddingModel,
		embeddingSize:  cfg.EmbeddingSize,
		maxInputChars:  cfg.MaxInputChars,
	}

	if cfg.GenerationModel != "" {
		chat, err := einogemini.NewChatModel(ctx, &einogemini.Config{
			Client: client,
			Model:  cfg.GenerationModel,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: gemini chat model: %w", err)
		}
		p.chat = chat
	}

	return p, nil
}

// EmbeddingSize returns the configured embedding dimensionality.
func (p *Gemini) EmbeddingSize() int {
	return p.embeddingSize
}

// EmbedBatch converts a batch of texts into their embeddings in a single API
// call, selecting the Gemini task type from the requested mode.
func (p *Gemini) EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if p.embeddingModel == "" {
		return nil, fmt.Errorf("gemini embed: %w", ErrModelNotConfigured)
	}

	taskType := geminiTaskDocument
	if input == InputQuery {
		taskType = geminiTaskQuery
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(budget.TruncateText(t, p.maxInputChars), genai.RoleUser)
	}

	embedCfg := &genai.EmbedContentConfig{TaskType: taskType}
	if p.embeddingSize > 0 {
		embedCfg.OutputDimensionality = genai.Ptr(int32(p.embeddingSize))
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, contents, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		embeddings[i] = e.Values
	}

	return embeddings, nil
}

// GenerateText appends the truncated prompt as the latest user turn and
// returns the model reply. History is trimmed oldest-first to fit the
// context budget; the prompt itself is never dropped.
func (p *Gemini) GenerateText(ctx context.Context, prompt string, history []*schema.Message, opts *GenerateOptions) (string, error) {
	if p.chat == nil {
		return "", fmt.Errorf("gemini generate: %w", ErrModelNotConfigured)
	}

	user := schema.UserMessage(budget.TruncateText(prompt, p.maxInputChars))
	history = budget.TrimHistory([]*schema.Message{user}, history, budget.DefaultMaxContextTokens)
	msgs := append(slices.Clone(history), user)

	out, err := p.chat.Generate(ctx, msgs, generateModelOptions(opts)...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return out.Content, nil
}
