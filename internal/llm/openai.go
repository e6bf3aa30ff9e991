package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragd-go/internal/budget"
)

// OpenAI implements EmbeddingProvider and GenerationProvider against the
// OpenAI API (or any OpenAI-compatible endpoint). Embeddings go through the
// REST API directly; generation is delegated to the eino OpenAI chat model.
type OpenAI struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// embeddingModel is the embedding model name, empty when unconfigured.
	embeddingModel string
	// embeddingSize is the dimensionality of produced vectors.
	embeddingSize int
	// maxInputChars is the per-text input character budget.
	maxInputChars int
	// chat is the generation model, nil when no generation model is set.
	chat model.ToolCallingChatModel
	// client is the shared HTTP client used for embedding calls.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAI provider.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Empty selects "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// EmbeddingModel is the embedding model name (e.g.
	// "text-embedding-3-small"). Empty disables embedding.
	EmbeddingModel string
	// EmbeddingSize is the output vector dimensionality.
	EmbeddingSize int
	// GenerationModel is the chat model name (e.g. "gpt-4o"). Empty disables
	// generation.
	GenerationModel string
	// MaxInputChars is the input truncation budget (0 = default).
	MaxInputChars int
	// MaxOutputTokens is the default generation token cap (0 = 1024).
	MaxOutputTokens int
	// Temperature is the default generation temperature.
	Temperature float32
}

// NewOpenAI constructs an OpenAI provider. The generation model is built
// eagerly when GenerationModel is set so misconfiguration surfaces at
// startup; the embedding path is plain HTTP and needs no construction.
func NewOpenAI(ctx context.Context, cfg *OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai requires an API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxOut := cfg.MaxOutputTokens
	if maxOut == 0 {
		maxOut = 1024
	}

	p := &OpenAI{
		baseURL:        baseURL,
		apiKey:         cfg.APIKey,
		embeddingModel: cfg.EmbeddingModel,
		embeddingSize:  cfg.EmbeddingSize,
		maxInputChars:  cfg.MaxInputChars,
		client:         &http.Client{Timeout: 60 * time.Second},
	}

	if cfg.GenerationModel != "" {
		temp := cfg.Temperature
		chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			Model:       cfg.GenerationModel,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   &maxOut,
			Temperature: &temp,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: openai chat model: %w", err)
		}
		p.chat = chat
	}

	return p, nil
}

// EmbeddingSize returns the configured embedding dimensionality.
func (p *OpenAI) EmbeddingSize() int {
	return p.embeddingSize
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedBatch converts a batch of texts into their embeddings in a single API
// call. The OpenAI API does not distinguish document from query inputs, so
// the input type is accepted for interface parity and ignored.
func (p *OpenAI) EmbedBatch(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	if p.embeddingModel == "" {
		return nil, fmt.Errorf("openai embed: %w", ErrModelNotConfigured)
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = budget.TruncateText(t, p.maxInputChars)
	}

	body := openaiEmbedRequest{
		Input: inputs,
		Model: p.embeddingModel,
	}
	if p.embeddingSize > 0 {
		body.Dimensions = p.embeddingSize
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai embed: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("openai embed: %s", msg)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embed: index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}

// GenerateText appends the truncated prompt as the latest user turn and
// returns the model reply. History is trimmed oldest-first to fit the
// context budget; the prompt itself is never dropped.
func (p *OpenAI) GenerateText(ctx context.Context, prompt string, history []*schema.Message, opts *GenerateOptions) (string, error) {
	if p.chat == nil {
		return "", fmt.Errorf("openai generate: %w", ErrModelNotConfigured)
	}

	user := schema.UserMessage(budget.TruncateText(prompt, p.maxInputChars))
	history = budget.TrimHistory([]*schema.Message{user}, history, budget.DefaultMaxContextTokens)
	msgs := append(slices.Clone(history), user)

	out, err := p.chat.Generate(ctx, msgs, generateModelOptions(opts)...)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	return out.Content, nil
}

// generateModelOptions maps per-call GenerateOptions onto eino model options.
func generateModelOptions(opts *GenerateOptions) []model.Option {
	if opts == nil {
		return nil
	}
	var out []model.Option
	if opts.MaxTokens > 0 {
		out = append(out, model.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		out = append(out, model.WithTemperature(*opts.Temperature))
	}
	return out
}
