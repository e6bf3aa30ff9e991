package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragd-go/internal/budget"
)

// Cohere input types for the embed endpoint. Cohere normalizes search
// documents and search queries differently, so the two must not be mixed.
const (
	cohereInputDocument = "search_document"
	cohereInputQuery    = "search_query"
)

// Cohere implements EmbeddingProvider and GenerationProvider against the
// Cohere v1 REST API via plain HTTP — no additional SDK dependency is
// required.
type Cohere struct {
	// baseURL is the API base (e.g. "https://api.cohere.ai").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// embeddingModel is the embedding model name, empty when unconfigured.
	embeddingModel string
	// embeddingSize is the dimensionality of produced vectors.
	embeddingSize int
	// generationModel is the chat model name, empty when unconfigured.
	generationModel string
	// maxInputChars is the per-text input character budget.
	maxInputChars int
	// maxOutputTokens is the default generation token cap.
	maxOutputTokens int
	// temperature is the default generation temperature.
	temperature float32
	// client is the shared HTTP client.
	client *http.Client
}

// CohereConfig holds the settings for constructing a Cohere provider.
type CohereConfig struct {
	// BaseURL is the API base URL. Empty selects "https://api.cohere.ai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// EmbeddingModel is the embedding model name (e.g. "embed-english-v3.0").
	EmbeddingModel string
	// EmbeddingSize is the output vector dimensionality.
	EmbeddingSize int
	// GenerationModel is the chat model name (e.g. "command-r").
	GenerationModel string
	// MaxInputChars is the input truncation budget (0 = default).
	MaxInputChars int
	// MaxOutputTokens is the default generation token cap (0 = 1024).
	MaxOutputTokens int
	// Temperature is the default generation temperature.
	Temperature float32
}

// NewCohere constructs a Cohere provider.
func NewCohere(cfg *CohereConfig) (*Cohere, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: cohere requires an API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cohere.ai"
	}
	maxOut := cfg.MaxOutputTokens
	if maxOut == 0 {
		maxOut = 1024
	}

	return &Cohere{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		embeddingModel:  cfg.EmbeddingModel,
		embeddingSize:   cfg.EmbeddingSize,
		generationModel: cfg.GenerationModel,
		maxInputChars:   cfg.MaxInputChars,
		maxOutputTokens: maxOut,
		temperature:     cfg.Temperature,
		client:          &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// EmbeddingSize returns the configured embedding dimensionality.
func (p *Cohere) EmbeddingSize() int {
	return p.embeddingSize
}

// cohereEmbedRequest is the JSON body sent to /v1/embed.
type cohereEmbedRequest struct {
	Texts          []string `json:"texts"`
	Model          string   `json:"model"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

// cohereEmbedResponse is the JSON body returned from /v1/embed.
type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Message string `json:"message,omitempty"`
}

// EmbedBatch converts a batch of texts into their embeddings in a single API
// call, selecting the Cohere input type from the requested mode.
func (p *Cohere) EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if p.embeddingModel == "" {
		return nil, fmt.Errorf("cohere embed: %w", ErrModelNotConfigured)
	}

	inputType := cohereInputDocument
	if input == InputQuery {
		inputType = cohereInputQuery
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = budget.TruncateText(t, p.maxInputChars)
	}

	body := cohereEmbedRequest{
		Texts:          inputs,
		Model:          p.embeddingModel,
		InputType:      inputType,
		EmbeddingTypes: []string{"float"},
	}

	var result cohereEmbedResponse
	if err := p.post(ctx, "/v1/embed", body, &result, func() string { return result.Message }); err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}

	if len(result.Embeddings.Float) != len(texts) {
		return nil, fmt.Errorf("cohere embed: expected %d embeddings, got %d", len(texts), len(result.Embeddings.Float))
	}

	return result.Embeddings.Float, nil
}

// cohereChatMessage is one prior turn in the Cohere chat history format.
type cohereChatMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// cohereChatRequest is the JSON body sent to /v1/chat.
type cohereChatRequest struct {
	Model       string              `json:"model"`
	Message     string              `json:"message"`
	ChatHistory []cohereChatMessage `json:"chat_history,omitempty"`
	Temperature float32             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

// cohereChatResponse is the JSON body returned from /v1/chat.
type cohereChatResponse struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"`
}

// GenerateText sends the truncated prompt with the mapped chat history and
// returns the reply text.
func (p *Cohere) GenerateText(ctx context.Context, prompt string, history []*schema.Message, opts *GenerateOptions) (string, error) {
	if p.generationModel == "" {
		return "", fmt.Errorf("cohere generate: %w", ErrModelNotConfigured)
	}

	temperature := p.temperature
	maxTokens := p.maxOutputTokens
	if opts != nil {
		if opts.Temperature != nil {
			temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}

	message := budget.TruncateText(prompt, p.maxInputChars)
	history = budget.TrimHistory(
		[]*schema.Message{schema.UserMessage(message)}, history, budget.DefaultMaxContextTokens)

	body := cohereChatRequest{
		Model:       p.generationModel,
		Message:     message,
		ChatHistory: toCohereHistory(history),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var result cohereChatResponse
	if err := p.post(ctx, "/v1/chat", body, &result, func() string { return result.Message }); err != nil {
		return "", fmt.Errorf("cohere generate: %w", err)
	}

	if result.Text == "" {
		return "", fmt.Errorf("cohere generate: empty response text")
	}

	return result.Text, nil
}

// toCohereHistory maps eino schema roles onto the Cohere chat history roles.
func toCohereHistory(history []*schema.Message) []cohereChatMessage {
	out := make([]cohereChatMessage, 0, len(history))
	for _, m := range history {
		role := "USER"
		switch m.Role {
		case schema.Assistant:
			role = "CHATBOT"
		case schema.System:
			role = "SYSTEM"
		}
		out = append(out, cohereChatMessage{Role: role, Message: m.Content})
	}
	return out
}

// post sends a JSON POST to the Cohere API and decodes the response into
// result. apiMsg extracts the provider error message after decoding.
func (p *Cohere) post(ctx context.Context, path string, body any, result any, apiMsg func() string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if m := apiMsg(); m != "" {
			msg = m
		}
		return fmt.Errorf("%s", msg)
	}

	return nil
}
