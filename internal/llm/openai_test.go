package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEmbedBatch(t *testing.T) {
	t.Parallel()

	var gotReq openaiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		// Return embeddings out of order to exercise index placement.
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.4, 0.5}, "index": 1},
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAI(context.Background(), &OpenAIConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		EmbeddingModel: "text-embedding-3-small",
		EmbeddingSize:  2,
	})
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"}, InputDocument)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
	if gotReq.Model != "text-embedding-3-small" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if gotReq.Dimensions != 2 {
		t.Errorf("request dimensions = %d, want 2", gotReq.Dimensions)
	}
}

func TestOpenAIEmbedTruncatesInput(t *testing.T) {
	t.Parallel()

	var gotReq openaiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAI(context.Background(), &OpenAIConfig{
		BaseURL:        srv.URL,
		APIKey:         "k",
		EmbeddingModel: "m",
		MaxInputChars:  10,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.EmbedBatch(context.Background(), []string{strings.Repeat("x", 100)}, InputDocument); err != nil {
		t.Fatal(err)
	}
	if len(gotReq.Input[0]) != 10 {
		t.Errorf("input length = %d, want 10 (silent truncation)", len(gotReq.Input[0]))
	}
}

func TestOpenAIEmbedWithoutModelIsConfigurationError(t *testing.T) {
	t.Parallel()

	p, err := NewOpenAI(context.Background(), &OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.EmbedBatch(context.Background(), []string{"x"}, InputDocument)
	if !isModelNotConfigured(err) {
		t.Errorf("expected ErrModelNotConfigured, got %v", err)
	}

	_, err = p.GenerateText(context.Background(), "x", nil, nil)
	if !isModelNotConfigured(err) {
		t.Errorf("expected ErrModelNotConfigured for generation, got %v", err)
	}
}

func TestOpenAIEmbedSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAI(context.Background(), &OpenAIConfig{
		BaseURL:        srv.URL,
		APIKey:         "k",
		EmbeddingModel: "m",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.EmbedBatch(context.Background(), []string{"x"}, InputQuery)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}

func TestNewOpenAIRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAI(context.Background(), &OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}
