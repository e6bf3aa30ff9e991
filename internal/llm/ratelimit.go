package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an EmbeddingProvider with a token-bucket rate
// limiter so the paged indexing loop cannot exceed a sustained request rate
// against a paid provider API. Each EmbedBatch call consumes one token — the
// batch itself is the provider's unit of rate accounting.
type RateLimitedEmbedder struct {
	inner   EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a limiter allowing callsPerSecond
// sustained EmbedBatch calls and a burst of burst calls. Non-positive values
// select 2 calls/second with a burst of 4.
func NewRateLimitedEmbedder(inner EmbeddingProvider, callsPerSecond float64, burst int) *RateLimitedEmbedder {
	if callsPerSecond <= 0 {
		callsPerSecond = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

// EmbedBatch blocks until the limiter grants a slot, then delegates to the
// wrapped provider. Context cancellation interrupts the wait.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return r.inner.EmbedBatch(ctx, texts, input)
}

// EmbeddingSize returns the wrapped provider's embedding dimensionality.
func (r *RateLimitedEmbedder) EmbeddingSize() int {
	return r.inner.EmbeddingSize()
}
