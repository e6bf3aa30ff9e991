package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Provider enumerates the supported vector store backends.
type Provider string

const (
	// ProviderQdrant selects the Qdrant point store over gRPC.
	ProviderQdrant Provider = "qdrant"
	// ProviderPGVector selects PostgreSQL with the pgvector extension.
	ProviderPGVector Provider = "pgvector"
)

// NewFromEnv constructs a VectorStore from environment variables.
//
// VECTORDB_PROVIDER selects the backend (default: qdrant), VECTORDB_DISTANCE
// the similarity metric (cosine or dot, default: cosine). Qdrant reads
// QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, and QDRANT_TLS; pgvector reads
// POSTGRES_DSN, PGVECTOR_INDEX_TYPE, and PGVECTOR_INDEX_THRESHOLD.
func NewFromEnv(ctx context.Context, log *slog.Logger) (VectorStore, error) {
	provider := envOrDefault("VECTORDB_PROVIDER", string(ProviderQdrant))

	distance := Distance(envOrDefault("VECTORDB_DISTANCE", string(DistanceCosine)))
	switch distance {
	case DistanceCosine, DistanceDot:
	default:
		return nil, fmt.Errorf("vectordb: unknown distance metric %q (valid values: cosine, dot)", distance)
	}

	switch Provider(provider) {
	case ProviderQdrant:
		return NewQdrantStore(&QdrantConfig{
			Host:     envOrDefault("QDRANT_HOST", "localhost"),
			Port:     envInt("QDRANT_PORT", 6334),
			APIKey:   os.Getenv("QDRANT_API_KEY"),
			UseTLS:   os.Getenv("QDRANT_TLS") == "true",
			Distance: distance,
			Logger:   log,
		})

	case ProviderPGVector:
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("vectordb: pgvector backend requires POSTGRES_DSN to be set")
		}
		return NewPGVectorStore(ctx, &PGVectorConfig{
			DSN:            dsn,
			Distance:       distance,
			IndexType:      os.Getenv("PGVECTOR_INDEX_TYPE"),
			IndexThreshold: envInt("PGVECTOR_INDEX_THRESHOLD", DefaultIndexThreshold),
			Logger:         log,
		})

	default:
		return nil, fmt.Errorf("vectordb: unknown provider %q (valid values: qdrant, pgvector)", provider)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
