// Package vectordb defines the vector store capability of the RAG backend
// and its two implementations: a Qdrant point store and a PostgreSQL +
// pgvector relational store. The two backends expose the same operations but
// keep materially different consistency models — Qdrant overwrites points by
// id (idempotent re-indexing), pgvector appends rows (re-indexing without a
// reset accumulates duplicates). Callers must not assume one behaves like
// the other.
package vectordb

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBatchSize is the upsert batch size used when the caller passes zero.
const DefaultBatchSize = 50

// Distance selects the similarity metric of a collection.
type Distance string

const (
	// DistanceCosine ranks by cosine similarity.
	DistanceCosine Distance = "cosine"
	// DistanceDot ranks by dot product.
	DistanceDot Distance = "dot"
)

// Sentinel errors shared by all backends.
var (
	// ErrMismatchedBatch is returned when the texts, vectors, and record id
	// slices passed to UpsertBatch have different lengths. It is a
	// configuration error: no writes are performed and callers must not
	// retry.
	ErrMismatchedBatch = errors.New("vectordb: texts, vectors, and record ids must have equal lengths")

	// ErrCollectionNotFound is returned by write operations against a
	// collection that does not exist.
	ErrCollectionNotFound = errors.New("vectordb: collection does not exist")
)

// RetrievedDocument is the ephemeral result of a similarity search. It has
// no persistent identity.
type RetrievedDocument struct {
	// Text is the stored chunk text.
	Text string `json:"text"`

	// Score is the similarity score, higher is more similar. Cosine scores
	// are in [0, 1] with 1.0 for identical vectors.
	Score float32 `json:"score"`
}

// CollectionInfo describes a collection. RecordCount is uniform across
// backends; the remaining fields are backend-specific and may be zero.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`

	// RecordCount is the number of stored vectors.
	RecordCount int64 `json:"record_count"`

	// Status is the backend's own status/owner description.
	Status string `json:"status,omitempty"`

	// HasIndexes reports whether a secondary similarity index exists
	// (relational backend only).
	HasIndexes bool `json:"has_indexes,omitempty"`
}

// VectorStore is the capability every vector backend implements.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates the named collection with the given vector
	// dimensionality and returns true when a collection was created. If the
	// collection already exists and doReset is false it returns false
	// without error, and never changes the existing collection's
	// dimensionality. With doReset the existing collection is deleted first.
	CreateCollection(ctx context.Context, name string, vectorSize int, doReset bool) (bool, error)

	// DeleteCollection removes the named collection, returning true when a
	// collection was deleted. Deleting a collection that does not exist is
	// not an error.
	DeleteCollection(ctx context.Context, name string) (bool, error)

	// UpsertBatch stores the given records in batches of batchSize. Batches
	// are applied independently: a failure in one batch fails the whole
	// call but earlier batches may already be applied. The texts, vectors,
	// and recordIDs slices must be parallel; metadatas may be nil or
	// parallel.
	UpsertBatch(ctx context.Context, name string, texts []string, vectors [][]float32, metadatas []map[string]any, recordIDs []int64, batchSize int) error

	// SearchByVector returns the top-limit most similar documents, highest
	// similarity first. A missing or empty collection yields an empty
	// result, not an error.
	SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]RetrievedDocument, error)

	// CollectionInfo returns descriptive metadata incl. the record count.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// validateBatch checks the UpsertBatch length precondition and normalizes
// the batch size. It is shared by both backends so they fail identically.
func validateBatch(texts []string, vectors [][]float32, recordIDs []int64, batchSize int) (int, error) {
	if len(texts) != len(vectors) || len(texts) != len(recordIDs) {
		return 0, fmt.Errorf("%w: texts=%d vectors=%d record_ids=%d",
			ErrMismatchedBatch, len(texts), len(vectors), len(recordIDs))
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return batchSize, nil
}
