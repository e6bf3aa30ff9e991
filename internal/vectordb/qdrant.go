package vectordb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Distance is the similarity metric for new collections
	// (default: cosine).
	Distance Distance

	// Logger is the structured logger. Nil selects slog.Default.
	Logger *slog.Logger
}

// QdrantStore implements VectorStore backed by a Qdrant instance. Points
// carry explicit externally-assigned numeric ids, so re-upserting the same
// record id overwrites in place — retrying an indexing run is naturally
// idempotent on this backend.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// distance is the metric applied to newly created collections.
	distance qdrant.Distance

	// log is the structured logger for this store.
	log *slog.Logger
}

// NewQdrantStore connects to Qdrant and returns a ready-to-use store.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	distance := qdrant.Distance_Cosine
	if cfg.Distance == DistanceDot {
		distance = qdrant.Distance_Dot
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &QdrantStore{client: client, distance: distance, log: log}, nil
}

// CollectionExists reports whether the named collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	return exists, nil
}

// CreateCollection creates the collection if absent, deleting any existing
// one first when doReset is set. Returns true when a collection was created.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, vectorSize int, doReset bool) (bool, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}

	if doReset && exists {
		if _, err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
		exists = false
	}

	if exists {
		return false, nil
	}

	s.log.Info("qdrant: creating collection", slog.String("collection", name), slog.Int("vector_size", vectorSize))

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: s.distance,
		}),
	})
	if err != nil {
		// The existence check above is not atomic against concurrent
		// creators; if someone else won the race, treat it as not-created.
		if nowExists, checkErr := s.CollectionExists(ctx, name); checkErr == nil && nowExists {
			return false, nil
		}
		return false, fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	return true, nil
}

// DeleteCollection removes the collection if it exists. Returns true when a
// collection was deleted.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	s.log.Info("qdrant: deleting collection", slog.String("collection", name))

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return false, fmt.Errorf("qdrant: failed to delete collection %q: %w", name, err)
	}
	return true, nil
}

// UpsertBatch stores the records in batches. Point ids are the given record
// ids, so repeated upserts of the same id overwrite the stored point.
func (s *QdrantStore) UpsertBatch(ctx context.Context, name string, texts []string, vectors [][]float32, metadatas []map[string]any, recordIDs []int64, batchSize int) error {
	batchSize, err := validateBatch(texts, vectors, recordIDs, batchSize)
	if err != nil {
		return err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("qdrant: %w: %s", ErrCollectionNotFound, name)
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			payload := map[string]any{"text": texts[i]}
			if metadatas != nil && metadatas[i] != nil {
				payload["metadata"] = metadatas[i]
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(recordIDs[i])),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(payload),
			})
		}

		// Wait for the write to be applied so a CollectionInfo call right
		// after indexing reports the new points.
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		}); err != nil {
			return fmt.Errorf("qdrant: upsert batch starting at %d failed: %w", start, err)
		}
	}

	return nil
}

// SearchByVector performs a similarity search and returns the top-limit
// results, highest score first. A missing collection yields an empty result.
func (s *QdrantStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]RetrievedDocument, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.log.Warn("qdrant: search against missing collection", slog.String("collection", name))
		return nil, nil
	}

	limit64 := uint64(limit)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]RetrievedDocument, 0, len(results))
	for _, r := range results {
		doc := RetrievedDocument{Score: r.Score}
		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				doc.Text = v.GetStringValue()
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// CollectionInfo returns the point count and collection status.
func (s *QdrantStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("qdrant: %w: %s", ErrCollectionNotFound, name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to get collection info for %q: %w", name, err)
	}

	out := &CollectionInfo{Name: name, Status: info.GetStatus().String()}
	if c := info.GetPointsCount(); c != 0 {
		out.RecordCount = int64(c)
	}
	return out, nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
