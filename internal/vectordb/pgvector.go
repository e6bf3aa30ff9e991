package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DefaultIndexThreshold is the row count below which no similarity index is
// built. Sequential scans beat index maintenance for small collections.
const DefaultIndexThreshold = 100

// pgDuplicateObject is the PostgreSQL SQLSTATE for duplicate relations
// (tables and indexes). Creation races lose to it, not to a logic error.
const pgDuplicateObject = "42P07"

// identPattern restricts collection names that get interpolated into DDL.
// Collection names are machine-derived, but this is the last line of defense
// against a crafted project id reaching a CREATE TABLE statement.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGVectorConfig holds connection parameters for the pgvector store.
type PGVectorConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Distance is the similarity metric (default: cosine).
	Distance Distance

	// IndexType is the secondary index access method: "hnsw" (default) or
	// "ivfflat".
	IndexType string

	// IndexThreshold is the minimum row count before a similarity index is
	// built (default: 100).
	IndexThreshold int

	// Logger is the structured logger. Nil selects slog.Default.
	Logger *slog.Logger
}

// PGVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension. Each collection is a physical table with a generated primary
// key, so inserts are append-only: re-indexing the same record id without a
// reset accumulates duplicate rows. A graph similarity index is built lazily
// once the row count crosses the configured threshold.
type PGVectorStore struct {
	pool *pgxpool.Pool

	// indexType is the index access method used for CREATE INDEX.
	indexType string

	// indexOps is the pgvector operator class matching the distance metric.
	indexOps string

	// scoreExpr computes the similarity score of the vector column against
	// the $1 query parameter, higher = more similar.
	scoreExpr string

	// indexThreshold is the minimum row count before an index is created.
	indexThreshold int

	log *slog.Logger
}

// NewPGVectorStore connects to PostgreSQL, registers the pgvector types on
// every pooled connection, and best-effort enables the vector extension.
func NewPGVectorStore(ctx context.Context, cfg *PGVectorConfig) (*PGVectorStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: invalid DSN: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to create pool: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	indexType := cfg.IndexType
	if indexType == "" {
		indexType = "hnsw"
	}
	threshold := cfg.IndexThreshold
	if threshold <= 0 {
		threshold = DefaultIndexThreshold
	}

	s := &PGVectorStore{
		pool:           pool,
		indexType:      indexType,
		indexOps:       "vector_cosine_ops",
		scoreExpr:      "1 - (vector <=> $1)",
		indexThreshold: threshold,
		log:            log,
	}
	if cfg.Distance == DistanceDot {
		s.indexOps = "vector_ip_ops"
		s.scoreExpr = "(vector <#> $1) * -1"
	}

	// Enabling the extension needs elevated privileges on managed hosts;
	// warn and continue so a pre-provisioned database still works.
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Warn("pgvector: could not enable vector extension", slog.String("error", err.Error()))
	}

	return s, nil
}

// validateIdent rejects collection names unsafe to interpolate into DDL.
func validateIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("pgvector: invalid collection name %q", name)
	}
	return nil
}

// indexName returns the deterministic similarity index name for a collection.
func indexName(collection string) string {
	return collection + "_vector_idx"
}

// CollectionExists reports whether the collection table exists.
func (s *PGVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, "SELECT 1 FROM pg_tables WHERE tablename = $1", name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgvector: failed to check collection existence: %w", err)
	}
	return true, nil
}

// CreateCollection creates the collection table if absent, dropping any
// existing one first when doReset is set. Returns true when a table was
// created.
func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, vectorSize int, doReset bool) (bool, error) {
	if err := validateIdent(name); err != nil {
		return false, err
	}

	if doReset {
		if _, err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	s.log.Info("pgvector: creating collection table", slog.String("collection", name), slog.Int("vector_size", vectorSize))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("pgvector: begin create: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	createSQL := fmt.Sprintf(`
		CREATE TABLE %s (
			id bigserial PRIMARY KEY,
			text text,
			vector vector(%d),
			metadata jsonb DEFAULT '{}',
			chunk_id bigint
		)`, name, vectorSize)

	if _, err := tx.Exec(ctx, createSQL); err != nil {
		// Check-then-act above is not atomic against concurrent creators;
		// a duplicate-relation error means someone else won the race.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateObject {
			return false, nil
		}
		return false, fmt.Errorf("pgvector: failed to create collection %q: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("pgvector: commit create: %w", err)
	}

	return true, nil
}

// DeleteCollection drops the collection table if it exists. Returns true
// when a table was dropped.
func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	if err := validateIdent(name); err != nil {
		return false, err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	s.log.Info("pgvector: dropping collection table", slog.String("collection", name))

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return false, fmt.Errorf("pgvector: failed to drop collection %q: %w", name, err)
	}
	return true, nil
}

// IndexExists reports whether the collection's similarity index exists.
func (s *PGVectorStore) IndexExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM pg_indexes WHERE tablename = $1 AND indexname = $2",
		name, indexName(name)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgvector: failed to check index existence: %w", err)
	}
	return true, nil
}

// CreateVectorIndex builds the similarity index once the collection's row
// count has crossed the configured threshold. The index is built at most
// once — an existing index is never rebuilt here (see ResetIndex). Returns
// true when an index was created.
func (s *PGVectorStore) CreateVectorIndex(ctx context.Context, name string) (bool, error) {
	if err := validateIdent(name); err != nil {
		return false, err
	}

	exists, err := s.IndexExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("pgvector: begin index build: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var count int64
	if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&count); err != nil {
		return false, fmt.Errorf("pgvector: failed to count rows in %q: %w", name, err)
	}
	if count < int64(s.indexThreshold) {
		return false, nil
	}

	s.log.Info("pgvector: building similarity index",
		slog.String("collection", name),
		slog.Int64("rows", count),
		slog.String("type", s.indexType),
	)

	createSQL := fmt.Sprintf("CREATE INDEX %s ON %s USING %s (vector %s)",
		indexName(name), name, s.indexType, s.indexOps)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateObject {
			return false, nil
		}
		return false, fmt.Errorf("pgvector: failed to create index on %q: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("pgvector: commit index build: %w", err)
	}

	return true, nil
}

// ResetIndex drops the similarity index unconditionally and rebuilds it
// through the usual threshold gate.
func (s *PGVectorStore) ResetIndex(ctx context.Context, name string) (bool, error) {
	if err := validateIdent(name); err != nil {
		return false, err
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName(name))); err != nil {
		return false, fmt.Errorf("pgvector: failed to drop index on %q: %w", name, err)
	}

	return s.CreateVectorIndex(ctx, name)
}

// UpsertBatch appends the records to the collection table in independent
// transactions of batchSize rows each — a mid-batch failure leaves the table
// at the last committed batch boundary, never partially written within one
// commit. Unlike the point-store backend, repeated record ids accumulate
// duplicate rows: inserts are append-only.
func (s *PGVectorStore) UpsertBatch(ctx context.Context, name string, texts []string, vectors [][]float32, metadatas []map[string]any, recordIDs []int64, batchSize int) error {
	batchSize, err := validateBatch(texts, vectors, recordIDs, batchSize)
	if err != nil {
		return err
	}
	if err := validateIdent(name); err != nil {
		return err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("pgvector: %w: %s", ErrCollectionNotFound, name)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (text, vector, metadata, chunk_id) VALUES ($1, $2, $3, $4)", name)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := s.insertBatchTx(ctx, insertSQL, texts[start:end], vectors[start:end], sliceMeta(metadatas, start, end), recordIDs[start:end]); err != nil {
			return fmt.Errorf("pgvector: insert batch starting at %d failed: %w", start, err)
		}
	}

	if _, err := s.CreateVectorIndex(ctx, name); err != nil {
		return err
	}

	return nil
}

// insertBatchTx applies one batch of rows in a single transaction.
func (s *PGVectorStore) insertBatchTx(ctx context.Context, insertSQL string, texts []string, vectors [][]float32, metadatas []map[string]any, recordIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	batch := &pgx.Batch{}
	for i := range texts {
		metaJSON := []byte("{}")
		if metadatas != nil && metadatas[i] != nil {
			metaJSON, err = json.Marshal(metadatas[i])
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}
		batch.Queue(insertSQL, texts[i], pgvector.NewVector(vectors[i]), metaJSON, recordIDs[i])
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sliceMeta returns metadatas[start:end], or nil when no metadata was given.
func sliceMeta(metadatas []map[string]any, start, end int) []map[string]any {
	if metadatas == nil {
		return nil
	}
	return metadatas[start:end]
}

// SearchByVector returns the top-limit rows by similarity score, highest
// first. A missing collection yields an empty result.
func (s *PGVectorStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]RetrievedDocument, error) {
	if err := validateIdent(name); err != nil {
		return nil, err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.log.Warn("pgvector: search against missing collection", slog.String("collection", name))
		return nil, nil
	}

	searchSQL := fmt.Sprintf(
		"SELECT text, %s AS score FROM %s ORDER BY score DESC LIMIT $2",
		s.scoreExpr, name)

	rows, err := s.pool.Query(ctx, searchSQL, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search failed: %w", err)
	}
	defer rows.Close()

	var docs []RetrievedDocument
	for rows.Next() {
		var doc RetrievedDocument
		var score float64
		if err := rows.Scan(&doc.Text, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan search row: %w", err)
		}
		doc.Score = float32(score)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}

	return docs, nil
}

// CollectionInfo returns the table description and row count.
func (s *PGVectorStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if err := validateIdent(name); err != nil {
		return nil, err
	}

	var owner string
	var hasIndexes bool
	err := s.pool.QueryRow(ctx,
		"SELECT tableowner, hasindexes FROM pg_tables WHERE tablename = $1", name).
		Scan(&owner, &hasIndexes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pgvector: %w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to describe collection %q: %w", name, err)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&count); err != nil {
		return nil, fmt.Errorf("pgvector: failed to count rows in %q: %w", name, err)
	}

	return &CollectionInfo{
		Name:        name,
		RecordCount: count,
		Status:      "owner=" + owner,
		HasIndexes:  hasIndexes,
	}, nil
}

// Ping reports whether the database is reachable.
func (s *PGVectorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}
