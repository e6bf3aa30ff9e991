// Package store provides the SQLite-backed metadata store for the RAG
// backend: projects, their uploaded assets, and the text chunks produced by
// processing them. Chunk rows are the durable source of truth — the vector
// database can always be rebuilt from them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Batching and paging defaults shared with callers.
const (
	// ChunkInsertBatchSize is the number of chunk rows written per
	// transaction by InsertChunks.
	ChunkInsertBatchSize = 100

	// DefaultPageSize is the page size used by paged reads when the caller
	// passes zero.
	DefaultPageSize = 50
)

// Sentinel errors.
var (
	// ErrAssetNotFound is returned when a named asset does not exist for a
	// project.
	ErrAssetNotFound = errors.New("store: asset not found")

	// ErrProjectNotFound is returned when a project id has no row.
	ErrProjectNotFound = errors.New("store: project not found")
)

// Project is a tenant namespace. Chunks and assets belong to exactly one
// project, and each project maps to one vector collection per embedding size.
type Project struct {
	// ID is the surrogate primary key.
	ID int64
	// ProjectID is the external identifier supplied by the caller.
	ProjectID int64
	// CreatedAt is when the project row was first created.
	CreatedAt time.Time
}

// Asset is an uploaded source document belonging to a project.
type Asset struct {
	// ID is the surrogate primary key.
	ID int64
	// ProjectID references Project.ID.
	ProjectID int64
	// Type classifies the asset, e.g. "file".
	Type string
	// Name is the stored file name, unique within a project.
	Name string
	// Size is the asset size in bytes.
	Size int64
	// Config carries optional processing parameters.
	Config map[string]any
	// CreatedAt is when the asset row was created.
	CreatedAt time.Time
}

// Chunk is one unit of processed text. Its primary key is the persistent
// identity used as the vector record id, so re-processing an asset yields
// new ids and a reset is required to drop the old ones.
type Chunk struct {
	// ID is the surrogate primary key and the vector record id.
	ID int64
	// Text is the chunk content.
	Text string
	// Metadata carries source attributes such as the origin page.
	Metadata map[string]any
	// Order is the 1-based position of the chunk within its asset.
	Order int
	// ProjectID references Project.ID.
	ProjectID int64
	// AssetID references Asset.ID.
	AssetID int64
}

// Store persists projects, assets, and chunks. Implementations must be safe
// for concurrent use.
type Store interface {
	// GetOrCreateProject returns the project with the given external id,
	// creating it on first use.
	GetOrCreateProject(ctx context.Context, projectID int64) (*Project, error)
	// GetProjects returns one page of projects ordered by id, plus the
	// total page count.
	GetProjects(ctx context.Context, pageNo, pageSize int) ([]Project, int, error)

	// InsertAsset persists an asset row and returns it with ID set.
	InsertAsset(ctx context.Context, asset *Asset) (*Asset, error)
	// GetAsset returns the named asset of a project, or ErrAssetNotFound.
	GetAsset(ctx context.Context, projectID int64, name string) (*Asset, error)
	// GetProjectAssets returns all assets of a project with the given type,
	// ordered by id.
	GetProjectAssets(ctx context.Context, projectID int64, assetType string) ([]Asset, error)

	// InsertChunks persists chunks in batches and returns the number of
	// rows written. The returned chunks have their IDs set.
	InsertChunks(ctx context.Context, chunks []*Chunk) (int, error)
	// GetProjectChunks returns one page of a project's chunks ordered by
	// id ascending.
	GetProjectChunks(ctx context.Context, projectID int64, pageNo, pageSize int) ([]Chunk, error)
	// DeleteProjectChunks removes all chunks of a project and returns the
	// number of rows deleted.
	DeleteProjectChunks(ctx context.Context, projectID int64) (int64, error)
	// CountProjectChunks returns the number of chunks a project has.
	CountProjectChunks(ctx context.Context, projectID int64) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the metadata database. It
// resolves to ~/.ragd/ragd.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ragd.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS projects (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id  INTEGER NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS assets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id  INTEGER NOT NULL REFERENCES projects(id),
    asset_type  TEXT    NOT NULL,
    asset_name  TEXT    NOT NULL,
    asset_size  INTEGER NOT NULL DEFAULT 0,
    config      TEXT,
    created_at  INTEGER NOT NULL,
    UNIQUE (project_id, asset_name)
);
CREATE INDEX IF NOT EXISTS idx_assets_project_type
    ON assets (project_id, asset_type);
CREATE TABLE IF NOT EXISTS chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_text  TEXT    NOT NULL,
    metadata    TEXT,
    chunk_order INTEGER NOT NULL,
    project_id  INTEGER NOT NULL REFERENCES projects(id),
    asset_id    INTEGER NOT NULL REFERENCES assets(id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_project
    ON chunks (project_id, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// GetOrCreateProject returns the project with the given external id, creating
// a row on first use.
func (s *SQLiteStore) GetOrCreateProject(ctx context.Context, projectID int64) (*Project, error) {
	p, err := s.getProject(ctx, projectID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProjectNotFound) {
		return nil, err
	}

	const q = `INSERT INTO projects (project_id, created_at) VALUES (?, ?)
               ON CONFLICT (project_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, projectID, time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	return s.getProject(ctx, projectID)
}

func (s *SQLiteStore) getProject(ctx context.Context, projectID int64) (*Project, error) {
	const q = `SELECT id, project_id, created_at FROM projects WHERE project_id = ?`
	var p Project
	var ts int64
	err := s.db.QueryRowContext(ctx, q, projectID).Scan(&p.ID, &p.ProjectID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: project %d: %w", projectID, ErrProjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	p.CreatedAt = time.Unix(ts, 0)
	return &p, nil
}

// GetProjects returns one page of projects ordered by id, plus the total
// page count.
func (s *SQLiteStore) GetProjects(ctx context.Context, pageNo, pageSize int) ([]Project, int, error) {
	if pageNo < 1 {
		pageNo = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count projects: %w", err)
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))

	const q = `SELECT id, project_id, created_at FROM projects ORDER BY id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, pageSize, (pageNo-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var ts int64
		if err := rows.Scan(&p.ID, &p.ProjectID, &ts); err != nil {
			return nil, 0, fmt.Errorf("store: scan project: %w", err)
		}
		p.CreatedAt = time.Unix(ts, 0)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: project rows: %w", err)
	}
	return projects, pages, nil
}

// InsertAsset persists an asset row and returns it with ID and CreatedAt set.
func (s *SQLiteStore) InsertAsset(ctx context.Context, asset *Asset) (*Asset, error) {
	var cfg any
	if asset.Config != nil {
		b, err := json.Marshal(asset.Config)
		if err != nil {
			return nil, fmt.Errorf("store: marshal asset config: %w", err)
		}
		cfg = string(b)
	}

	now := time.Now()
	const q = `INSERT INTO assets (project_id, asset_type, asset_name, asset_size, config, created_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, asset.ProjectID, asset.Type, asset.Name, asset.Size, cfg, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: asset id: %w", err)
	}

	out := *asset
	out.ID = id
	out.CreatedAt = now
	return &out, nil
}

// GetAsset returns the named asset of a project, or ErrAssetNotFound.
func (s *SQLiteStore) GetAsset(ctx context.Context, projectID int64, name string) (*Asset, error) {
	const q = `SELECT id, project_id, asset_type, asset_name, asset_size, config, created_at
               FROM assets WHERE project_id = ? AND asset_name = ?`
	a, err := scanAsset(s.db.QueryRowContext(ctx, q, projectID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: asset %q in project %d: %w", name, projectID, ErrAssetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset: %w", err)
	}
	return a, nil
}

// GetProjectAssets returns all assets of a project with the given type,
// ordered by id.
func (s *SQLiteStore) GetProjectAssets(ctx context.Context, projectID int64, assetType string) ([]Asset, error) {
	const q = `SELECT id, project_id, asset_type, asset_name, asset_size, config, created_at
               FROM assets WHERE project_id = ? AND asset_type = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, projectID, assetType)
	if err != nil {
		return nil, fmt.Errorf("store: list assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: asset rows: %w", err)
	}
	return assets, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*Asset, error) {
	var a Asset
	var cfg sql.NullString
	var ts int64
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Name, &a.Size, &cfg, &ts); err != nil {
		return nil, err
	}
	if cfg.Valid && cfg.String != "" {
		if err := json.Unmarshal([]byte(cfg.String), &a.Config); err != nil {
			return nil, fmt.Errorf("unmarshal asset config: %w", err)
		}
	}
	a.CreatedAt = time.Unix(ts, 0)
	return &a, nil
}

// InsertChunks persists chunks in transactions of ChunkInsertBatchSize rows
// and returns the number of rows written. IDs are assigned on the passed
// chunks in order.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []*Chunk) (int, error) {
	inserted := 0
	for start := 0; start < len(chunks); start += ChunkInsertBatchSize {
		end := start + ChunkInsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		n, err := s.insertChunkBatch(ctx, chunks[start:end])
		inserted += n
		if err != nil {
			return inserted, fmt.Errorf("store: insert chunks batch at %d: %w", start, err)
		}
	}
	return inserted, nil
}

func (s *SQLiteStore) insertChunkBatch(ctx context.Context, chunks []*Chunk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const q = `INSERT INTO chunks (chunk_text, metadata, chunk_order, project_id, asset_id)
               VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var meta any
		if c.Metadata != nil {
			b, err := json.Marshal(c.Metadata)
			if err != nil {
				return 0, fmt.Errorf("marshal chunk metadata: %w", err)
			}
			meta = string(b)
		}
		res, err := stmt.ExecContext(ctx, c.Text, meta, c.Order, c.ProjectID, c.AssetID)
		if err != nil {
			return 0, fmt.Errorf("exec: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("chunk id: %w", err)
		}
		c.ID = id
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(chunks), nil
}

// GetProjectChunks returns one page of a project's chunks ordered by id
// ascending, so repeated paging walks the chunks in insertion order.
func (s *SQLiteStore) GetProjectChunks(ctx context.Context, projectID int64, pageNo, pageSize int) ([]Chunk, error) {
	if pageNo < 1 {
		pageNo = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	const q = `SELECT id, chunk_text, metadata, chunk_order, project_id, asset_id
               FROM chunks WHERE project_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageSize, (pageNo-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.Text, &meta, &c.Order, &c.ProjectID, &c.AssetID); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal chunk metadata: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunk rows: %w", err)
	}
	return chunks, nil
}

// DeleteProjectChunks removes all chunks of a project and returns the number
// of rows deleted.
func (s *SQLiteStore) DeleteProjectChunks(ctx context.Context, projectID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, fmt.Errorf("store: delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete chunks count: %w", err)
	}
	return n, nil
}

// CountProjectChunks returns the number of chunks a project has.
func (s *SQLiteStore) CountProjectChunks(ctx context.Context, projectID int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
