// Package process implements asset intake and file processing: uploads are
// validated and stored under a per-project directory, then processed into
// ordered text chunks persisted in the metadata store. Processing feeds the
// indexing pipeline but never touches the embedding provider itself.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/ragd-go/internal/splitter"
	"github.com/54b3r/ragd-go/internal/store"
)

// Defaults applied when Options fields are zero.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// DefaultMaxUploadBytes caps upload size at 10 MiB.
	DefaultMaxUploadBytes = 10 << 20
)

// AssetTypeFile is the asset type recorded for uploaded files.
const AssetTypeFile = "file"

// Sentinel errors.
var (
	// ErrUnsupportedFileType is returned for extensions no loader handles.
	ErrUnsupportedFileType = errors.New("process: unsupported file type")

	// ErrFileTooLarge is returned when an upload exceeds the size cap.
	ErrFileTooLarge = errors.New("process: file exceeds the maximum upload size")

	// ErrNoAssets is returned when a project has nothing to process.
	ErrNoAssets = errors.New("process: no assets to process")
)

// unsafeFilenameChars matches everything stripped out of uploaded file names.
var unsafeFilenameChars = regexp.MustCompile(`[^\w.-]`)

// AssetStore is the slice of the metadata store processing needs.
// *store.SQLiteStore satisfies it.
type AssetStore interface {
	InsertAsset(ctx context.Context, asset *store.Asset) (*store.Asset, error)
	GetAsset(ctx context.Context, projectID int64, name string) (*store.Asset, error)
	GetProjectAssets(ctx context.Context, projectID int64, assetType string) ([]store.Asset, error)
	InsertChunks(ctx context.Context, chunks []*store.Chunk) (int, error)
	DeleteProjectChunks(ctx context.Context, projectID int64) (int64, error)
}

// CollectionDropper removes a vector collection during a processing reset.
// The vector store satisfies it.
type CollectionDropper interface {
	DeleteCollection(ctx context.Context, name string) (bool, error)
}

// Config holds the processor's dependencies and limits.
type Config struct {
	// AssetsDir is the root directory uploads are stored under, one
	// subdirectory per project.
	AssetsDir string

	// Store persists assets and chunks.
	Store AssetStore

	// Collections is used to drop a project's vector collection on reset.
	Collections CollectionDropper

	// MaxUploadBytes caps upload size (default: 10 MiB).
	MaxUploadBytes int64

	// Logger is the structured logger. Nil selects slog.Default.
	Logger *slog.Logger
}

// Processor stores uploads and turns them into chunk rows.
type Processor struct {
	assetsDir      string
	store          AssetStore
	collections    CollectionDropper
	maxUploadBytes int64
	log            *slog.Logger
}

// New returns a Processor over the given config.
func New(cfg *Config) (*Processor, error) {
	if cfg.AssetsDir == "" {
		return nil, fmt.Errorf("process: assets directory must be set")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("process: store must not be nil")
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		assetsDir:      cfg.AssetsDir,
		store:          cfg.Store,
		collections:    cfg.Collections,
		maxUploadBytes: maxBytes,
		log:            log,
	}, nil
}

// CleanFilename strips unsafe characters from an uploaded file name and
// lowercases it.
func CleanFilename(name string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.ToLower(cleaned)
}

// SaveUpload validates and stores an uploaded file under the project's asset
// directory, records the asset row, and returns it. The stored name carries
// a random prefix so repeated uploads of the same file never collide.
func (p *Processor) SaveUpload(ctx context.Context, project *store.Project, filename string, r io.Reader) (*store.Asset, error) {
	if _, err := loaderFor(filename); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.assetsDir, fmt.Sprintf("%d", project.ProjectID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("process: create project dir: %w", err)
	}

	storedName := uuid.NewString()[:8] + "_" + CleanFilename(filename)
	path := filepath.Join(dir, storedName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("process: create upload file: %w", err)
	}
	defer f.Close()

	// Read one byte past the cap to tell "exactly at the limit" from "over".
	written, err := io.Copy(f, io.LimitReader(r, p.maxUploadBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("process: write upload: %w", err)
	}
	if written > p.maxUploadBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, p.maxUploadBytes)
	}

	asset, err := p.store.InsertAsset(ctx, &store.Asset{
		ProjectID: project.ID,
		Type:      AssetTypeFile,
		Name:      storedName,
		Size:      written,
	})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	p.log.Info("process: upload stored",
		slog.Int64("project_id", project.ProjectID),
		slog.String("asset", storedName),
		slog.Int64("bytes", written),
	)
	return asset, nil
}

// Options tunes one Process call.
type Options struct {
	// AssetName selects a single asset by stored name; empty processes all
	// of the project's file assets.
	AssetName string

	// ChunkSize is the maximum characters per chunk (default: 500).
	ChunkSize int

	// ChunkOverlap is the characters shared between consecutive chunks
	// (default: 50).
	ChunkOverlap int

	// Reset drops the project's vector collection and chunk rows before
	// processing, so the fresh chunks fully replace the old state.
	Reset bool

	// Collection is the vector collection dropped on reset.
	Collection string
}

// Result reports what a Process call did.
type Result struct {
	// InsertedChunks is the number of chunk rows written.
	InsertedChunks int `json:"inserted_chunks"`

	// ProcessedFiles is the number of assets processed.
	ProcessedFiles int `json:"processed_files"`
}

// Process loads the selected assets, splits their text into chunks, and
// persists the chunks. Unlike an index reset, a processing reset continues:
// old state is dropped and the assets are re-processed in the same call.
func (p *Processor) Process(ctx context.Context, project *store.Project, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := opts.ChunkOverlap
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	split, err := splitter.New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}

	var assets []store.Asset
	if opts.AssetName != "" {
		asset, err := p.store.GetAsset(ctx, project.ID, opts.AssetName)
		if err != nil {
			return nil, err
		}
		assets = []store.Asset{*asset}
	} else {
		assets, err = p.store.GetProjectAssets(ctx, project.ID, AssetTypeFile)
		if err != nil {
			return nil, err
		}
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: project %d", ErrNoAssets, project.ProjectID)
	}

	if opts.Reset {
		if p.collections != nil && opts.Collection != "" {
			if _, err := p.collections.DeleteCollection(ctx, opts.Collection); err != nil {
				return nil, fmt.Errorf("process: reset collection %s: %w", opts.Collection, err)
			}
		}
		if _, err := p.store.DeleteProjectChunks(ctx, project.ID); err != nil {
			return nil, fmt.Errorf("process: reset chunks of project %d: %w", project.ProjectID, err)
		}
	}

	res := &Result{}
	for _, asset := range assets {
		pages, err := p.loadAsset(project, &asset)
		if err != nil {
			// One bad file should not sink the rest of the batch.
			p.log.Error("process: skipping unreadable asset",
				slog.String("asset", asset.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		chunks := split.Split(pages)
		if len(chunks) == 0 {
			p.log.Warn("process: asset produced no chunks", slog.String("asset", asset.Name))
			continue
		}

		rows := make([]*store.Chunk, len(chunks))
		for i, c := range chunks {
			rows[i] = &store.Chunk{
				Text:      c.Text,
				Metadata:  c.Metadata,
				Order:     c.Order,
				ProjectID: project.ID,
				AssetID:   asset.ID,
			}
		}

		inserted, err := p.store.InsertChunks(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("process: insert chunks of %s: %w", asset.Name, err)
		}
		res.InsertedChunks += inserted
		res.ProcessedFiles++
	}

	p.log.Info("process: project processed",
		slog.Int64("project_id", project.ProjectID),
		slog.Int("files", res.ProcessedFiles),
		slog.Int("chunks", res.InsertedChunks),
	)
	return res, nil
}

// loader reads an asset file into pages.
type loader func(path, source string) ([]splitter.Page, error)

// loaderFor selects the loader by file extension.
func loaderFor(name string) (loader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return loadText, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(name))
	}
}

// loadText reads a plain-text file as a single page.
func loadText(path, source string) ([]splitter.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return []splitter.Page{{
		Text:     string(data),
		Metadata: map[string]any{"source": source},
	}}, nil
}

// loadAsset resolves the asset's on-disk path and loads its pages.
func (p *Processor) loadAsset(project *store.Project, asset *store.Asset) ([]splitter.Page, error) {
	load, err := loaderFor(asset.Name)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(p.assetsDir, fmt.Sprintf("%d", project.ProjectID), asset.Name)
	return load(path, asset.Name)
}
