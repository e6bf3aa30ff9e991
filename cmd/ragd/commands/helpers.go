package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/54b3r/ragd-go/internal/llm"
	"github.com/54b3r/ragd-go/internal/pipeline"
	"github.com/54b3r/ragd-go/internal/process"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/templates"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// appEnv bundles the wired application components the commands share.
type appEnv struct {
	Store     *store.SQLiteStore
	VectorDB  vectordb.VectorStore
	Embedder  llm.EmbeddingProvider
	Generator llm.GenerationProvider
	Processor *process.Processor
	Pipeline  *pipeline.Pipeline
}

// buildEnv wires the metadata store, vector store, providers, and pipelines
// from the environment. The generation provider is only constructed when
// withGeneration is true, so commands that never generate text do not need
// generation credentials. The returned cleanup function must be called
// before process exit.
func buildEnv(ctx context.Context, log *slog.Logger, withGeneration bool) (*appEnv, func(), error) {
	dbPath := os.Getenv("RAGD_DB_PATH")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve database path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}

	vdb, err := vectordb.NewFromEnv(ctx, log)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("initialise vector store: %w", err)
	}

	cleanup := func() {
		_ = vdb.Close()
		_ = st.Close()
	}

	embedder, err := llm.NewEmbeddingFromEnv(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initialise embedding provider: %w", err)
	}
	// EMBEDDING_RATE_LIMIT > 0 caps calls against the provider API so the
	// paged indexing loop cannot trip vendor throttling.
	if rps, _ := strconv.ParseFloat(os.Getenv("EMBEDDING_RATE_LIMIT"), 64); rps > 0 {
		burst, _ := strconv.Atoi(os.Getenv("EMBEDDING_RATE_BURST"))
		embedder = llm.NewRateLimitedEmbedder(embedder, rps, burst)
	}

	var generator llm.GenerationProvider
	if withGeneration {
		generator, err = llm.NewGenerationFromEnv(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("initialise generation provider: %w", err)
		}
	}

	prompts, err := templates.New(os.Getenv("DEFAULT_LOCALE"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load prompt templates: %w", err)
	}

	processor, err := process.New(&process.Config{
		AssetsDir:   assetsDir(),
		Store:       st,
		Collections: vdb,
		Logger:      log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	pipe := pipeline.New(&pipeline.Config{
		Chunks:    st,
		VectorDB:  vdb,
		Embedder:  embedder,
		Generator: generator,
		Prompts:   prompts,
		Logger:    log,
	})

	return &appEnv{
		Store:     st,
		VectorDB:  vdb,
		Embedder:  embedder,
		Generator: generator,
		Processor: processor,
		Pipeline:  pipe,
	}, cleanup, nil
}

// assetsDir resolves the upload storage directory. RAGD_ASSETS_DIR overrides
// the default ~/.ragd/assets.
func assetsDir() string {
	if dir := os.Getenv("RAGD_ASSETS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ragd", "assets")
	}
	return filepath.Join(home, ".ragd", "assets")
}

// projectFromArg parses a project id argument and resolves it to a project
// row, creating one on first use.
func projectFromArg(ctx context.Context, st *store.SQLiteStore, arg string) (*store.Project, error) {
	projectID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || projectID < 0 {
		return nil, fmt.Errorf("project id must be a non-negative integer, got %q", arg)
	}
	project, err := st.GetOrCreateProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolve project %d: %w", projectID, err)
	}
	return project, nil
}
