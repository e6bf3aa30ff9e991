// Package pipeline implements the indexing and retrieval flows of the RAG
// backend. It orchestrates the metadata store, the embedding and generation
// providers, the vector database, and the prompt templates, without owning
// any of them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragd-go/internal/llm"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/templates"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

const (
	// IndexPageSize is the number of chunks read from the store per page
	// while indexing.
	IndexPageSize = 50

	// DefaultSearchLimit is the number of documents retrieved when the
	// caller passes zero.
	DefaultSearchLimit = 5
)

// ChunkSource is the slice of the metadata store the pipeline reads chunks
// from. *store.SQLiteStore satisfies it.
type ChunkSource interface {
	GetProjectChunks(ctx context.Context, projectID int64, pageNo, pageSize int) ([]store.Chunk, error)
	DeleteProjectChunks(ctx context.Context, projectID int64) (int64, error)
	CountProjectChunks(ctx context.Context, projectID int64) (int64, error)
}

// Pipeline wires the RAG components together. All operations are keyed by a
// project row from the metadata store.
type Pipeline struct {
	chunks    ChunkSource
	vdb       vectordb.VectorStore
	embedder  llm.EmbeddingProvider
	generator llm.GenerationProvider
	prompts   *templates.Parser
	log       *slog.Logger
}

// Config collects the pipeline's collaborators. Generator may be nil when
// only indexing and search are needed.
type Config struct {
	Chunks    ChunkSource
	VectorDB  vectordb.VectorStore
	Embedder  llm.EmbeddingProvider
	Generator llm.GenerationProvider
	Prompts   *templates.Parser
	Logger    *slog.Logger
}

// New returns a Pipeline over the given collaborators.
func New(cfg *Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		chunks:    cfg.Chunks,
		vdb:       cfg.VectorDB,
		embedder:  cfg.Embedder,
		generator: cfg.Generator,
		prompts:   cfg.Prompts,
		log:       log,
	}
}

// CollectionName derives the vector collection name for a project. The
// embedding size is part of the name so switching embedding models starts a
// fresh collection instead of mixing incompatible vectors.
func CollectionName(vectorSize int, projectID int64) string {
	return fmt.Sprintf("collection_%d_%d", vectorSize, projectID)
}

// collectionFor resolves the project's collection name under the current
// embedder.
func (p *Pipeline) collectionFor(project *store.Project) string {
	return CollectionName(p.embedder.EmbeddingSize(), project.ProjectID)
}

// IndexResult reports what an Index call did.
type IndexResult struct {
	// Indexed is the number of chunks written to the vector database.
	Indexed int `json:"indexed"`

	// DeletedChunks is the number of chunk rows removed by a reset.
	DeletedChunks int64 `json:"deleted_chunks"`

	// Reset reports whether this call was a destructive reset. A reset
	// deletes the collection and the chunk rows and stops; it never
	// rebuilds in the same call.
	Reset bool `json:"reset"`
}

// Index pushes all of a project's chunks into its vector collection, paging
// through the metadata store and embedding each page as one batch.
//
// With doReset the call is destructive and terminal: the vector collection
// and the project's chunk rows are deleted, and indexing stops there. The
// caller re-processes assets and indexes again to rebuild.
func (p *Pipeline) Index(ctx context.Context, project *store.Project, doReset bool) (*IndexResult, error) {
	name := p.collectionFor(project)

	if doReset {
		if _, err := p.vdb.DeleteCollection(ctx, name); err != nil {
			return nil, fmt.Errorf("pipeline: reset collection %s: %w", name, err)
		}
		deleted, err := p.chunks.DeleteProjectChunks(ctx, project.ID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: reset chunks of project %d: %w", project.ProjectID, err)
		}
		p.log.Info("pipeline: project reset",
			slog.Int64("project_id", project.ProjectID),
			slog.String("collection", name),
			slog.Int64("deleted_chunks", deleted),
		)
		return &IndexResult{Reset: true, DeletedChunks: deleted}, nil
	}

	if _, err := p.vdb.CreateCollection(ctx, name, p.embedder.EmbeddingSize(), false); err != nil {
		return nil, fmt.Errorf("pipeline: ensure collection %s: %w", name, err)
	}

	indexed := 0
	for pageNo := 1; ; pageNo++ {
		chunks, err := p.chunks.GetProjectChunks(ctx, project.ID, pageNo, IndexPageSize)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read chunks page %d: %w", pageNo, err)
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		metadatas := make([]map[string]any, len(chunks))
		recordIDs := make([]int64, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
			metadatas[i] = c.Metadata
			recordIDs[i] = c.ID
		}

		vectors, err := p.embedder.EmbedBatch(ctx, texts, llm.InputDocument)
		if err != nil {
			return nil, fmt.Errorf("pipeline: embed page %d: %w", pageNo, err)
		}

		if err := p.vdb.UpsertBatch(ctx, name, texts, vectors, metadatas, recordIDs, vectordb.DefaultBatchSize); err != nil {
			return nil, fmt.Errorf("pipeline: upsert page %d: %w", pageNo, err)
		}
		indexed += len(chunks)
	}

	p.log.Info("pipeline: project indexed",
		slog.Int64("project_id", project.ProjectID),
		slog.String("collection", name),
		slog.Int("chunks", indexed),
	)
	return &IndexResult{Indexed: indexed}, nil
}

// Search embeds the query and returns the most similar documents, highest
// score first. A query the embedder maps to nothing, or a collection with no
// matches, yields an empty result rather than an error.
func (p *Pipeline) Search(ctx context.Context, project *store.Project, query string, limit int) ([]vectordb.RetrievedDocument, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vectors, err := p.embedder.EmbedBatch(ctx, []string{query}, llm.InputQuery)
	if err != nil {
		return nil, fmt.Errorf("pipeline: embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		p.log.Warn("pipeline: query produced an empty embedding", slog.Int64("project_id", project.ProjectID))
		return nil, nil
	}

	docs, err := p.vdb.SearchByVector(ctx, p.collectionFor(project), vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: search: %w", err)
	}
	return docs, nil
}

// AnswerResult is the outcome of a retrieval-augmented generation call. An
// all-zero result means retrieval found nothing to answer from.
type AnswerResult struct {
	// Answer is the generated reply.
	Answer string `json:"answer"`

	// FullPrompt is the assembled retrieval prompt sent as the user turn.
	FullPrompt string `json:"full_prompt"`

	// History is the chat history sent ahead of the prompt. It holds the
	// system turn only; retrieved context lives in FullPrompt.
	History []*schema.Message `json:"history"`
}

// Answer retrieves context for the query and asks the generation provider
// for a reply grounded in it. Retrieval that comes back empty short-circuits
// to a zero-value result without touching the generator.
func (p *Pipeline) Answer(ctx context.Context, project *store.Project, query string, limit int) (*AnswerResult, error) {
	if p.generator == nil {
		return nil, fmt.Errorf("pipeline: answer: %w", llm.ErrModelNotConfigured)
	}

	docs, err := p.Search(ctx, project, query, limit)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return &AnswerResult{}, nil
	}

	systemPrompt, err := p.prompts.Render("rag", "system_prompt", nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: render system prompt: %w", err)
	}

	documentPrompts := make([]string, len(docs))
	for i, doc := range docs {
		documentPrompts[i], err = p.prompts.Render("rag", "document_prompt", map[string]any{
			"doc_index":  i + 1,
			"chunk_text": doc.Text,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: render document prompt %d: %w", i+1, err)
		}
	}

	footerPrompt, err := p.prompts.Render("rag", "footer_prompt", map[string]any{"query": query})
	if err != nil {
		return nil, fmt.Errorf("pipeline: render footer prompt: %w", err)
	}

	fullPrompt := strings.Join([]string{strings.Join(documentPrompts, "\n"), footerPrompt}, "\n\n")
	history := []*schema.Message{schema.SystemMessage(systemPrompt)}

	answer, err := p.generator.GenerateText(ctx, fullPrompt, history, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate answer: %w", err)
	}

	return &AnswerResult{Answer: answer, FullPrompt: fullPrompt, History: history}, nil
}

// Info returns the project's collection metadata together with the chunk
// count held in the metadata store.
type ProjectInfo struct {
	// Collection describes the vector collection.
	Collection *vectordb.CollectionInfo `json:"collection"`

	// StoredChunks is the number of chunk rows in the metadata store. It
	// can differ from the collection's record count when indexing is
	// pending or the relational backend has accumulated duplicates.
	StoredChunks int64 `json:"stored_chunks"`
}

// Info describes the project's vector collection and stored chunks.
func (p *Pipeline) Info(ctx context.Context, project *store.Project) (*ProjectInfo, error) {
	info, err := p.vdb.CollectionInfo(ctx, p.collectionFor(project))
	if err != nil {
		return nil, fmt.Errorf("pipeline: collection info: %w", err)
	}
	count, err := p.chunks.CountProjectChunks(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: count chunks: %w", err)
	}
	return &ProjectInfo{Collection: info, StoredChunks: count}, nil
}
