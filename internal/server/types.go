package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragd-go/internal/pipeline"
	"github.com/54b3r/ragd-go/internal/process"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/tasks"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/v1/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil, the default
	// registry is used.
	Registry *prometheus.Registry
}

// projectStore resolves external project ids to project rows.
// *store.SQLiteStore satisfies it.
type projectStore interface {
	GetOrCreateProject(ctx context.Context, projectID int64) (*store.Project, error)
}

// uploader stores uploads and processes assets into chunks.
// *process.Processor satisfies it.
type uploader interface {
	SaveUpload(ctx context.Context, project *store.Project, filename string, r io.Reader) (*store.Asset, error)
	Process(ctx context.Context, project *store.Project, opts *process.Options) (*process.Result, error)
}

// ragPipeline is the indexing and retrieval surface the handlers call.
// *pipeline.Pipeline satisfies it.
type ragPipeline interface {
	Index(ctx context.Context, project *store.Project, doReset bool) (*pipeline.IndexResult, error)
	Search(ctx context.Context, project *store.Project, query string, limit int) ([]vectordb.RetrievedDocument, error)
	Answer(ctx context.Context, project *store.Project, query string, limit int) (*pipeline.AnswerResult, error)
	Info(ctx context.Context, project *store.Project) (*pipeline.ProjectInfo, error)
}

// Deps collects the collaborators the server exposes over HTTP.
type Deps struct {
	// Store resolves projects.
	Store projectStore
	// Processor handles uploads and file processing.
	Processor uploader
	// Pipeline handles indexing and retrieval.
	Pipeline ragPipeline
	// Runner executes processing and indexing in the background.
	Runner *tasks.Runner
	// EmbeddingSize is the vector size of the active embedder, used to
	// derive collection names for processing resets.
	EmbeddingSize int
}

// Server is the HTTP server exposing the RAG API.
type Server struct {
	// deps holds the wired collaborators.
	deps *Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// processRequest is the JSON body for POST /api/v1/data/process/{project_id}.
type processRequest struct {
	// FileID selects a single stored asset by name; empty processes all.
	FileID string `json:"file_id,omitempty"`
	// ChunkSize is the maximum characters per chunk.
	ChunkSize int `json:"chunk_size,omitempty"`
	// OverlapSize is the characters shared between consecutive chunks.
	OverlapSize int `json:"overlap_size,omitempty"`
	// DoReset drops the project's chunks and collection before processing.
	DoReset bool `json:"do_reset,omitempty"`
}

// pushRequest is the JSON body for POST /api/v1/nlp/index/push/{project_id}.
type pushRequest struct {
	// DoReset deletes the collection and chunk rows instead of indexing.
	DoReset bool `json:"do_reset,omitempty"`
}

// searchRequest is the JSON body for the search and answer endpoints.
type searchRequest struct {
	// Text is the query text.
	Text string `json:"text"`
	// Limit caps the number of retrieved documents.
	Limit int `json:"limit,omitempty"`
}

// taskResponse is the JSON response for accepted background work.
type taskResponse struct {
	// TaskID is the id to poll at GET /api/v1/tasks/{task_id}.
	TaskID string `json:"task_id"`
}
