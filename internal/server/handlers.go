package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/ragd-go/internal/logging"
	"github.com/54b3r/ragd-go/internal/pipeline"
	"github.com/54b3r/ragd-go/internal/process"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// maxUploadMemory is the in-memory buffer for multipart parsing; larger
// uploads spill to temp files.
const maxUploadMemory = 4 << 20

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// projectFromRequest parses the project_id path segment and resolves it to a
// project row, creating one on first use. A nil return means the response
// has already been written.
func (s *Server) projectFromRequest(w http.ResponseWriter, r *http.Request) *store.Project {
	raw := r.PathValue("project_id")
	projectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || projectID < 0 {
		writeError(w, http.StatusBadRequest, "project id must be a non-negative integer")
		return nil
	}

	project, err := s.deps.Store.GetOrCreateProject(r.Context(), projectID)
	if err != nil {
		logging.FromContext(r.Context()).Error("server: resolve project", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not resolve project")
		return nil
	}
	return project
}

// handleUpload handles POST /api/v1/data/upload/{project_id}. The request is
// a multipart form with a single "file" part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	asset, err := s.deps.Processor.SaveUpload(r.Context(), project, header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, process.ErrUnsupportedFileType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, process.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			logging.FromContext(r.Context()).Error("server: upload", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	s.metrics.uploadBytesTotal.Add(float64(asset.Size))
	writeJSON(w, http.StatusOK, map[string]any{
		"file_id": asset.Name,
		"size":    asset.Size,
	})
}

// handleProcess handles POST /api/v1/data/process/{project_id}. Processing
// runs in the background; the response carries a task id to poll.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := &process.Options{
		AssetName:    req.FileID,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.OverlapSize,
		Reset:        req.DoReset,
		Collection:   pipeline.CollectionName(s.deps.EmbeddingSize, project.ProjectID),
	}

	taskID := s.deps.Runner.Submit(context.Background(), "process", project.ProjectID, func(ctx context.Context) (any, error) {
		return s.deps.Processor.Process(ctx, project, opts)
	})
	s.metrics.tasksSubmittedTotal.WithLabelValues("process").Inc()

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID})
}

// handlePush handles POST /api/v1/nlp/index/push/{project_id}. Indexing runs
// in the background; the response carries a task id to poll.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID := s.deps.Runner.Submit(context.Background(), "index", project.ProjectID, func(ctx context.Context) (any, error) {
		return s.deps.Pipeline.Index(ctx, project, req.DoReset)
	})
	s.metrics.tasksSubmittedTotal.WithLabelValues("index").Inc()

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID})
}

// handleInfo handles GET /api/v1/nlp/index/info/{project_id}.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	info, err := s.deps.Pipeline.Info(r.Context(), project)
	if err != nil {
		logging.FromContext(r.Context()).Error("server: collection info", slog.Any("error", err))
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection_info": info})
}

// handleSearch handles POST /api/v1/nlp/index/search/{project_id}.
// An empty result is a valid outcome, not an error.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	docs, err := s.deps.Pipeline.Search(r.Context(), project, req.Text, req.Limit)
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("search", "error").Inc()
		logging.FromContext(r.Context()).Error("server: search", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	outcome := "hit"
	if len(docs) == 0 {
		outcome = "miss"
	}
	s.metrics.searchRequestsTotal.WithLabelValues("search", outcome).Inc()

	if docs == nil {
		docs = []vectordb.RetrievedDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": docs})
}

// handleAnswer handles POST /api/v1/nlp/index/answer/{project_id}. Answer
// generation is synchronous; retrieval that finds nothing yields an empty
// answer.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	project := s.projectFromRequest(w, r)
	if project == nil {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := s.deps.Pipeline.Answer(r.Context(), project, req.Text, req.Limit)
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("answer", "error").Inc()
		logging.FromContext(r.Context()).Error("server: answer", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "answer generation failed")
		return
	}

	outcome := "hit"
	if res.Answer == "" {
		outcome = "miss"
	}
	s.metrics.searchRequestsTotal.WithLabelValues("answer", outcome).Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":      res.Answer,
		"full_prompt": res.FullPrompt,
	})
}

// handleTask handles GET /api/v1/tasks/{task_id}.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.deps.Runner.Get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
