package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragd-go/internal/pipeline"
	"github.com/54b3r/ragd-go/internal/process"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/tasks"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// fakeStore resolves every project id to a row.
type fakeStore struct {
	failing bool
}

func (f *fakeStore) GetOrCreateProject(_ context.Context, projectID int64) (*store.Project, error) {
	if f.failing {
		return nil, errors.New("db down")
	}
	return &store.Project{ID: projectID + 100, ProjectID: projectID}, nil
}

// fakeProcessor records calls.
type fakeProcessor struct {
	uploadErr   error
	processErr  error
	lastOpts    *process.Options
	lastUpload  string
	processed   int
	uploadBytes int64
}

func (f *fakeProcessor) SaveUpload(_ context.Context, project *store.Project, filename string, r io.Reader) (*store.Asset, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, _ := io.ReadAll(r)
	f.lastUpload = filename
	f.uploadBytes = int64(len(data))
	return &store.Asset{ID: 1, ProjectID: project.ID, Type: "file", Name: "abc_" + filename, Size: int64(len(data))}, nil
}

func (f *fakeProcessor) Process(_ context.Context, _ *store.Project, opts *process.Options) (*process.Result, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	f.processed++
	f.lastOpts = opts
	return &process.Result{InsertedChunks: 9, ProcessedFiles: 1}, nil
}

// fakePipeline returns canned results.
type fakePipeline struct {
	indexed   int
	lastReset bool
	docs      []vectordb.RetrievedDocument
	answer    string
	infoErr   error
}

func (f *fakePipeline) Index(_ context.Context, _ *store.Project, doReset bool) (*pipeline.IndexResult, error) {
	f.indexed++
	f.lastReset = doReset
	return &pipeline.IndexResult{Indexed: 12, Reset: doReset}, nil
}

func (f *fakePipeline) Search(_ context.Context, _ *store.Project, _ string, _ int) ([]vectordb.RetrievedDocument, error) {
	return f.docs, nil
}

func (f *fakePipeline) Answer(_ context.Context, _ *store.Project, query string, _ int) (*pipeline.AnswerResult, error) {
	if f.answer == "" {
		return &pipeline.AnswerResult{}, nil
	}
	return &pipeline.AnswerResult{Answer: f.answer, FullPrompt: "### Question:\n" + query}, nil
}

func (f *fakePipeline) Info(_ context.Context, _ *store.Project) (*pipeline.ProjectInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &pipeline.ProjectInfo{
		Collection:   &vectordb.CollectionInfo{Name: "collection_8_3", RecordCount: 4},
		StoredChunks: 4,
	}, nil
}

type testEnv struct {
	server    *Server
	processor *fakeProcessor
	pipeline  *fakePipeline
	runner    *tasks.Runner
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	env := &testEnv{
		processor: &fakeProcessor{},
		pipeline:  &fakePipeline{},
		runner:    tasks.NewRunner(&tasks.Config{RetryInterval: time.Millisecond}),
	}

	srv, err := New(&Deps{
		Store:         &fakeStore{},
		Processor:     env.processor,
		Pipeline:      env.pipeline,
		Runner:        env.runner,
		EmbeddingSize: 8,
	}, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(srv.stopRL)
	env.server = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fmt.Fprint(part, "hello world")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/3", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["file_id"] != "abc_notes.txt" {
		t.Errorf("file_id = %v", body["file_id"])
	}
	if env.processor.lastUpload != "notes.txt" {
		t.Errorf("processor saw filename %q", env.processor.lastUpload)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.processor.uploadErr = process.ErrUnsupportedFileType

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "tool.exe")
	fmt.Fprint(part, "MZ")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/3", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessRunsInBackground(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/data/process/3",
		`{"chunk_size": 200, "overlap_size": 20, "do_reset": true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	taskID := body["task_id"]
	if taskID == "" {
		t.Fatal("no task_id in response")
	}

	env.runner.Wait()

	if env.processor.processed != 1 {
		t.Fatalf("processed = %d, want 1", env.processor.processed)
	}
	opts := env.processor.lastOpts
	if opts.ChunkSize != 200 || opts.ChunkOverlap != 20 || !opts.Reset {
		t.Errorf("opts = %+v", opts)
	}
	// Reset must target the collection derived from embedding size and project.
	if opts.Collection != "collection_8_3" {
		t.Errorf("Collection = %q, want collection_8_3", opts.Collection)
	}

	status := env.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, "")
	if status.Code != http.StatusOK {
		t.Fatalf("task status = %d", status.Code)
	}
	task := decode[tasks.Task](t, status)
	if task.State != tasks.StateSuccess {
		t.Errorf("task state = %q (error %q)", task.State, task.Error)
	}
}

func TestPushRunsInBackground(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/nlp/index/push/3", `{"do_reset": false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	env.runner.Wait()

	if env.pipeline.indexed != 1 {
		t.Errorf("indexed = %d, want 1", env.pipeline.indexed)
	}
	if env.pipeline.lastReset {
		t.Error("reset flag leaked into a non-reset push")
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/nlp/index/info/3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["collection_info"] == nil {
		t.Errorf("body = %v", body)
	}

	env.pipeline.infoErr = vectordb.ErrCollectionNotFound
	rec = env.do(t, http.MethodGet, "/api/v1/nlp/index/info/3", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing collection status = %d, want 404", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.pipeline.docs = []vectordb.RetrievedDocument{{Text: "hit", Score: 0.9}}

	rec := env.do(t, http.MethodPost, "/api/v1/nlp/index/search/3", `{"text": "q", "limit": 5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string][]vectordb.RetrievedDocument](t, rec)
	if len(body["results"]) != 1 || body["results"][0].Text != "hit" {
		t.Errorf("results = %+v", body["results"])
	}
}

func TestSearchEmptyIsOK(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/nlp/index/search/3", `{"text": "q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an empty result", rec.Code)
	}
	body := decode[map[string][]vectordb.RetrievedDocument](t, rec)
	if body["results"] == nil || len(body["results"]) != 0 {
		t.Errorf("results = %v, want empty array", body["results"])
	}
}

func TestSearchRequiresText(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/nlp/index/search/3", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAnswer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.pipeline.answer = "42"

	rec := env.do(t, http.MethodPost, "/api/v1/nlp/index/answer/3", `{"text": "meaning of life?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["answer"] != "42" {
		t.Errorf("answer = %q", body["answer"])
	}
	if !strings.Contains(body["full_prompt"], "meaning of life?") {
		t.Errorf("full_prompt = %q", body["full_prompt"])
	}
}

func TestInvalidProjectID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/api/v1/nlp/index/info/abc",
		"/api/v1/nlp/index/info/-1",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
	}
}

func TestUnknownTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &Config{APIKey: "sekrit"})

	// No token.
	rec := env.do(t, http.MethodGet, "/api/v1/nlp/index/info/3", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no-token status = %d, want 401", rec.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nlp/index/info/3", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong-token status = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/nlp/index/info/3", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid-token status = %d, want 200", rec.Code)
	}

	// Health stays open for probes.
	rec = env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &Config{RateLimit: 1, RateBurst: 2})

	limited := false
	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/nlp/index/info/3", "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "ragd_http_rate_limited_total") {
		t.Error("metrics output missing ragd_http_rate_limited_total")
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("unreachable") }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func TestReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &Config{Pingers: []Pinger{
		NewDependencyPinger(okPinger{}, "sqlite"),
		NewDependencyPinger(failingPinger{}, "qdrant"),
	}})

	rec := env.do(t, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
	checks := body["checks"].([]any)
	if len(checks) != 2 {
		t.Fatalf("checks = %v", checks)
	}
	if _, ok := checks[0].(map[string]any)["latency_ms"]; !ok {
		t.Error("readiness check missing latency_ms")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	// Generate some traffic first.
	env.do(t, http.MethodGet, "/api/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ragd_http_requests_total") {
		t.Error("metrics output missing ragd_http_requests_total")
	}
}
