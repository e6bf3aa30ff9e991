package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragd-go/internal/llm"
	"github.com/54b3r/ragd-go/internal/store"
	"github.com/54b3r/ragd-go/internal/templates"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// fakeChunks serves chunk pages from a slice.
type fakeChunks struct {
	chunks  []store.Chunk
	deleted int64
}

func (f *fakeChunks) GetProjectChunks(_ context.Context, projectID int64, pageNo, pageSize int) ([]store.Chunk, error) {
	var mine []store.Chunk
	for _, c := range f.chunks {
		if c.ProjectID == projectID {
			mine = append(mine, c)
		}
	}
	start := (pageNo - 1) * pageSize
	if start >= len(mine) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], nil
}

func (f *fakeChunks) DeleteProjectChunks(_ context.Context, projectID int64) (int64, error) {
	var kept []store.Chunk
	for _, c := range f.chunks {
		if c.ProjectID != projectID {
			kept = append(kept, c)
		} else {
			f.deleted++
		}
	}
	f.chunks = kept
	return f.deleted, nil
}

func (f *fakeChunks) CountProjectChunks(_ context.Context, projectID int64) (int64, error) {
	var n int64
	for _, c := range f.chunks {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

// fakeRecord is one stored vector entry.
type fakeRecord struct {
	id   int64
	text string
}

// fakeVectorStore is an in-memory VectorStore. With overwrite set it keys
// records by id the way a point store does; otherwise it appends rows the
// way the relational backend does.
type fakeVectorStore struct {
	overwrite   bool
	collections map[string][]fakeRecord
	searchDocs  []vectordb.RetrievedDocument
}

func newFakeVectorStore(overwrite bool) *fakeVectorStore {
	return &fakeVectorStore{overwrite: overwrite, collections: map[string][]fakeRecord{}}
}

func (f *fakeVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeVectorStore) CreateCollection(_ context.Context, name string, _ int, doReset bool) (bool, error) {
	if doReset {
		delete(f.collections, name)
	}
	if _, ok := f.collections[name]; ok {
		return false, nil
	}
	f.collections[name] = nil
	return true, nil
}

func (f *fakeVectorStore) DeleteCollection(_ context.Context, name string) (bool, error) {
	if _, ok := f.collections[name]; !ok {
		return false, nil
	}
	delete(f.collections, name)
	return true, nil
}

func (f *fakeVectorStore) UpsertBatch(_ context.Context, name string, texts []string, vectors [][]float32, _ []map[string]any, recordIDs []int64, _ int) error {
	if len(texts) != len(vectors) || len(texts) != len(recordIDs) {
		return vectordb.ErrMismatchedBatch
	}
	records, ok := f.collections[name]
	if !ok {
		return vectordb.ErrCollectionNotFound
	}
	for i := range texts {
		if f.overwrite {
			replaced := false
			for j := range records {
				if records[j].id == recordIDs[i] {
					records[j].text = texts[i]
					replaced = true
					break
				}
			}
			if replaced {
				continue
			}
		}
		records = append(records, fakeRecord{id: recordIDs[i], text: texts[i]})
	}
	f.collections[name] = records
	return nil
}

func (f *fakeVectorStore) SearchByVector(_ context.Context, _ string, _ []float32, limit int) ([]vectordb.RetrievedDocument, error) {
	if limit < len(f.searchDocs) {
		return f.searchDocs[:limit], nil
	}
	return f.searchDocs, nil
}

func (f *fakeVectorStore) CollectionInfo(_ context.Context, name string) (*vectordb.CollectionInfo, error) {
	records, ok := f.collections[name]
	if !ok {
		return nil, vectordb.ErrCollectionNotFound
	}
	return &vectordb.CollectionInfo{Name: name, RecordCount: int64(len(records))}, nil
}

func (f *fakeVectorStore) Ping(context.Context) error { return nil }

func (f *fakeVectorStore) Close() error { return nil }

// fakeEmbedder returns a constant-size vector per text. Empty texts embed to
// nothing when emptyForAll is set.
type fakeEmbedder struct {
	size        int
	emptyForAll bool
	calls       []llm.InputType
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, input llm.InputType) ([][]float32, error) {
	f.calls = append(f.calls, input)
	out := make([][]float32, len(texts))
	for i := range texts {
		if f.emptyForAll {
			out[i] = nil
			continue
		}
		out[i] = make([]float32, f.size)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbeddingSize() int { return f.size }

// fakeGenerator records the prompt and history it was called with.
type fakeGenerator struct {
	reply   string
	prompt  string
	history []*schema.Message
	calls   int
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt string, history []*schema.Message, _ *llm.GenerateOptions) (string, error) {
	f.calls++
	f.prompt = prompt
	f.history = history
	return f.reply, nil
}

func testPipeline(t *testing.T, chunks *fakeChunks, vdb *fakeVectorStore, emb *fakeEmbedder, gen *fakeGenerator) *Pipeline {
	t.Helper()
	prompts, err := templates.New("en")
	if err != nil {
		t.Fatalf("templates.New failed: %v", err)
	}
	return New(&Config{Chunks: chunks, VectorDB: vdb, Embedder: emb, Generator: gen, Prompts: prompts})
}

func projectChunks(projectRowID int64, n int) []store.Chunk {
	chunks := make([]store.Chunk, n)
	for i := range chunks {
		chunks[i] = store.Chunk{
			ID:        int64(i + 1),
			Text:      fmt.Sprintf("chunk %d", i+1),
			Order:     i + 1,
			ProjectID: projectRowID,
		}
	}
	return chunks
}

func TestCollectionName(t *testing.T) {
	t.Parallel()

	if got, want := CollectionName(1536, 42), "collection_1536_42"; got != want {
		t.Errorf("CollectionName = %q, want %q", got, want)
	}
}

func TestIndexPagesThroughAllChunks(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	chunks := &fakeChunks{chunks: projectChunks(10, IndexPageSize+20)}
	vdb := newFakeVectorStore(true)
	emb := &fakeEmbedder{size: 8}
	p := testPipeline(t, chunks, vdb, emb, nil)

	res, err := p.Index(context.Background(), project, false)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if res.Indexed != IndexPageSize+20 {
		t.Errorf("Indexed = %d, want %d", res.Indexed, IndexPageSize+20)
	}
	if res.Reset {
		t.Error("Reset flag set on a non-reset call")
	}

	name := CollectionName(8, 3)
	records := vdb.collections[name]
	if len(records) != IndexPageSize+20 {
		t.Fatalf("stored records = %d, want %d", len(records), IndexPageSize+20)
	}
	// Record ids must be the persistent chunk ids, in page order.
	if records[0].id != 1 || records[len(records)-1].id != int64(IndexPageSize+20) {
		t.Errorf("record ids = %d..%d, want 1..%d", records[0].id, records[len(records)-1].id, IndexPageSize+20)
	}

	for _, call := range emb.calls {
		if call != llm.InputDocument {
			t.Errorf("indexing embedded with input type %q, want %q", call, llm.InputDocument)
		}
	}
}

func TestIndexResetIsDestructiveAndTerminal(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	chunks := &fakeChunks{chunks: projectChunks(10, 5)}
	vdb := newFakeVectorStore(true)
	emb := &fakeEmbedder{size: 8}
	p := testPipeline(t, chunks, vdb, emb, nil)

	if _, err := p.Index(context.Background(), project, false); err != nil {
		t.Fatalf("initial Index failed: %v", err)
	}

	res, err := p.Index(context.Background(), project, true)
	if err != nil {
		t.Fatalf("reset Index failed: %v", err)
	}
	if !res.Reset {
		t.Error("Reset flag not set")
	}
	if res.DeletedChunks != 5 {
		t.Errorf("DeletedChunks = %d, want 5", res.DeletedChunks)
	}
	if res.Indexed != 0 {
		t.Errorf("Indexed = %d after reset, want 0", res.Indexed)
	}

	// The collection and the chunk rows are gone; nothing was rebuilt.
	name := CollectionName(8, 3)
	if _, ok := vdb.collections[name]; ok {
		t.Error("collection still exists after reset")
	}
	if n, _ := chunks.CountProjectChunks(context.Background(), 10); n != 0 {
		t.Errorf("chunk rows left after reset: %d", n)
	}
}

// Re-indexing the same chunk ids is idempotent on the point store but
// accumulates rows on the relational store. The two backends genuinely
// diverge here and callers handle it with a reset, so both behaviors are
// pinned.
func TestReindexSemanticsDifferPerBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		overwrite   bool
		wantRecords int
	}{
		{name: "point store overwrites by id", overwrite: true, wantRecords: 4},
		{name: "relational store appends rows", overwrite: false, wantRecords: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			project := &store.Project{ID: 10, ProjectID: 3}
			chunks := &fakeChunks{chunks: projectChunks(10, 4)}
			vdb := newFakeVectorStore(tt.overwrite)
			p := testPipeline(t, chunks, vdb, &fakeEmbedder{size: 8}, nil)

			for i := 0; i < 2; i++ {
				if _, err := p.Index(context.Background(), project, false); err != nil {
					t.Fatalf("Index run %d failed: %v", i+1, err)
				}
			}

			records := vdb.collections[CollectionName(8, 3)]
			if len(records) != tt.wantRecords {
				t.Errorf("records after double index = %d, want %d", len(records), tt.wantRecords)
			}
		})
	}
}

func TestSearchEmptyEmbeddingYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	vdb := newFakeVectorStore(true)
	vdb.searchDocs = []vectordb.RetrievedDocument{{Text: "should not be reached", Score: 1}}
	p := testPipeline(t, &fakeChunks{}, vdb, &fakeEmbedder{size: 8, emptyForAll: true}, nil)

	docs, err := p.Search(context.Background(), project, "anything", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Search with empty embedding returned %d docs, want 0", len(docs))
	}
}

func TestSearchUsesQueryInputType(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	vdb := newFakeVectorStore(true)
	vdb.searchDocs = []vectordb.RetrievedDocument{{Text: "hit", Score: 0.9}}
	emb := &fakeEmbedder{size: 8}
	p := testPipeline(t, &fakeChunks{}, vdb, emb, nil)

	docs, err := p.Search(context.Background(), project, "question", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Text != "hit" {
		t.Errorf("Search = %+v, want one hit", docs)
	}
	if len(emb.calls) != 1 || emb.calls[0] != llm.InputQuery {
		t.Errorf("embedding calls = %v, want one %q", emb.calls, llm.InputQuery)
	}
}

func TestAnswerAssemblesPrompt(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	vdb := newFakeVectorStore(true)
	vdb.searchDocs = []vectordb.RetrievedDocument{
		{Text: "the grid runs at 50Hz", Score: 0.9},
		{Text: "peak load is at 19:00", Score: 0.8},
	}
	gen := &fakeGenerator{reply: "50Hz"}
	p := testPipeline(t, &fakeChunks{}, vdb, &fakeEmbedder{size: 8}, gen)

	res, err := p.Answer(context.Background(), project, "what frequency?", 5)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if res.Answer != "50Hz" {
		t.Errorf("Answer = %q, want 50Hz", res.Answer)
	}

	// Retrieved context and the question both live in the user prompt.
	for _, want := range []string{
		"## Document No: 1:",
		"the grid runs at 50Hz",
		"## Document No: 2:",
		"peak load is at 19:00",
		"what frequency?",
	} {
		if !strings.Contains(res.FullPrompt, want) {
			t.Errorf("FullPrompt missing %q:\n%s", want, res.FullPrompt)
		}
	}
	if res.FullPrompt != gen.prompt {
		t.Error("generator saw a different prompt than the result reports")
	}

	// History carries exactly the system turn.
	if len(res.History) != 1 || res.History[0].Role != schema.System {
		t.Fatalf("History = %+v, want a single system turn", res.History)
	}
	if !strings.Contains(res.History[0].Content, "ragoo") {
		t.Errorf("system turn = %q, want the assistant persona", res.History[0].Content)
	}
}

func TestAnswerWithoutResultsSkipsGeneration(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	gen := &fakeGenerator{reply: "should not be called"}
	p := testPipeline(t, &fakeChunks{}, newFakeVectorStore(true), &fakeEmbedder{size: 8}, gen)

	res, err := p.Answer(context.Background(), project, "anything", 5)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if res.Answer != "" || res.FullPrompt != "" || res.History != nil {
		t.Errorf("Answer without results = %+v, want zero value", res)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestInfoCombinesCollectionAndStore(t *testing.T) {
	t.Parallel()

	project := &store.Project{ID: 10, ProjectID: 3}
	chunks := &fakeChunks{chunks: projectChunks(10, 4)}
	vdb := newFakeVectorStore(true)
	p := testPipeline(t, chunks, vdb, &fakeEmbedder{size: 8}, nil)

	if _, err := p.Index(context.Background(), project, false); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	info, err := p.Info(context.Background(), project)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Collection.RecordCount != 4 {
		t.Errorf("RecordCount = %d, want 4", info.Collection.RecordCount)
	}
	if info.StoredChunks != 4 {
		t.Errorf("StoredChunks = %d, want 4", info.StoredChunks)
	}
	if info.Collection.Name != CollectionName(8, 3) {
		t.Errorf("collection name = %q", info.Collection.Name)
	}
}
