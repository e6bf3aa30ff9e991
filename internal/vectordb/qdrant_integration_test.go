//go:build integration

package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"
)

// TestQdrantStore_Integration exercises the point-store backend against a
// real Qdrant instance.
//
// Prerequisites:
//
//	docker run -p 6334:6334 qdrant/qdrant
//
// Run with:
//
//	QDRANT_HOST=localhost go test -tags=integration -run TestQdrantStore_Integration ./internal/vectordb/
func TestQdrantStore_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set; skipping qdrant integration test")
	}
	port := 6334
	if v, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil && v > 0 {
		port = v
	}

	store, err := NewQdrantStore(&QdrantConfig{
		Host:     host,
		Port:     port,
		Distance: DistanceCosine,
		Logger:   slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewQdrantStore failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v\n\nEnsure Qdrant is reachable at %s:%d", err, host, port)
	}

	name := fmt.Sprintf("collection_it_%d", time.Now().UnixNano())
	defer store.DeleteCollection(ctx, name) //nolint:errcheck // best-effort cleanup

	// Creation is reported once; a second create without reset is a no-op.
	created, err := store.CreateCollection(ctx, name, 3, false)
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if !created {
		t.Fatal("first CreateCollection returned false")
	}
	created, err = store.CreateCollection(ctx, name, 3, false)
	if err != nil {
		t.Fatalf("second CreateCollection failed: %v", err)
	}
	if created {
		t.Error("second CreateCollection reported a new collection")
	}

	texts := []string{"alpha", "beta", "gamma"}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	ids := []int64{1, 2, 3}
	if err := store.UpsertBatch(ctx, name, texts, vectors, nil, ids, 0); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	// Points are keyed by record id: re-upserting the same ids overwrites
	// in place, so the count stays put.
	if err := store.UpsertBatch(ctx, name, texts, vectors, nil, ids, 0); err != nil {
		t.Fatalf("repeat UpsertBatch failed: %v", err)
	}
	info, err := store.CollectionInfo(ctx, name)
	if err != nil {
		t.Fatalf("CollectionInfo failed: %v", err)
	}
	if info.RecordCount != 3 {
		t.Errorf("RecordCount = %d after repeated upsert, want 3 (overwrite semantics)", info.RecordCount)
	}

	docs, err := store.SearchByVector(ctx, name, []float32{0, 1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchByVector failed: %v", err)
	}
	if len(docs) == 0 || docs[0].Text != "beta" {
		t.Fatalf("top result = %+v, want text %q", docs, "beta")
	}

	// A missing collection yields an empty result, not an error.
	docs, err = store.SearchByVector(ctx, name+"_missing", []float32{0, 1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchByVector on missing collection failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("missing collection returned %d docs", len(docs))
	}

	deleted, err := store.DeleteCollection(ctx, name)
	if err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	if !deleted {
		t.Error("DeleteCollection reported nothing deleted")
	}
	deleted, err = store.DeleteCollection(ctx, name)
	if err != nil {
		t.Fatalf("second DeleteCollection failed: %v", err)
	}
	if deleted {
		t.Error("deleting an absent collection reported a deletion")
	}
}
