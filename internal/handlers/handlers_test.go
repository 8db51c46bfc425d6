package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rcliao/ragmcp/internal/chunker"
	"github.com/rcliao/ragmcp/internal/embedding"
	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
	"github.com/rcliao/ragmcp/internal/parser"
	"github.com/rcliao/ragmcp/internal/store"
)

// fakeFailingStore is a minimal in-memory store.Store whose Insert can be
// told to fail exactly once, to exercise replace()'s rollback path without
// relying on a real database error.
type fakeFailingStore struct {
	mu             sync.Mutex
	rows           []model.Chunk
	failNextInsert bool
}

func (f *fakeFailingStore) Initialize(context.Context) error { return nil }

func (f *fakeFailingStore) Insert(_ context.Context, chunks []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextInsert {
		f.failNextInsert = false
		return errors.New("simulated insert failure")
	}
	f.rows = append(f.rows, chunks...)
	return nil
}

func (f *fakeFailingStore) Delete(_ context.Context, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.rows[:0]
	for _, r := range f.rows {
		if r.FilePath != filePath {
			out = append(out, r)
		}
	}
	f.rows = out
	return nil
}

func (f *fakeFailingStore) Search(context.Context, store.SearchParams) ([]store.SearchResult, error) {
	return nil, nil
}

func (f *fakeFailingStore) ListFiles(context.Context, store.ListFilesParams) ([]store.FileSummary, error) {
	return nil, nil
}

func (f *fakeFailingStore) GetByLabel(ctx context.Context, label string) ([]model.Chunk, error) {
	return f.RowsByPath(ctx, model.MemoryPath(label))
}

func (f *fakeFailingStore) RowsByPath(_ context.Context, filePath string) ([]model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Chunk
	for _, r := range f.rows {
		if r.FilePath == filePath {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFailingStore) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (f *fakeFailingStore) GetStatus(context.Context) (store.Status, error) { return store.Status{}, nil }

func (f *fakeFailingStore) Close() error { return nil }

// hashEmbedder derives a deterministic small vector from text so that
// semantically distinct test fixtures produce distinguishable vectors
// without needing a real model.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	v := make(embedding.Vector, 8)
	for i, r := range text {
		v[i%8] += float32(r % 31)
	}
	return v, nil
}

func (hashEmbedder) Dims() int { return 8 }

func newTestHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()
	root := t.TempDir()
	p, err := parser.New(root)
	if err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	emb := embedding.NewService(t.TempDir(), func() (embedding.Embedder, error) {
		return hashEmbedder{}, nil
	})

	opts := chunker.Options{TargetSize: 200, Overlap: 20, MinLength: 10}
	return New(p, emb, s, opts, SearchDefaults{HybridWeight: store.DefaultHybridWeight}), root
}

func TestMemorizeThenQuery(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	_, err := h.MemorizeText(ctx, MemorizeTextParams{
		Text: "API documentation for REST endpoints.", Label: "doc1", Tags: []string{"api"},
	})
	if err != nil {
		t.Fatalf("memorize: %v", err)
	}

	results, err := h.QueryDocuments(ctx, QueryDocumentsParams{
		Query: "REST API", Type: "memory", Tags: []string{"api"}, Limit: 10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].FilePath != "memory://doc1" {
		t.Errorf("expected memory://doc1, got %q", results[0].FilePath)
	}
}

func TestListFiles_TagFilterANDSemantics(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	cases := []struct {
		label string
		tags  []string
	}{
		{"s1", []string{"a", "b"}},
		{"s2", []string{"a", "c"}},
		{"s3", []string{"b", "c"}},
	}
	for _, c := range cases {
		if _, err := h.MemorizeText(ctx, MemorizeTextParams{Text: "content " + c.label, Label: c.label, Tags: c.tags}); err != nil {
			t.Fatalf("memorize %s: %v", c.label, err)
		}
	}

	files, err := h.ListFiles(ctx, store.ListFilesParams{Tags: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].FilePath != "memory://s1" {
		t.Fatalf("expected exactly memory://s1, got %+v", files)
	}
}

func TestIngestFile_TransactionalReplace(t *testing.T) {
	ctx := context.Background()
	h, root := newTestHandlers(t)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("version one content here"), 0o644); err != nil {
		t.Fatal(err)
	}

	res1, err := h.IngestFile(ctx, IngestFileParams{FilePath: "notes.txt"})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if res1.ChunkCount == 0 {
		t.Fatal("expected at least one chunk")
	}

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("version two content replaces the first"), 0o644); err != nil {
		t.Fatal(err)
	}
	res2, err := h.IngestFile(ctx, IngestFileParams{FilePath: "notes.txt"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res2.ChunkCount == 0 {
		t.Fatal("expected at least one chunk on re-ingest")
	}

	files, err := h.ListFiles(ctx, store.ListFilesParams{})
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	for _, f := range files {
		if f.FilePath == "notes.txt" && f.ChunkCount != res2.ChunkCount {
			t.Errorf("expected chunk count to match latest ingest, got %d want %d", f.ChunkCount, res2.ChunkCount)
		}
	}
}

func TestDeleteFile_Idempotent(t *testing.T) {
	ctx := context.Background()
	h, root := newTestHandlers(t)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("some content to delete"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.IngestFile(ctx, IngestFileParams{FilePath: "a.txt"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := h.DeleteFile(ctx, "a.txt"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if _, err := h.DeleteFile(ctx, "a.txt"); err != nil {
		t.Fatalf("second delete should be idempotent, got %v", err)
	}
}

func TestUpdateMemory_RequiresExisting(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	_, err := h.UpdateMemory(ctx, UpdateMemoryParams{Label: "missing", Text: "x"})
	if err == nil {
		t.Fatal("expected error updating a nonexistent memory")
	}
	typed, ok := errs.AsError(err)
	if !ok || typed.Code != errs.CodeNotFound {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}

func TestUpdateMemory_AppendMergesTags(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	if _, err := h.MemorizeText(ctx, MemorizeTextParams{Text: "original text content", Label: "m1", Tags: []string{"x"}}); err != nil {
		t.Fatalf("memorize: %v", err)
	}

	res, err := h.UpdateMemory(ctx, UpdateMemoryParams{
		Label: "m1", Mode: "append", Text: "more text content", AddTags: []string{"y"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(res.Tags) != 2 {
		t.Errorf("expected union of tags, got %v", res.Tags)
	}
}

func TestCleanupExpired_ReportsCount(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	if _, err := h.MemorizeText(ctx, MemorizeTextParams{Text: "expires soon content", Label: "e1", TTL: "1d"}); err != nil {
		t.Fatalf("memorize: %v", err)
	}

	res, err := h.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.DeletedCount != 0 {
		t.Errorf("expected no expired sources yet, got %d", res.DeletedCount)
	}
}

func TestQueryDocuments_RejectsInvalidLimit(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	if _, err := h.QueryDocuments(ctx, QueryDocumentsParams{Query: "x"}); err != nil {
		t.Errorf("expected absent limit to default to 10, got error %v", err)
	}
	if _, err := h.QueryDocuments(ctx, QueryDocumentsParams{Query: "x", Limit: 0, HasLimit: true}); err == nil {
		t.Error("expected explicit limit 0 to be rejected")
	}
	if _, err := h.QueryDocuments(ctx, QueryDocumentsParams{Query: "x", Limit: 21, HasLimit: true}); err == nil {
		t.Error("expected limit > 20 to be rejected")
	}
}

func TestIngestFile_RollbackRestoresBackupOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	p, err := parser.New(root)
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewService(t.TempDir(), func() (embedding.Embedder, error) { return hashEmbedder{}, nil })
	fs := &fakeFailingStore{}
	h := New(p, emb, fs, chunker.Options{TargetSize: 200, Overlap: 20, MinLength: 10}, SearchDefaults{})

	if err := os.WriteFile(filepath.Join(root, "doc.txt"), []byte("original content goes here"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.IngestFile(ctx, IngestFileParams{FilePath: "doc.txt"}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	original, err := fs.RowsByPath(ctx, "doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(original) == 0 {
		t.Fatal("expected the first ingest to have produced rows")
	}

	if err := os.WriteFile(filepath.Join(root, "doc.txt"), []byte("replacement content that differs entirely"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs.failNextInsert = true

	_, err = h.IngestFile(ctx, IngestFileParams{FilePath: "doc.txt"})
	if err == nil {
		t.Fatal("expected ingest to fail when the store's insert fails")
	}
	var rb *errs.RollbackFailure
	if errors.As(err, &rb) {
		t.Fatalf("rollback itself should have succeeded, got composite failure: %v", err)
	}
	if err.Error() != "simulated insert failure" {
		t.Errorf("expected the caller to see the original insert error, got %v", err)
	}

	restored, err := fs.RowsByPath(ctx, "doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != len(original) {
		t.Fatalf("expected the pre-existing row set restored (%d rows), got %d", len(original), len(restored))
	}
	for i := range restored {
		if restored[i].Text != original[i].Text {
			t.Errorf("row %d text mismatch after rollback: got %q, want %q", i, restored[i].Text, original[i].Text)
		}
	}
}

func TestIngestFile_RejectsPathEscape(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandlers(t)

	if _, err := h.IngestFile(ctx, IngestFileParams{FilePath: "../../etc/passwd"}); err == nil {
		t.Error("expected path escape to be rejected")
	}
}
