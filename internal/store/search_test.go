package store

import (
	"context"
	"testing"

	"github.com/rcliao/ragmcp/internal/model"
)

func TestSearch_DenseOnlyRanksByVectorSimilarity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	near := sampleChunk("near.txt", 0, "near content")
	near.Vector = []float32{1, 0, 0}
	far := sampleChunk("far.txt", 0, "far content")
	far.Vector = []float32{0, 1, 0}

	if err := s.Insert(ctx, []model.Chunk{near, far}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{QueryVector: []float32{1, 0, 0}, Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].FilePath != "near.txt" {
		t.Errorf("expected near.txt to rank first, got %q", results[0].FilePath)
	}
}

func TestSearch_TypeFilterMemoryVsFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fileChunk := sampleChunk("docs/a.md", 0, "file content")
	fileChunk.Vector = []float32{1, 0, 0}
	memChunk := sampleChunk(model.MemoryPath("note-1"), 0, "memory content")
	memChunk.Vector = []float32{1, 0, 0}

	if err := s.Insert(ctx, []model.Chunk{fileChunk, memChunk}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{QueryVector: []float32{1, 0, 0}, Limit: 10, Type: "memory"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if !model.IsMemoryPath(r.FilePath) {
			t.Errorf("expected only memory:// results, got %q", r.FilePath)
		}
	}

	results, err = s.Search(ctx, SearchParams{QueryVector: []float32{1, 0, 0}, Limit: 10, Type: "file"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if model.IsMemoryPath(r.FilePath) {
			t.Errorf("expected only file results, got %q", r.FilePath)
		}
	}
}

func TestSearch_TagFilterRequiresAllTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := sampleChunk("a.txt", 0, "alpha")
	a.Vector = []float32{1, 0, 0}
	a.Metadata.Tags = []string{"go", "backend"}

	b := sampleChunk("b.txt", 0, "beta")
	b.Vector = []float32{1, 0, 0}
	b.Metadata.Tags = []string{"go"}

	if err := s.Insert(ctx, []model.Chunk{a, b}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{QueryVector: []float32{1, 0, 0}, Limit: 10, Tags: []string{"go", "backend"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].FilePath != "a.txt" {
		t.Fatalf("expected only a.txt to match both tags, got %+v", results)
	}
}

func TestSearch_MinScoreFiltersByDistance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	near := sampleChunk("near.txt", 0, "near")
	near.Vector = []float32{1, 0, 0}
	orthogonal := sampleChunk("orth.txt", 0, "orthogonal")
	orthogonal.Vector = []float32{0, 1, 0}

	if err := s.Insert(ctx, []model.Chunk{near, orthogonal}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{
		QueryVector: []float32{1, 0, 0}, Limit: 10, MinScore: 0.5, HasMinScore: true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Score > 0.5 {
			t.Errorf("expected all results within minScore 0.5, got score %f for %q", r.Score, r.FilePath)
		}
	}
}

func TestSearch_LimitCapsResultsAtTwenty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var chunks []model.Chunk
	for i := 0; i < 30; i++ {
		c := sampleChunk("many.txt", i, "content")
		c.Vector = []float32{1, 0, 0}
		chunks = append(chunks, c)
	}
	if err := s.Insert(ctx, chunks); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{QueryVector: []float32{1, 0, 0}, Limit: 100})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) > 20 {
		t.Errorf("expected at most 20 results, got %d", len(results))
	}
}

func TestApplyGrouping_SimilarModeTruncatesAtFirstBoundary(t *testing.T) {
	candidates := []*candidate{
		{key: candidateKey{"a", 0}, distance: 0.10},
		{key: candidateKey{"b", 0}, distance: 0.12},
		{key: candidateKey{"c", 0}, distance: 0.13},
		{key: candidateKey{"d", 0}, distance: 0.80},
		{key: candidateKey{"e", 0}, distance: 0.85},
	}
	out := applyGrouping(candidates, "similar")
	if len(out) != 3 {
		t.Fatalf("expected tightest cluster of 3, got %d", len(out))
	}
}

func TestApplyGrouping_RelatedModeTruncatesAtSecondBoundary(t *testing.T) {
	// Three tight clusters of 3, separated by two roughly equal large gaps:
	// both gaps clear the mean+1.5*stddev threshold, producing two boundaries.
	candidates := []*candidate{
		{key: candidateKey{"a", 0}, distance: 0.10},
		{key: candidateKey{"b", 0}, distance: 0.11},
		{key: candidateKey{"c", 0}, distance: 0.12},
		{key: candidateKey{"d", 0}, distance: 0.62},
		{key: candidateKey{"e", 0}, distance: 0.63},
		{key: candidateKey{"f", 0}, distance: 0.64},
		{key: candidateKey{"g", 0}, distance: 1.15},
		{key: candidateKey{"h", 0}, distance: 1.16},
		{key: candidateKey{"i", 0}, distance: 1.17},
	}
	out := applyGrouping(candidates, "related")
	if len(out) != 6 {
		t.Fatalf("expected 6 candidates through the second cluster, got %d", len(out))
	}
}

func TestApplyGrouping_NoModeReturnsUnchanged(t *testing.T) {
	candidates := []*candidate{
		{key: candidateKey{"a", 0}, distance: 0.1},
		{key: candidateKey{"b", 0}, distance: 0.9},
	}
	out := applyGrouping(candidates, "")
	if len(out) != 2 {
		t.Errorf("expected unchanged candidate list, got %d", len(out))
	}
}

func TestApplyGrouping_SingleCandidateUnchanged(t *testing.T) {
	candidates := []*candidate{{key: candidateKey{"a", 0}, distance: 0.1}}
	out := applyGrouping(candidates, "similar")
	if len(out) != 1 {
		t.Errorf("expected single candidate unchanged, got %d", len(out))
	}
}

func TestDotDistance_IdenticalVectorsAreZero(t *testing.T) {
	d := dotDistance([]float32{1, 0, 0}, []float32{1, 0, 0})
	if d > 0.001 {
		t.Errorf("expected ~0 distance for identical vectors, got %f", d)
	}
}

func TestDotDistance_MismatchedLengthsAreMaximal(t *testing.T) {
	d := dotDistance([]float32{1, 0}, []float32{1, 0, 0})
	if d != 2 {
		t.Errorf("expected max distance 2 for mismatched lengths, got %f", d)
	}
}
