package store

import (
	"context"
	"math"
	"sort"

	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
)

// DefaultHybridWeight controls how much a fused score weighs the lexical
// contribution versus the dense contribution, used when a store isn't
// configured with an explicit weight. Matches the reference configuration.
const DefaultHybridWeight = 0.6

type candidateKey struct {
	filePath   string
	chunkIndex int
}

type candidate struct {
	key      candidateKey
	text     string
	meta     model.Metadata
	score    float64 // fused score, higher is more similar
	distance float64 // synthesized 1 - fused, lower is more similar
}

// Search runs candidate generation, score fusion, metadata filtering, and
// optional statistical grouping, returning up to p.Limit results.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	s.mu.RLock()
	ftsAvailable := s.ftsAvailable
	hybridWeight := s.hybridWeight
	s.mu.RUnlock()
	if p.HybridWeight != 0 {
		hybridWeight = p.HybridWeight
	}

	useHybrid := ftsAvailable && p.QueryText != "" && hybridWeight > 0

	denseRows, err := s.allRows(ctx)
	if err != nil {
		return nil, err
	}

	var lexicalRows []model.Chunk
	if useHybrid {
		lexicalRows, err = s.lexicalSearch(ctx, p.QueryText, limit*4)
		if err != nil {
			return nil, err
		}
	}

	byKey := map[candidateKey]*candidate{}

	denseRanked := rankByDistance(denseRows, p.QueryVector)
	overfetch := limit * 3
	if useHybrid {
		overfetch = limit * 4
	}
	if overfetch > len(denseRanked) {
		overfetch = len(denseRanked)
	}
	for _, r := range denseRanked[:overfetch] {
		sim := math.Max(0, 1-r.distance/2)
		weight := 1.0
		if useHybrid {
			weight = 1 - hybridWeight
		}
		k := candidateKey{r.chunk.FilePath, r.chunk.ChunkIndex}
		c := byKey[k]
		if c == nil {
			c = &candidate{key: k, text: r.chunk.Text, meta: r.chunk.Metadata}
			byKey[k] = c
		}
		c.score += sim * weight
	}

	if useHybrid {
		n := len(lexicalRows)
		for i, row := range lexicalRows {
			contribution := (1 - float64(i)/float64(n)) * hybridWeight
			k := candidateKey{row.FilePath, row.ChunkIndex}
			c := byKey[k]
			if c == nil {
				c = &candidate{key: k, text: row.Text, meta: row.Metadata}
				byKey[k] = c
			}
			c.score += contribution
		}
	}

	var candidates []*candidate
	for _, c := range byKey {
		c.distance = 1 - c.score
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	filtered := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		if !matchesSearchFilter(c, p) {
			continue
		}
		filtered = append(filtered, c)
	}

	grouped := applyGrouping(filtered, p.GroupingMode)

	if len(grouped) > limit {
		grouped = grouped[:limit]
	}

	out := make([]SearchResult, 0, len(grouped))
	for _, c := range grouped {
		out = append(out, SearchResult{
			FilePath:   c.key.filePath,
			ChunkIndex: c.key.chunkIndex,
			Text:       c.text,
			Score:      c.distance,
		})
	}
	return out, nil
}

func matchesSearchFilter(c *candidate, p SearchParams) bool {
	switch p.Type {
	case "memory":
		if !model.IsMemoryPath(c.key.filePath) {
			return false
		}
	case "file":
		if model.IsMemoryPath(c.key.filePath) {
			return false
		}
	}
	for _, tag := range p.Tags {
		if !containsString(c.meta.Tags, tag) {
			return false
		}
	}
	if p.Project != "" && c.meta.Project != p.Project {
		return false
	}
	if p.HasMinScore && c.distance > p.MinScore {
		return false
	}
	if p.HasMaxDistance && c.distance > p.MaxDistance {
		return false
	}
	return true
}

// applyGrouping trims candidates (already sorted by descending score, i.e.
// ascending distance) using the gap/stddev boundary algorithm. similar mode
// truncates at the first boundary, related mode at the second (or keeps all
// if fewer than two exist). With <= 1 candidate or no boundary past T,
// candidates are returned unchanged.
func applyGrouping(candidates []*candidate, mode string) []*candidate {
	if mode != "similar" && mode != "related" {
		return candidates
	}
	if len(candidates) <= 1 {
		return candidates
	}

	distances := make([]float64, len(candidates))
	for i, c := range candidates {
		distances[i] = c.distance
	}

	gaps := make([]float64, len(distances)-1)
	for i := 0; i < len(gaps); i++ {
		gaps[i] = distances[i+1] - distances[i]
	}

	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))

	variance := 0.0
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	stddev := math.Sqrt(variance)

	threshold := mean + 1.5*stddev

	var boundaries []int
	for i, g := range gaps {
		if g > threshold {
			boundaries = append(boundaries, i+1)
		}
	}

	if len(boundaries) == 0 {
		return candidates
	}

	if mode == "similar" {
		return candidates[:boundaries[0]]
	}

	if len(boundaries) < 2 {
		return candidates
	}
	return candidates[:boundaries[1]]
}

type rankedChunk struct {
	chunk    model.Chunk
	distance float64
}

// rankByDistance sorts rows by ascending dot-product distance to query,
// where distance = 1 - dot(normalized query, normalized row).
func rankByDistance(rows []model.Chunk, query []float32) []rankedChunk {
	out := make([]rankedChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, rankedChunk{chunk: r, distance: dotDistance(query, r.Vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	return out
}

// dotDistance computes a distance in [0, 2] from the dot product of two
// L2-normalized vectors: 1 - dot similarity, clamped to the valid range.
func dotDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	d := 1 - sim
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d
}

// allRows loads every chunk row for the dense candidate scan.
func (s *SQLiteStore) allRows(ctx context.Context) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, chunk_index, text, vector, timestamp,
		        file_name, file_size, file_type, language, memory_type, tags, project,
		        expires_at, created_at, updated_at
		 FROM chunks`)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDatabase, "query all rows: "+err.Error(), false)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeDatabase, "scan row: "+err.Error(), false)
		}
		out = append(out, c)
	}
	return out, nil
}

// lexicalSearch runs an FTS5 MATCH query over the text column, ranked by
// bm25(), returning up to limit rows as full Chunk values.
func (s *SQLiteStore) lexicalSearch(ctx context.Context, query string, limit int) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.file_path, c.chunk_index, c.text, c.vector, c.timestamp,
		        c.file_name, c.file_size, c.file_type, c.language, c.memory_type, c.tags, c.project,
		        c.expires_at, c.created_at, c.updated_at
		 FROM chunks_fts
		 JOIN chunks c ON c.rowid = chunks_fts.rowid
		 WHERE chunks_fts MATCH ?
		 ORDER BY bm25(chunks_fts)
		 LIMIT ?`, query, limit)
	if err != nil {
		// Malformed FTS query syntax degrades to no lexical candidates
		// rather than failing the whole search.
		return nil, nil
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeDatabase, "scan row: "+err.Error(), false)
		}
		out = append(out, c)
	}
	return out, nil
}
