// Package handlers implements the request-handler layer: input validation,
// pipeline orchestration across the parser/chunker/embedder/store, and
// re-ingest atomicity.
package handlers

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/ragmcp/internal/chunker"
	"github.com/rcliao/ragmcp/internal/embedding"
	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
	"github.com/rcliao/ragmcp/internal/parser"
	"github.com/rcliao/ragmcp/internal/store"
)

// SearchDefaults carries the configured search-time knobs that aren't part
// of a tool call's arguments (hybrid fusion weight, a configured maxDistance
// ceiling on result distance, and the grouping mode), threaded from config.Config into every
// Search call query_documents issues.
type SearchDefaults struct {
	HybridWeight   float64
	MaxDistance    float64
	HasMaxDistance bool
	GroupingMode   string
}

// Handlers wires the parser, chunker, embedder, and store into the eight
// tool operations of the MCP surface.
type Handlers struct {
	parser    *parser.Parser
	embedder  *embedding.Service
	store     store.Store
	chunkOpts chunker.Options
	search    SearchDefaults

	// perSource serializes ingest/update/delete operations against the same
	// filePath: concurrent replaces of one source are a logic error the
	// handler layer must not allow to interleave.
	perSource sync.Map // filePath -> *sync.Mutex
}

// New builds a Handlers instance.
func New(p *parser.Parser, e *embedding.Service, s store.Store, chunkOpts chunker.Options, search SearchDefaults) *Handlers {
	return &Handlers{parser: p, embedder: e, store: s, chunkOpts: chunkOpts, search: search}
}

func (h *Handlers) lockSource(filePath string) func() {
	v, _ := h.perSource.LoadOrStore(filePath, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// IngestFileParams is ingest_file's validated input.
type IngestFileParams struct {
	FilePath string
	Tags     []string
	Project  string
	Global   bool
}

// IngestFileResult is ingest_file's response shape.
type IngestFileResult struct {
	FilePath   string    `json:"filePath"`
	ChunkCount int       `json:"chunkCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// IngestFile parses, chunks, embeds, and transactionally replaces the row
// set for p.FilePath.
func (h *Handlers) IngestFile(ctx context.Context, p IngestFileParams) (*IngestFileResult, error) {
	if err := h.parser.Validate(p.FilePath); err != nil {
		return nil, err
	}
	tags, err := validateTags(p.Tags)
	if err != nil {
		return nil, err
	}

	unlock := h.lockSource(p.FilePath)
	defer unlock()

	text, language, err := h.parser.Parse(p.FilePath)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	project := p.Project
	if p.Global {
		project = ""
	}

	meta := model.Metadata{
		FileName:   fileNameOf(p.FilePath),
		FileSize:   int64(len(text)),
		FileType:   language,
		Language:   language,
		MemoryType: "file",
		Tags:       tags,
		Project:    project,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	chunks, err := h.chunkAndEmbed(ctx, p.FilePath, text, meta)
	if err != nil {
		return nil, err
	}

	if err := h.replace(ctx, p.FilePath, chunks); err != nil {
		return nil, err
	}

	return &IngestFileResult{FilePath: p.FilePath, ChunkCount: len(chunks), Timestamp: now}, nil
}

// MemorizeTextParams is memorize_text's validated input.
type MemorizeTextParams struct {
	Text     string
	Label    string
	Language string
	Tags     []string
	Type     string
	TTL      string
	Project  string
	Global   bool
}

// MemorizeTextResult is memorize_text's response shape.
type MemorizeTextResult struct {
	FilePath   string     `json:"filePath"`
	Label      string     `json:"label"`
	ChunkCount int        `json:"chunkCount"`
	Timestamp  time.Time  `json:"timestamp"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// MemorizeText stores free-form text as a memory:// source.
func (h *Handlers) MemorizeText(ctx context.Context, p MemorizeTextParams) (*MemorizeTextResult, error) {
	tags, err := validateTags(p.Tags)
	if err != nil {
		return nil, err
	}
	if err := validateMemoryType(p.Type); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt, err := parseTTL(p.TTL, now)
	if err != nil {
		return nil, err
	}

	label := p.Label
	if label == "" {
		label = fmt.Sprintf("snippet-%d", now.UnixMilli())
	}
	filePath := model.MemoryPath(label)
	if err := h.parser.Validate(filePath); err != nil {
		return nil, err
	}

	unlock := h.lockSource(filePath)
	defer unlock()

	project := p.Project
	if p.Global {
		project = ""
	}

	memType := p.Type
	if memType == "" {
		memType = "memory"
	}

	meta := model.Metadata{
		FileName:   label,
		FileSize:   int64(len(p.Text)),
		FileType:   "text",
		Language:   p.Language,
		MemoryType: memType,
		Tags:       tags,
		Project:    project,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	chunks, err := h.chunkAndEmbed(ctx, filePath, p.Text, meta)
	if err != nil {
		return nil, err
	}

	if err := h.replace(ctx, filePath, chunks); err != nil {
		return nil, err
	}

	return &MemorizeTextResult{
		FilePath: filePath, Label: label, ChunkCount: len(chunks), Timestamp: now, ExpiresAt: expiresAt,
	}, nil
}

// UpdateMemoryParams is update_memory's validated input.
type UpdateMemoryParams struct {
	Label      string
	Mode       string
	Text       string
	Tags       []string
	AddTags    []string
	RemoveTags []string
}

// UpdateMemoryResult is update_memory's response shape.
type UpdateMemoryResult struct {
	FilePath   string    `json:"filePath"`
	Label      string    `json:"label"`
	ChunkCount int       `json:"chunkCount"`
	Timestamp  time.Time `json:"timestamp"`
	Tags       []string  `json:"tags"`
}

// UpdateMemory requires the memory to exist; it reconstructs the stored
// text, applies the merge mode, re-chunks and re-embeds, and replaces the
// row set while preserving createdAt.
func (h *Handlers) UpdateMemory(ctx context.Context, p UpdateMemoryParams) (*UpdateMemoryResult, error) {
	mode, err := validateUpdateMode(p.Mode)
	if err != nil {
		return nil, err
	}
	tags, err := validateTags(p.Tags)
	if err != nil {
		return nil, err
	}
	addTags, err := validateTags(p.AddTags)
	if err != nil {
		return nil, err
	}
	removeTags, err := validateTags(p.RemoveTags)
	if err != nil {
		return nil, err
	}

	filePath := model.MemoryPath(p.Label)
	unlock := h.lockSource(filePath)
	defer unlock()

	existing, err := h.store.GetByLabel(ctx, p.Label)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, errs.NewError(errs.CodeNotFound, "memory not found: "+p.Label, false)
	}

	sort.Slice(existing, func(i, j int) bool { return existing[i].ChunkIndex < existing[j].ChunkIndex })
	priorText := joinChunkTexts(existing)
	priorMeta := existing[0].Metadata

	var newText string
	switch mode {
	case modeReplace:
		newText = p.Text
	case modeAppend:
		newText = priorText + "\n" + p.Text
	case modePrepend:
		newText = p.Text + "\n" + priorText
	}

	finalTags := priorMeta.Tags
	if p.Tags != nil {
		finalTags = tags
	} else {
		finalTags = unionTags(finalTags, addTags)
		finalTags = subtractTags(finalTags, removeTags)
	}

	now := time.Now().UTC()
	meta := priorMeta
	meta.Tags = finalTags
	meta.UpdatedAt = now

	chunks, err := h.chunkAndEmbed(ctx, filePath, newText, meta)
	if err != nil {
		return nil, err
	}

	if err := h.replace(ctx, filePath, chunks); err != nil {
		return nil, err
	}

	return &UpdateMemoryResult{
		FilePath: filePath, Label: p.Label, ChunkCount: len(chunks), Timestamp: now, Tags: finalTags,
	}, nil
}

// DeleteFileResult is delete_file's response shape.
type DeleteFileResult struct {
	FilePath  string    `json:"filePath"`
	Deleted   bool      `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// DeleteFile validates the path then issues a store delete. Idempotent:
// deleting a nonexistent source succeeds.
func (h *Handlers) DeleteFile(ctx context.Context, filePath string) (*DeleteFileResult, error) {
	if err := h.parser.Validate(filePath); err != nil {
		return nil, err
	}

	unlock := h.lockSource(filePath)
	defer unlock()

	if err := h.store.Delete(ctx, filePath); err != nil {
		if isNotFoundDatabaseError(err) {
			return &DeleteFileResult{FilePath: filePath, Deleted: true, Timestamp: time.Now().UTC()}, nil
		}
		return nil, err
	}
	return &DeleteFileResult{FilePath: filePath, Deleted: true, Timestamp: time.Now().UTC()}, nil
}

// ListFiles is a thin wrapper over the store.
func (h *Handlers) ListFiles(ctx context.Context, p store.ListFilesParams) ([]store.FileSummary, error) {
	if err := validateSearchType(p.Type); err != nil {
		return nil, err
	}
	return h.store.ListFiles(ctx, p)
}

// CleanupExpiredResult is cleanup_expired's response shape.
type CleanupExpiredResult struct {
	DeletedCount int       `json:"deletedCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// CleanupExpired is a thin wrapper over the store.
func (h *Handlers) CleanupExpired(ctx context.Context) (*CleanupExpiredResult, error) {
	n, err := h.store.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	return &CleanupExpiredResult{DeletedCount: n, Timestamp: time.Now().UTC()}, nil
}

// Status is a thin wrapper over the store.
func (h *Handlers) Status(ctx context.Context) (store.Status, error) {
	return h.store.GetStatus(ctx)
}

// QueryDocumentsParams is query_documents's validated input.
type QueryDocumentsParams struct {
	Query       string
	Limit       int
	HasLimit    bool
	Type        string
	Tags        []string
	Project     string
	MinScore    float64
	HasMinScore bool
}

// QueryDocuments embeds the query string and runs a hybrid store search.
func (h *Handlers) QueryDocuments(ctx context.Context, p QueryDocumentsParams) ([]store.SearchResult, error) {
	if err := validateSearchType(p.Type); err != nil {
		return nil, err
	}
	if err := validateMinScore(p.MinScore, p.HasMinScore); err != nil {
		return nil, err
	}
	// An absent limit defaults to 10; an explicit limit (including 0) is
	// validated as given, so limit = 0 is rejected rather than silently
	// substituted.
	limit := 10
	if p.HasLimit {
		limit = p.Limit
	}
	if err := validateQueryLimit(limit); err != nil {
		return nil, err
	}
	tags, err := validateTags(p.Tags)
	if err != nil {
		return nil, err
	}

	vector, err := h.embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}

	return h.store.Search(ctx, store.SearchParams{
		QueryVector:    vector,
		QueryText:      p.Query,
		Limit:          limit,
		Type:           p.Type,
		Tags:           tags,
		Project:        p.Project,
		MinScore:       p.MinScore,
		HasMinScore:    p.HasMinScore,
		MaxDistance:    h.search.MaxDistance,
		HasMaxDistance: h.search.HasMaxDistance,
		GroupingMode:   h.search.GroupingMode,
		HybridWeight:   h.search.HybridWeight,
	})
}

// chunkAndEmbed splits text and attaches an embedding vector and meta to
// every surviving chunk.
func (h *Handlers) chunkAndEmbed(ctx context.Context, filePath, text string, meta model.Metadata) ([]model.Chunk, error) {
	results := chunker.Chunk(text, h.chunkOpts)

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	vectors, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chunks := make([]model.Chunk, len(results))
	for i, r := range results {
		chunks[i] = model.Chunk{
			FilePath:   filePath,
			ChunkIndex: r.Index,
			Text:       r.Text,
			Vector:     vectors[i],
			Timestamp:  now,
			Metadata:   meta,
		}
	}
	return chunks, nil
}

// replace performs the transactional snapshot/delete/insert/rollback
// sequence: best-effort backup, delete, insert; on insert failure, attempt
// to restore the backup; if that also fails, surface a composite error.
func (h *Handlers) replace(ctx context.Context, filePath string, chunks []model.Chunk) error {
	// Snapshotting is best-effort: failure here is logged, not fatal, since
	// new files have no prior version.
	backup, err := h.store.RowsByPath(ctx, filePath)
	if err != nil {
		log.Printf("warning: could not snapshot %s before replace: %v", filePath, err)
	}

	if err := h.store.Delete(ctx, filePath); err != nil {
		return err
	}

	if err := h.store.Insert(ctx, chunks); err != nil {
		if len(backup) == 0 {
			return err
		}
		if rollbackErr := h.store.Insert(ctx, backup); rollbackErr != nil {
			return &errs.RollbackFailure{Original: err, Rollback: rollbackErr}
		}
		return err
	}

	return nil
}

func joinChunkTexts(chunks []model.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

func unionTags(existing, add []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(existing)+len(add))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func subtractTags(existing, remove []string) []string {
	removeSet := map[string]bool{}
	for _, t := range remove {
		removeSet[t] = true
	}
	out := make([]string, 0, len(existing))
	for _, t := range existing {
		if !removeSet[t] {
			out = append(out, t)
		}
	}
	return out
}

func fileNameOf(filePath string) string {
	idx := strings.LastIndex(filePath, "/")
	if idx < 0 {
		return filePath
	}
	return filePath[idx+1:]
}

// isNotFoundDatabaseError reports whether err's message indicates a
// not-found condition that delete should treat as idempotent success.
func isNotFoundDatabaseError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "no matching")
}
