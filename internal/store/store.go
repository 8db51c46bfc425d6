// Package store persists chunk rows and serves hybrid lexical/dense search
// over them.
package store

import (
	"context"

	"github.com/rcliao/ragmcp/internal/model"
)

// SearchParams holds parameters for a hybrid search query.
type SearchParams struct {
	QueryVector    []float32
	QueryText      string
	Limit          int
	Type           string // "file" | "memory" | "all"
	Tags           []string
	Project        string
	MinScore       float64
	HasMinScore    bool
	MaxDistance    float64
	HasMaxDistance bool
	GroupingMode   string // "" | "similar" | "related"

	// HybridWeight overrides the store's configured default for this call.
	// Zero means "use the store's configured weight."
	HybridWeight float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	FilePath   string  `json:"filePath"`
	ChunkIndex int     `json:"chunkIndex"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// ListFilesParams filters the listFiles operation.
type ListFilesParams struct {
	Type    string
	Tags    []string
	Project string
	Search  string

	// Limit is only honored when HasLimit is set: an absent limit defaults
	// to 50, while an explicit 0 means unlimited.
	Limit    int
	HasLimit bool
}

// FileSummary describes one distinct source's aggregated state.
type FileSummary struct {
	FilePath     string         `json:"filePath"`
	ChunkCount   int            `json:"chunkCount"`
	LastModified string         `json:"lastModified"`
	Metadata     model.Metadata `json:"metadata"`
}

// Status reports aggregate store health and configuration.
type Status struct {
	SourceCount    int    `json:"sourceCount"`
	ChunkCount     int    `json:"chunkCount"`
	ApproxMemBytes uint64 `json:"approxMemBytes"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	FTSAvailable   bool   `json:"ftsAvailable"`
	Hybrid         bool   `json:"hybrid"`
}

// Store is the persisted chunk table's public operation surface.
type Store interface {
	// Initialize opens or prepares the table, migrating the schema if an
	// existing table lacks current metadata columns.
	Initialize(ctx context.Context) error

	// Insert adds rows, creating the table on first insert if absent.
	Insert(ctx context.Context, chunks []model.Chunk) error

	// Delete removes every row with the given filePath. Missing rows are
	// not an error.
	Delete(ctx context.Context, filePath string) error

	// Search runs the hybrid candidate/fusion/filter/grouping pipeline.
	Search(ctx context.Context, p SearchParams) ([]SearchResult, error)

	// ListFiles groups chunk rows by filePath.
	ListFiles(ctx context.Context, p ListFilesParams) ([]FileSummary, error)

	// GetByLabel returns all chunk rows for memory://<label>, sorted by
	// chunkIndex.
	GetByLabel(ctx context.Context, label string) ([]model.Chunk, error)

	// RowsByPath returns every row for filePath, sorted by chunkIndex. Used
	// by the handler layer to snapshot a row set before a replace.
	RowsByPath(ctx context.Context, filePath string) ([]model.Chunk, error)

	// CleanupExpired deletes every source with at least one expired row.
	// Returns the count of distinct sources deleted.
	CleanupExpired(ctx context.Context) (int, error)

	// GetStatus reports aggregate store health.
	GetStatus(ctx context.Context) (Status, error)

	// Close releases the underlying connection.
	Close() error
}
