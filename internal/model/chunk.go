// Package model defines the core chunk row data types persisted by the store.
package model

import "time"

// Metadata is the nested record every chunk row of a given source shares.
type Metadata struct {
	FileName   string     `json:"fileName"`
	FileSize   int64      `json:"fileSize"`
	FileType   string     `json:"fileType"`
	Language   string     `json:"language,omitempty"`
	MemoryType string     `json:"memoryType,omitempty"`
	Tags       []string   `json:"tags"`
	Project    string     `json:"project,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Chunk is the only persisted entity: one row of a source's chunked text plus
// its embedding vector and shared metadata.
type Chunk struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"filePath"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	Metadata   Metadata  `json:"metadata"`
}

// ValidMemoryTypes are the allowed memoryType values (nullable).
var ValidMemoryTypes = map[string]bool{
	"file":   true,
	"memory": true,
	"lesson": true,
	"note":   true,
}

// IsMemoryPath reports whether filePath is a memory:// synthetic source.
func IsMemoryPath(filePath string) bool {
	return len(filePath) >= len(memoryPrefix) && filePath[:len(memoryPrefix)] == memoryPrefix
}

const memoryPrefix = "memory://"

// MemoryPath builds the synthetic filePath for a memorize_text label.
func MemoryPath(label string) string {
	return memoryPrefix + label
}

// MemoryLabel extracts the label from a memory:// filePath, or "" if not one.
func MemoryLabel(filePath string) string {
	if !IsMemoryPath(filePath) {
		return ""
	}
	return filePath[len(memoryPrefix):]
}
