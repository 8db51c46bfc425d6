// Package embedding provides a pluggable interface for text embedding
// providers behind a lazy, single-flight initialized service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rcliao/ragmcp/internal/errs"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// DefaultDims is the dimensionality of the local feature-extraction model.
const DefaultDims = 384

// DefaultBatchSize is how many texts embed_batch groups per request.
const DefaultBatchSize = 8

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Service wraps an Embedder behind a lazy, single-flight initialization
// gate: the first Embed/EmbedBatch call loads the underlying provider, and
// concurrent first callers all observe the same in-flight load rather than
// each triggering their own. A load failure does not poison the gate — the
// next call retries from scratch.
type Service struct {
	cacheDir string
	factory  func() (Embedder, error)

	group singleflight.Group

	mu   sync.RWMutex
	impl Embedder
}

// NewService builds a Service. factory constructs the real provider and is
// invoked at most once per successful initialization; cacheDir is surfaced
// in error messages so operators know where to look.
func NewService(cacheDir string, factory func() (Embedder, error)) *Service {
	return &Service{cacheDir: cacheDir, factory: factory}
}

// ensure performs the lazy single-flight load, returning the shared Embedder
// once any in-flight or completed load resolves.
func (s *Service) ensure() (Embedder, error) {
	if e := s.loadedImpl(); e != nil {
		return e, nil
	}
	v, err, _ := s.group.Do("init", func() (any, error) {
		if e := s.loadedImpl(); e != nil {
			return e, nil
		}
		e, err := s.factory()
		if err != nil {
			return nil, s.wrapLoadError(err)
		}
		s.mu.Lock()
		s.impl = e
		s.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

func (s *Service) loadedImpl() Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.impl
}

func (s *Service) wrapLoadError(cause error) error {
	msg := fmt.Sprintf(
		"failed to load embedding model from cache directory %q: %v. "+
			"Probable causes: network unavailable while fetching the model, "+
			"insufficient disk space, or a corrupted cache. "+
			"Try again, verify connectivity, or delete the cache directory and retry.",
		s.cacheDir, cause,
	)
	return errs.Wrap(cause, errs.CodeEmbedding, msg, true)
}

// Dims reports the loaded provider's dimensionality, or DefaultDims if the
// provider has not been initialized yet. It never triggers a load.
func (s *Service) Dims() int {
	if e := s.loadedImpl(); e != nil {
		return e.Dims()
	}
	return DefaultDims
}

// Embed returns the embedding vector for text. Empty text short-circuits to
// a zero vector of Dims() length without touching the provider.
func (s *Service) Embed(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return make(Vector, s.Dims()), nil
	}
	e, err := s.ensure()
	if err != nil {
		return nil, err
	}
	v, err := e.Embed(ctx, text)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbedding, fmt.Sprintf("embedding request failed: %v", err), true)
	}
	return v, nil
}

// EmbedBatch embeds texts in groups of DefaultBatchSize, preserving order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for start := 0; start < len(texts); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			v, err := s.Embed(ctx, texts[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	}
	return out, nil
}

// --- Local feature-extraction provider ---

// LocalEmbedder calls a local HTTP feature-extraction server (e.g. an
// Ollama-compatible endpoint serving a small sentence-embedding model).
type LocalEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewLocalEmbedder creates an embedder against a local model server.
// baseURL defaults to Ollama's conventional local address.
func NewLocalEmbedder(baseURL, model string, dims int) *LocalEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "all-minilm"
	}
	if dims == 0 {
		dims = DefaultDims
	}
	return &LocalEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(localRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local embedding server error %d: %s", resp.StatusCode, string(b))
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (e *LocalEmbedder) Dims() int { return e.dims }

// NewFromEnv builds the default Service reading provider configuration from
// the environment. RAG_MODEL_CACHE_DIR is surfaced in failure messages;
// RAG_MODEL_ID selects the served model name.
func NewFromEnv() *Service {
	cacheDir := os.Getenv("RAG_MODEL_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "./.cache/ragmcp/models"
	}
	modelID := os.Getenv("RAG_MODEL_ID")
	baseURL := os.Getenv("RAG_MODEL_URL")

	return NewService(cacheDir, func() (Embedder, error) {
		return NewLocalEmbedder(baseURL, modelID, DefaultDims), nil
	})
}
