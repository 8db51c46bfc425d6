// Package config loads runtime configuration from the environment,
// optionally enriched by a local .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	RootDir        string
	DBPath         string
	ModelCacheDir  string
	ModelID        string
	ModelURL       string
	MaxFileSize    int64
	ChunkSize      int
	ChunkOverlap   int
	HybridWeight   float64
	MaxDistance    float64
	HasMaxDistance bool
	GroupingMode   string
}

// Load reads a .env file if present (missing is not an error), then
// populates Config from the environment, applying defaults for anything
// unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		RootDir:       getEnv("RAG_ROOT_DIR", "."),
		DBPath:        getEnv("RAG_DB_PATH", defaultDBPath()),
		ModelCacheDir: getEnv("RAG_MODEL_CACHE_DIR", defaultCacheDir()),
		ModelID:       getEnv("RAG_MODEL_ID", "all-minilm"),
		ModelURL:      getEnv("RAG_MODEL_URL", "http://localhost:11434"),
		ChunkSize:     400,
		ChunkOverlap:  50,
		HybridWeight:  0.6,
		GroupingMode:  os.Getenv("RAG_GROUPING_MODE"),
	}

	var err error
	if cfg.MaxFileSize, err = getEnvInt64("RAG_MAX_FILE_SIZE", 10<<20); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = getEnvInt("RAG_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = getEnvInt("RAG_CHUNK_OVERLAP", cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.HybridWeight, err = getEnvFloat("RAG_HYBRID_WEIGHT", cfg.HybridWeight); err != nil {
		return nil, err
	}

	if raw := os.Getenv("RAG_MAX_DISTANCE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing RAG_MAX_DISTANCE: %w", err)
		}
		cfg.MaxDistance = v
		cfg.HasMaxDistance = true
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ragmcp.db"
	}
	return home + "/.ragmcp/ragmcp.db"
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragmcp/models"
	}
	return home + "/.ragmcp/models"
}
