package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/ragmcp/internal/chunker"
	"github.com/rcliao/ragmcp/internal/config"
	"github.com/rcliao/ragmcp/internal/embedding"
	"github.com/rcliao/ragmcp/internal/handlers"
	"github.com/rcliao/ragmcp/internal/logging"
	"github.com/rcliao/ragmcp/internal/mcpserver"
	"github.com/rcliao/ragmcp/internal/parser"
	"github.com/rcliao/ragmcp/internal/store"
)

const serverVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Getenv("RAG_LOG_LEVEL"))

	ctx := context.Background()

	p, err := parser.New(cfg.RootDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize parser")
	}

	s, err := store.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer s.Close()
	s.SetHybridWeight(cfg.HybridWeight)

	emb := embedding.NewFromEnv()

	chunkOpts := chunker.Options{
		TargetSize: cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
		MinLength:  chunker.MinChunkLength,
	}

	search := handlers.SearchDefaults{
		HybridWeight:   cfg.HybridWeight,
		MaxDistance:    cfg.MaxDistance,
		HasMaxDistance: cfg.HasMaxDistance,
		GroupingMode:   cfg.GroupingMode,
	}

	h := handlers.New(p, emb, s, chunkOpts, search)

	mcpServer := server.NewMCPServer(
		"ragmcp",
		serverVersion,
		server.WithToolCapabilities(true),
	)

	mcpserver.New(h).Register(mcpServer)

	logger.Info().Str("rootDir", cfg.RootDir).Str("dbPath", cfg.DBPath).Msg("ragmcp server starting")

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("mcp server failed")
	}
}
