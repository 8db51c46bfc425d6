package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/handlers"
	"github.com/rcliao/ragmcp/internal/store"
)

// Server wires the eight tool handlers to a handlers.Handlers instance and
// registers them on an mcp-go server.
type Server struct {
	h *handlers.Handlers
}

// New builds a Server around h.
func New(h *handlers.Handlers) *Server {
	return &Server{h: h}
}

// Register adds every tool and handler pair to s.
func (s *Server) Register(mcpServer *server.MCPServer) {
	mcpServer.AddTool(queryDocumentsTool(), s.handleQueryDocuments)
	mcpServer.AddTool(ingestFileTool(), s.handleIngestFile)
	mcpServer.AddTool(memorizeTextTool(), s.handleMemorizeText)
	mcpServer.AddTool(updateMemoryTool(), s.handleUpdateMemory)
	mcpServer.AddTool(deleteFileTool(), s.handleDeleteFile)
	mcpServer.AddTool(listFilesTool(), s.handleListFiles)
	mcpServer.AddTool(cleanupExpiredTool(), s.handleCleanupExpired)
	mcpServer.AddTool(statusTool(), s.handleStatus)
}

// errResult renders err as a tool error result, preferring the typed
// message and code when the error chain carries one.
func errResult(err error) *mcp.CallToolResult {
	if typed, ok := errs.AsError(err); ok {
		return mcp.NewToolResultError(string(typed.Code) + ": " + typed.Message)
	}
	return mcp.NewToolResultError(err.Error())
}

// hasArg reports whether key was present in the call's arguments at all,
// distinguishing an absent argument from an explicit zero/empty one.
func hasArg(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

// optionalStringSlice reads an optional list-of-strings argument. Absent
// arguments return (nil, nil); present ones are validated with
// RequireStringSlice so a non-list value or a non-string element produces
// the two distinct rejection messages spec.md §4.5 calls for, instead of
// GetStringSlice's silent coercion.
func optionalStringSlice(req mcp.CallToolRequest, key string) ([]string, error) {
	if !hasArg(req, key) {
		return nil, nil
	}
	return req.RequireStringSlice(key)
}

func (s *Server) handleQueryDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.h.QueryDocuments(ctx, handlers.QueryDocumentsParams{
		Query:       query,
		Limit:       req.GetInt("limit", 0),
		HasLimit:    hasArg(req, "limit"),
		Type:        req.GetString("type", ""),
		Tags:        tags,
		Project:     req.GetString("project", ""),
		MinScore:    req.GetFloat("minScore", 0),
		HasMinScore: hasArg(req, "minScore"),
	})
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(results)
}

func (s *Server) handleIngestFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("filePath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.h.IngestFile(ctx, handlers.IngestFileParams{
		FilePath: filePath,
		Tags:     tags,
		Project:  req.GetString("project", ""),
		Global:   req.GetBool("global", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *Server) handleMemorizeText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.h.MemorizeText(ctx, handlers.MemorizeTextParams{
		Text:     text,
		Label:    req.GetString("label", ""),
		Language: req.GetString("language", ""),
		Tags:     tags,
		Type:     req.GetString("type", ""),
		TTL:      req.GetString("ttl", ""),
		Project:  req.GetString("project", ""),
		Global:   req.GetBool("global", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *Server) handleUpdateMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	addTags, err := optionalStringSlice(req, "addTags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	removeTags, err := optionalStringSlice(req, "removeTags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.h.UpdateMemory(ctx, handlers.UpdateMemoryParams{
		Label:      label,
		Mode:       req.GetString("mode", ""),
		Text:       req.GetString("text", ""),
		Tags:       tags,
		AddTags:    addTags,
		RemoveTags: removeTags,
	})
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *Server) handleDeleteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("filePath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.h.DeleteFile(ctx, filePath)
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *Server) handleListFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	files, err := s.h.ListFiles(ctx, store.ListFilesParams{
		Type:     req.GetString("type", ""),
		Tags:     tags,
		Project:  req.GetString("project", ""),
		Search:   req.GetString("search", ""),
		Limit:    req.GetInt("limit", 0),
		HasLimit: hasArg(req, "limit"),
	})
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(files)
}

func (s *Server) handleCleanupExpired(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.h.CleanupExpired(ctx)
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.h.Status(ctx)
	if err != nil {
		return errResult(err), nil
	}
	return mcp.NewToolResultJSON(result)
}
