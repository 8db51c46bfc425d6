package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

func queryDocumentsTool() mcp.Tool {
	return mcp.NewTool("query_documents",
		mcp.WithDescription("Search ingested files and memorized snippets using hybrid lexical/dense retrieval."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query text.")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return, 1-20 (default 10).")),
		mcp.WithString("type", mcp.Description(`Filter: "all", "file", or "memory" (default "all").`)),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Require all of these tags (AND semantics).")),
		mcp.WithString("project", mcp.Description("Filter by exact project match.")),
		mcp.WithNumber("minScore", mcp.Description("Maximum distance score to admit, 0-2 (lower is more similar).")),
	)
}

func ingestFileTool() mcp.Tool {
	return mcp.NewTool("ingest_file",
		mcp.WithDescription("Parse, chunk, embed, and index a file under the configured root directory."),
		mcp.WithString("filePath", mcp.Required(), mcp.Description("Path relative to the configured root directory.")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags to attach to every chunk of this file.")),
		mcp.WithString("project", mcp.Description("Project label to attach.")),
		mcp.WithBoolean("global", mcp.Description("If true, project is not set even when provided.")),
	)
}

func memorizeTextTool() mcp.Tool {
	return mcp.NewTool("memorize_text",
		mcp.WithDescription("Store free-form text as a memory:// snippet, optionally with an expiry."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to memorize.")),
		mcp.WithString("label", mcp.Description("Snippet label; defaults to snippet-<epoch-ms>.")),
		mcp.WithString("language", mcp.Description("Optional language hint.")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags to attach.")),
		mcp.WithString("type", mcp.Description(`Memory type: "memory", "lesson", or "note".`)),
		mcp.WithString("ttl", mcp.Description(`"permanent" or \d+[dhmy] (days/hours/months/years).`)),
		mcp.WithString("project", mcp.Description("Project label to attach.")),
		mcp.WithBoolean("global", mcp.Description("If true, project is not set even when provided.")),
	)
}

func updateMemoryTool() mcp.Tool {
	return mcp.NewTool("update_memory",
		mcp.WithDescription("Update an existing memory:// snippet's text and/or tags."),
		mcp.WithString("label", mcp.Required(), mcp.Description("The memory's label.")),
		mcp.WithString("mode", mcp.Description(`"replace" (default), "append", or "prepend".`)),
		mcp.WithString("text", mcp.Description("New text, interpreted per mode.")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Replace the entire tag set.")),
		mcp.WithArray("addTags", mcp.WithStringItems(), mcp.Description("Tags to add (ignored if tags is set).")),
		mcp.WithArray("removeTags", mcp.WithStringItems(), mcp.Description("Tags to remove (ignored if tags is set).")),
	)
}

func deleteFileTool() mcp.Tool {
	return mcp.NewTool("delete_file",
		mcp.WithDescription("Delete every indexed chunk for a filePath or memory:// label. Idempotent."),
		mcp.WithString("filePath", mcp.Required(), mcp.Description("Path or memory:// source to delete.")),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

func listFilesTool() mcp.Tool {
	return mcp.NewTool("list_files",
		mcp.WithDescription("List distinct indexed sources and their chunk counts."),
		mcp.WithString("type", mcp.Description(`Filter: "all", "file", or "memory".`)),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Require all of these tags.")),
		mcp.WithString("project", mcp.Description("Filter by exact project match.")),
		mcp.WithString("search", mcp.Description("Case-insensitive substring match against filePath or fileName.")),
		mcp.WithNumber("limit", mcp.Description("Max sources to return; 0 means unlimited (default 50).")),
	)
}

func cleanupExpiredTool() mcp.Tool {
	return mcp.NewTool("cleanup_expired",
		mcp.WithDescription("Delete every source with at least one row past its expiresAt."),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("status",
		mcp.WithDescription("Report aggregate store health: source/chunk counts, memory, uptime, and search mode."),
	)
}
