package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/keepsake/internal/pipeline"
	"github.com/kalambet/keepsake/internal/storage"
)

const pendingResourceLimit = 50

// MCPProcessor is the pipeline surface exposed to agents.
type MCPProcessor interface {
	Process(ctx context.Context, owner, memoryID string) (pipeline.Result, error)
	GenerateTitle(ctx context.Context, transcript string, memoryType storage.MemoryType) (pipeline.TitleResult, error)
}

// CleanupLister lists queue items by status.
type CleanupLister interface {
	ListCleanupItems(ctx context.Context, status storage.CleanupStatus, limit int) ([]storage.CleanupItem, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor MCPProcessor
	Cleanup   BatchProcessor
	Queue     CleanupLister
}

// NewMCPServer creates an MCP server with the keepsake tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"keepsake",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("keepsake turns captured memories into titled, readable entries and retires orphaned media."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_memory",
			mcp.WithDescription("Run the generation pipeline for a stored moment or story and persist the title and processed text."),
			mcp.WithString("memory_id", mcp.Description("Memory identifier"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Owner of the memory"), mcp.Required()),
		),
		mcpProcessMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_title",
			mcp.WithDescription("Generate a short title for a transcript without storing anything."),
			mcp.WithString("transcript", mcp.Description("Raw transcript text"), mcp.Required()),
			mcp.WithString("memory_type", mcp.Description("Kind of memory"), mcp.Enum("moment", "story", "memento"), mcp.Required()),
		),
		mcpGenerateTitle(deps),
	)

	s.AddTool(
		mcp.NewTool("run_cleanup",
			mcp.WithDescription("Process one batch of the media cleanup queue."),
		),
		mcpRunCleanup(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"keepsake://cleanup/pending",
			"Pending Cleanup",
			mcp.WithResourceDescription("Media cleanup queue items waiting for deletion"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpProcessMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memoryID, err := req.RequireString("memory_id")
		if err != nil {
			return mcpError("memory_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		res, err := deps.Processor.Process(ctx, userID, memoryID)
		if err != nil {
			return mcpError(publicMessage(err)), nil
		}
		return mcpJSON(map[string]string{
			"title":         res.Title,
			"processedText": res.ProcessedText,
			"status":        string(res.Status),
			"generatedAt":   formatTime(res.GeneratedAt),
		})
	}
}

func mcpGenerateTitle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		transcript, err := req.RequireString("transcript")
		if err != nil {
			return mcpError("transcript is required"), nil
		}
		memoryType := req.GetString("memory_type", "")

		res, err := deps.Processor.GenerateTitle(ctx, transcript, storage.MemoryType(memoryType))
		if err != nil {
			return mcpError(publicMessage(err)), nil
		}
		return mcpJSON(map[string]string{
			"title":       res.Title,
			"status":      string(res.Status),
			"generatedAt": formatTime(res.GeneratedAt),
		})
	}
}

func mcpRunCleanup(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Cleanup.ProcessBatch(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("cleanup failed: %v", err)), nil
		}
		if res.Errors == nil {
			res.Errors = []string{}
		}
		return mcpJSON(res)
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Queue.ListCleanupItems(ctx, storage.CleanupPending, pendingResourceLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list cleanup items: %w", err)
		}

		type pendingItem struct {
			ID         string `json:"id"`
			BucketName string `json:"bucket_name"`
			FilePath   string `json:"file_path"`
			RetryCount int    `json:"retry_count"`
			CreatedAt  string `json:"created_at"`
		}
		out := make([]pendingItem, len(items))
		for i, it := range items {
			out[i] = pendingItem{
				ID:         it.ID,
				BucketName: it.BucketName,
				FilePath:   it.FilePath,
				RetryCount: it.RetryCount,
				CreatedAt:  formatTime(it.CreatedAt),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cleanup items: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// publicMessage returns the caller-safe message for a pipeline error.
func publicMessage(err error) string {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s: %s", pe.Code, pe.Message)
	}
	return "INTERNAL_ERROR: An unexpected error occurred"
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
