package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/captioner/internal/schedule"
)

// RecentRunsURI lists the latest pipeline runs.
const RecentRunsURI = "runs://recent"

// NewMCPServer creates an MCP server exposing the schedule and the brand
// corpus to assistants.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"captioner",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("captioner: daily Tanji Company caption prompts and brand context retrieval."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("today_prompt",
			mcp.WithDescription("Return the caption prompt scheduled for a date. Defaults to today."),
			mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD")),
		),
		mcpTodayPrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("retrieve_context",
			mcp.WithDescription("Find the brand documents closest to a query"),
			mcp.WithString("query", mcp.Description("Text to search for"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Number of documents to return (default 2)")),
		),
		mcpRetrieveContext(deps),
	)

	s.AddResource(
		mcp.NewResource(RecentRunsURI, "Recent runs",
			mcp.WithResourceDescription("Latest caption pipeline runs, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpTodayPrompt(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetString("date", "")
		if raw == "" {
			return mcpJSON(deps.todayEntry())
		}

		date, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid date %q: want YYYY-MM-DD", raw)), nil
		}
		p := schedule.ForDate(date, deps.Prompts).Lookup(date)
		return mcpJSON(schedule.Entry{Date: date, Prompt: p, Rest: p == schedule.RestDay})
	}
}

func mcpRetrieveContext(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		topK := req.GetInt("top_k", deps.topK())
		if topK > maxTopK {
			topK = maxTopK
		}

		res, err := deps.Retriever.RetrieveContext(ctx, query, topK)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

type runSummary struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Status  string `json:"status"`
	Prompt  string `json:"prompt"`
	Caption string `json:"caption_path,omitempty"`
	Error   string `json:"error,omitempty"`
}

func mcpResourceRecentRuns(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Runs == nil {
			return nil, errors.New("run history is not configured")
		}
		runs, err := deps.Runs.RecentRuns(ctx, defaultRuns)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		summaries := make([]runSummary, len(runs))
		for i, r := range runs {
			summaries[i] = runSummary{
				ID:      r.ID,
				Date:    r.Date,
				Status:  r.Status,
				Prompt:  r.Prompt,
				Caption: r.CaptionPath,
				Error:   r.Error,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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
