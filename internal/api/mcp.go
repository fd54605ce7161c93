package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/socq/internal/conversation"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Conversation Conversation
	Log          QueryLog // optional; query_stats reports an error without it
	Version      string
}

// NewMCPServer creates an MCP server exposing the assistant as a tool and
// the conversation as resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"socq",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("socq: ask the SOC knowledge assistant about security operations and incident response procedures."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_soc",
			mcp.WithDescription("Ask the SOC knowledge assistant a question. Returns the answer and the knowledge-base contexts it used."),
			mcp.WithString("question", mcp.Description("The question, e.g. How do we contain a phishing attack?"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("query_stats",
			mcp.WithDescription("Report query count, failures and average latency from the local query log."),
			mcp.WithNumber("recent", mcp.Description("Also list this many recent queries (default 0, max 50)")),
		),
		mcpQueryStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"conversation://messages",
			"Conversation",
			mcp.WithResourceDescription("Messages of the current conversation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMessages(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"conversation://references",
			"References",
			mcp.WithResourceDescription("Contexts used for the last answer as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceReferences(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		turn, err := deps.Conversation.SubmitText(ctx, question)
		switch {
		case errors.Is(err, conversation.ErrBusy):
			return mcpError("another question is in flight; try again shortly"), nil
		case errors.Is(err, conversation.ErrEmptyInput):
			return mcpError("question is required"), nil
		case err != nil:
			return mcpError(err.Error()), nil
		}
		if turn.Err != nil {
			return mcpError(turn.Reply.Text), nil
		}

		return mcpText(formatTurn(turn)), nil
	}
}

func formatTurn(turn conversation.Turn) string {
	var sb strings.Builder
	sb.WriteString(turn.Reply.Text)
	if len(turn.References) > 0 {
		sb.WriteString("\n\nReferences:")
		for _, r := range turn.References {
			fmt.Fprintf(&sb, "\n[%s] %s", r.Label, r.Content)
		}
	}
	return sb.String()
}

func mcpQueryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Log == nil {
			return mcpError("query log is disabled"), nil
		}

		stats, err := deps.Log.Stats()
		if err != nil {
			return mcpError(fmt.Sprintf("reading stats failed: %v", err)), nil
		}

		type recentQuery struct {
			CreatedAt string `json:"created_at"`
			Outcome   string `json:"outcome"`
			ErrorKind string `json:"error_kind,omitempty"`
			LatencyMs int64  `json:"latency_ms"`
		}
		result := struct {
			Total        int           `json:"total"`
			Failures     int           `json:"failures"`
			AvgLatencyMs float64       `json:"avg_latency_ms"`
			Recent       []recentQuery `json:"recent,omitempty"`
		}{
			Total:        stats.Total,
			Failures:     stats.Failures,
			AvgLatencyMs: stats.AvgLatencyMs,
		}

		n := req.GetInt("recent", 0)
		if n > 50 {
			n = 50
		}
		if n > 0 {
			records, err := deps.Log.RecentQueries(n)
			if err != nil {
				return mcpError(fmt.Sprintf("listing queries failed: %v", err)), nil
			}
			for _, q := range records {
				result.Recent = append(result.Recent, recentQuery{
					CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
					Outcome:   q.Outcome,
					ErrorKind: q.ErrorKind,
					LatencyMs: q.LatencyMs,
				})
			}
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceMessages(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Conversation.Snapshot().Messages)
	}
}

func mcpResourceReferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Conversation.References())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
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
