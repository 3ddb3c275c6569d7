package tools

import (
	"context"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/contexts"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerCreateContext(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("create_context",
			mcp.WithDescription("Create a context that groups related findings, tasks and agents."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Context name")),
			mcp.WithString("context_id", mcp.Description("Explicit id (generated when omitted)")),
			mcp.WithString("description", mcp.Description("What the context is about")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			c, err := b.Contexts.Create(ctx, contexts.CreateInput{
				ID:          argString(args, "context_id"),
				Name:        argString(args, "name"),
				Description: argString(args, "description"),
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(c)
		},
	)
}

func registerListContexts(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("list_contexts",
			mcp.WithDescription("List contexts, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("active", "completed", "archived")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out := b.Contexts.List(ctx, contexts.Filter{
				Status: blackboard.ContextStatus(argString(req.GetArguments(), "status")),
			})
			return jsonResult(map[string]any{"contexts": nonNil(out), "count": len(out)})
		},
	)
}

func registerSummarizeContext(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("summarize_context",
			mcp.WithDescription("Render a bounded markdown summary of a context (or the whole board) and store its compaction manifest."),
			mcp.WithString("context_id", mcp.Description("Context id; omit for the whole board")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res, err := b.Aggregator.SummarizeWithManifest(ctx, argString(req.GetArguments(), "context_id"))
			if res == nil {
				return nil, err
			}
			out := map[string]any{"markdown": res.Markdown, "manifest": res.Manifest}
			if err != nil {
				out["manifest_error"] = err.Error()
			}
			return jsonResult(out)
		},
	)
}

func registerHydrateContext(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("hydrate_context",
			mcp.WithDescription("Reload every finding and task recorded in a stored compaction manifest."),
			mcp.WithString("context_id", mcp.Description("Context id; omit for the whole board")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			m := b.Aggregator.GetManifest(ctx, argString(req.GetArguments(), "context_id"))
			if m == nil {
				return jsonResult(map[string]any{"found": false})
			}
			h := b.Aggregator.Hydrate(ctx, m)
			return jsonResult(map[string]any{
				"found":    true,
				"manifest": m,
				"findings": nonNil(h.Findings),
				"tasks":    nonNil(h.Tasks),
			})
		},
	)
}
