package tools

import (
	"context"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/registry"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func registerRegisterAgent(s *server.MCPServer, b *board.Board, log zerolog.Logger) {
	s.AddTool(
		mcp.NewTool("register_agent",
			mcp.WithDescription("Register (or re-register) this agent on the blackboard with its capabilities."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Stable agent id")),
			mcp.WithString("name", mcp.Description("Display name (defaults to the id)")),
			mcp.WithArray("capabilities", mcp.Description("Capability labels, e.g. 'security-review'"), mcp.WithStringItems()),
			mcp.WithString("status", mcp.Description("Agent status"), mcp.Enum("active", "idle", "offline")),
			mcp.WithString("context_id", mcp.Description("Context this agent works in")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			card, err := b.Registry.Register(ctx, blackboard.AgentCard{
				ID:           id,
				Name:         argString(args, "name"),
				Capabilities: argStrings(args, "capabilities"),
				Status:       blackboard.AgentStatus(argString(args, "status")),
				ContextID:    argString(args, "context_id"),
			})
			if err != nil {
				return nil, err
			}
			log.Debug().Str("agent_id", card.ID).Msg("Agent registered via MCP")
			return jsonResult(card)
		},
	)
}

func registerListAgents(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List registered agents across instances, optionally filtered."),
			mcp.WithString("status", mcp.Description("Filter by status")),
			mcp.WithString("capability", mcp.Description("Filter by capability")),
			mcp.WithString("context_id", mcp.Description("Filter by context")),
			mcp.WithString("instance", mcp.Description("Restrict to one instance")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agents := b.Registry.List(ctx, registry.Filter{
				Instance:   argString(args, "instance"),
				Status:     blackboard.AgentStatus(argString(args, "status")),
				Capability: argString(args, "capability"),
				ContextID:  argString(args, "context_id"),
			})
			return jsonResult(map[string]any{"agents": nonNil(agents), "count": len(agents)})
		},
	)
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
