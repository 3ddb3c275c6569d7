package tools

import (
	"context"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/findings"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func registerPostFinding(s *server.MCPServer, b *board.Board, log zerolog.Logger) {
	s.AddTool(
		mcp.NewTool("post_finding",
			mcp.WithDescription("Post a finding (an observation other agents should know about) to the blackboard."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Posting agent")),
			mcp.WithString("topic", mcp.Required(), mcp.Description("Finding topic"),
				mcp.Enum("security", "performance", "bug", "architecture", "testing", "documentation", "dependency", "style", "general")),
			mcp.WithString("title", mcp.Required(), mcp.Description("One-line title")),
			mcp.WithString("content", mcp.Description("Full description")),
			mcp.WithNumber("confidence", mcp.Description("Confidence 0..1 (default 1)")),
			mcp.WithString("severity", mcp.Description("Severity"), mcp.Enum("info", "low", "medium", "high", "critical")),
			mcp.WithString("scope", mcp.Description("session (archived at session end) or persistent"), mcp.Enum("session", "persistent")),
			mcp.WithString("context_id", mcp.Description("Context this finding belongs to")),
			mcp.WithString("parent_id", mcp.Description("Finding this one replies to")),
			mcp.WithArray("references", mcp.Description("References as 'type:target', e.g. 'file:auth.go' or 'task:<id>'"), mcp.WithStringItems()),
			mcp.WithString("ttl", mcp.Description("Time to live, e.g. '24h'")),
			mcp.WithBoolean("draft", mcp.Description("Post as draft (not announced until published)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			refs, err := blackboard.ParseReferences(argStrings(args, "references"))
			if err != nil {
				return nil, err
			}
			ttl, err := argDuration(args, "ttl")
			if err != nil {
				return nil, err
			}
			in := findings.PostInput{
				AgentID:    agentID,
				Topic:      blackboard.Topic(argString(args, "topic")),
				Title:      argString(args, "title"),
				Content:    argString(args, "content"),
				Confidence: argFloat(args, "confidence"),
				Severity:   blackboard.Severity(argString(args, "severity")),
				Scope:      blackboard.Scope(argString(args, "scope")),
				ContextID:  argString(args, "context_id"),
				ParentID:   argString(args, "parent_id"),
				References: refs,
				TTL:        ttl,
			}
			if d := argBool(args, "draft"); d != nil {
				in.Draft = *d
			}
			f, err := b.Findings.Post(ctx, in)
			if err != nil {
				return nil, err
			}
			log.Debug().Str("finding_id", f.ID).Msg("Finding posted via MCP")
			return jsonResult(f)
		},
	)
}

func registerGetFinding(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("get_finding",
			mcp.WithDescription("Read one finding by id."),
			mcp.WithString("finding_id", mcp.Required(), mcp.Description("Finding id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "finding_id")
			if err != nil {
				return nil, err
			}
			f := b.Findings.Get(ctx, id)
			if f == nil {
				return jsonResult(map[string]any{"found": false})
			}
			return jsonResult(map[string]any{"found": true, "finding": f})
		},
	)
}

func findingFilterParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("topic", mcp.Description("Filter by topic")),
		mcp.WithString("agent_id", mcp.Description("Filter by posting agent")),
		mcp.WithString("context_id", mcp.Description("Filter by context")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithArray("severity", mcp.Description("Allowed severities"), mcp.WithStringItems()),
		mcp.WithNumber("min_confidence", mcp.Description("Minimum confidence")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
	}
}

func findingFilter(args map[string]any) findings.Filter {
	f := findings.Filter{
		Topic:     blackboard.Topic(argString(args, "topic")),
		AgentID:   argString(args, "agent_id"),
		ContextID: argString(args, "context_id"),
		Status:    blackboard.FindingStatus(argString(args, "status")),
		Severity:  typed[blackboard.Severity](argStrings(args, "severity")),
	}
	if c := argFloat(args, "min_confidence"); c != nil {
		f.MinConfidence = *c
	}
	if l := argInt(args, "limit"); l != nil {
		f.Limit = *l
	}
	return f
}

func registerQueryFindings(s *server.MCPServer, b *board.Board) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("List findings visible to this session, newest first."),
	}, findingFilterParams()...)
	s.AddTool(
		mcp.NewTool("query_findings", opts...),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out := b.Findings.Query(ctx, findingFilter(req.GetArguments()))
			return jsonResult(map[string]any{"findings": nonNil(out), "count": len(out)})
		},
	)
}

type searchHit struct {
	Score   float64             `json:"score"`
	Snippet string              `json:"snippet"`
	Finding *blackboard.Finding `json:"finding"`
}

func registerSearchFindings(s *server.MCPServer, b *board.Board) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Full-text search over finding titles and content, best match first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
	}, findingFilterParams()...)
	s.AddTool(
		mcp.NewTool("search_findings", opts...),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			text, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			hits := b.Findings.Search(ctx, text, findingFilter(args))
			out := make([]searchHit, len(hits))
			for i, h := range hits {
				out[i] = searchHit{Score: h.Score, Snippet: h.Snippet, Finding: h.Finding}
			}
			return jsonResult(map[string]any{"hits": out, "count": len(out)})
		},
	)
}

// transitionTool registers a finding lifecycle tool. note names the
// free-text argument the transition records, if any.
func transitionTool(s *server.MCPServer, name, desc, note string, apply func(ctx context.Context, id, agentID, note string) (*blackboard.Finding, error)) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(desc),
		mcp.WithString("finding_id", mcp.Required(), mcp.Description("Finding id")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Acting agent")),
	}
	if note != "" {
		opts = append(opts, mcp.WithString(note, mcp.Description("Explanation recorded with the change")))
	}
	s.AddTool(
		mcp.NewTool(name, opts...),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "finding_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			f, err := apply(ctx, id, agentID, argString(args, note))
			if err != nil {
				return nil, err
			}
			return jsonResult(f)
		},
	)
}

func registerAcknowledgeFinding(s *server.MCPServer, b *board.Board) {
	transitionTool(s, "acknowledge_finding", "Acknowledge a published finding.", "",
		func(ctx context.Context, id, agentID, _ string) (*blackboard.Finding, error) {
			return b.Findings.Acknowledge(ctx, id, agentID)
		})
}

func registerResolveFinding(s *server.MCPServer, b *board.Board) {
	transitionTool(s, "resolve_finding", "Mark a finding resolved.", "resolution",
		func(ctx context.Context, id, agentID, note string) (*blackboard.Finding, error) {
			return b.Findings.Resolve(ctx, id, agentID, note)
		})
}

func registerRejectFinding(s *server.MCPServer, b *board.Board) {
	transitionTool(s, "reject_finding", "Reject a finding as invalid.", "reason",
		func(ctx context.Context, id, agentID, note string) (*blackboard.Finding, error) {
			return b.Findings.Reject(ctx, id, agentID, note)
		})
}
