package tools

import (
	"context"
	"errors"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func registerCreateTask(s *server.MCPServer, b *board.Board, log zerolog.Logger) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a claimable task. Tasks with depends_on only become ready once every dependency is completed."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short task title")),
			mcp.WithString("created_by", mcp.Required(), mcp.Description("Creating agent")),
			mcp.WithString("description", mcp.Description("Detailed description")),
			mcp.WithString("type", mcp.Description("Task type"),
				mcp.Enum("analysis", "implementation", "review", "testing", "documentation", "research", "fix", "general")),
			mcp.WithNumber("priority", mcp.Description("0 (most urgent) to 4; default 2")),
			mcp.WithArray("depends_on", mcp.Description("Ids of tasks that must complete first"), mcp.WithStringItems()),
			mcp.WithString("context_id", mcp.Description("Context this task belongs to")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			createdBy, err := requireString(args, "created_by")
			if err != nil {
				return nil, err
			}
			t, err := b.Tasks.Create(ctx, tasks.CreateInput{
				Title:       argString(args, "title"),
				Description: argString(args, "description"),
				Type:        blackboard.TaskType(argString(args, "type")),
				Priority:    argInt(args, "priority"),
				CreatedBy:   createdBy,
				DependsOn:   argStrings(args, "depends_on"),
				ContextID:   argString(args, "context_id"),
			})
			if err != nil {
				return nil, err
			}
			log.Debug().Str("task_id", t.ID).Msg("Task created via MCP")
			return jsonResult(t)
		},
	)
}

func registerGetReadyTasks(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("get_ready_tasks",
			mcp.WithDescription("List pending tasks whose dependencies are all completed, most urgent first."),
			mcp.WithArray("types", mcp.Description("Only these task types"), mcp.WithStringItems()),
			mcp.WithString("context_id", mcp.Description("Only tasks in this context")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			ready := b.Tasks.GetReady(ctx, tasks.ReadyFilter{
				Types:     typed[blackboard.TaskType](argStrings(args, "types")),
				ContextID: argString(args, "context_id"),
			})
			return jsonResult(map[string]any{"tasks": nonNil(ready), "count": len(ready)})
		},
	)
}

func registerClaimTask(s *server.MCPServer, b *board.Board, log zerolog.Logger) {
	s.AddTool(
		mcp.NewTool("claim_task",
			mcp.WithDescription("Claim a pending task. At most one agent wins a claim; losers get claimed=false."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Claiming agent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			t, err := b.Tasks.Claim(ctx, id, agentID)
			switch {
			case errors.Is(err, blackboard.ErrClaimConflict):
				log.Debug().Str("task_id", id).Str("agent_id", agentID).Msg("Claim lost")
				return jsonResult(map[string]any{"claimed": false, "reason": err.Error()})
			case err != nil:
				return nil, err
			}
			return jsonResult(map[string]any{"claimed": true, "task": t})
		},
	)
}

func registerUpdateTask(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Move a claimed task through its lifecycle and record produced findings or artifacts."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("agent_id", mcp.Description("Acting agent")),
			mcp.WithString("status", mcp.Description("New status"),
				mcp.Enum("working", "blocked", "review", "completed", "failed", "cancelled")),
			mcp.WithString("error", mcp.Description("Failure detail")),
			mcp.WithArray("findings", mcp.Description("Finding ids produced"), mcp.WithStringItems()),
			mcp.WithArray("artifacts", mcp.Description("Artifact references produced"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			in := tasks.UpdateInput{
				Findings:  argStrings(args, "findings"),
				Artifacts: argStrings(args, "artifacts"),
				Actor:     argString(args, "agent_id"),
			}
			if st := argString(args, "status"); st != "" {
				status := blackboard.TaskStatus(st)
				in.Status = &status
			}
			if e, ok := args["error"].(string); ok {
				in.Error = &e
			}
			t, err := b.Tasks.Update(ctx, id, in)
			if err != nil {
				return nil, err
			}
			return jsonResult(t)
		},
	)
}

func registerCompleteTask(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed, unblocking tasks that depend on it."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithArray("findings", mcp.Description("Finding ids produced"), mcp.WithStringItems()),
			mcp.WithArray("artifacts", mcp.Description("Artifact references produced"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			t, err := b.Tasks.Complete(ctx, id, &tasks.Results{
				Findings:  argStrings(args, "findings"),
				Artifacts: argStrings(args, "artifacts"),
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(t)
		},
	)
}

func registerFailTask(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("fail_task",
			mcp.WithDescription("Mark a task failed with a reason."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("reason", mcp.Required(), mcp.Description("Why it failed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			t, err := b.Tasks.Fail(ctx, id, argString(args, "reason"))
			if err != nil {
				return nil, err
			}
			return jsonResult(t)
		},
	)
}

func registerCancelTask(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("cancel_task",
			mcp.WithDescription("Withdraw a pending or claimed task."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithString("reason", mcp.Description("Why it is withdrawn")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			t, err := b.Tasks.Cancel(ctx, id, agentID, argString(args, "reason"))
			if err != nil {
				return nil, err
			}
			return jsonResult(t)
		},
	)
}
