// Package tools exposes the blackboard to agents as MCP tools.
//
// Every tool answers with a JSON document in a single text content block.
// Invalid arguments and failed writes are returned as handler errors, which
// the server reports as JSON-RPC errors; empty reads are not errors.
package tools

import (
	"github.com/dyluth/chalk/internal/board"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// ServerName is the MCP server name advertised to clients.
const ServerName = "chalk"

// Instructions is the server-level guidance sent on initialize.
const Instructions = `chalk is a shared blackboard. Register once with register_agent, ` +
	`post what you learn with post_finding, pick work with get_ready_tasks and claim_task, ` +
	`and poll get_notifications for activity you subscribed to.`

// NewServer returns an MCP server with every tool registered.
func NewServer(b *board.Board, version string, log zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithInstructions(Instructions),
		server.WithToolCapabilities(false),
	)
	Register(s, b, log)
	return s
}

// Register adds the blackboard tools to s.
func Register(s *server.MCPServer, b *board.Board, log zerolog.Logger) {
	// Agents (2)
	registerRegisterAgent(s, b, log)
	registerListAgents(s, b)

	// Findings (7)
	registerPostFinding(s, b, log)
	registerGetFinding(s, b)
	registerQueryFindings(s, b)
	registerSearchFindings(s, b)
	registerAcknowledgeFinding(s, b)
	registerResolveFinding(s, b)
	registerRejectFinding(s, b)

	// Tasks (7)
	registerCreateTask(s, b, log)
	registerGetReadyTasks(s, b)
	registerClaimTask(s, b, log)
	registerUpdateTask(s, b)
	registerCompleteTask(s, b)
	registerFailTask(s, b)
	registerCancelTask(s, b)

	// Subscriptions and mailbox (7)
	registerSubscribe(s, b)
	registerUnsubscribe(s, b)
	registerGetNotifications(s, b)
	registerMarkNotificationRead(s, b)
	registerMarkAllRead(s, b)
	registerDismissNotification(s, b)
	registerNotificationCount(s, b)

	// Contexts and compaction (4)
	registerCreateContext(s, b)
	registerListContexts(s, b)
	registerSummarizeContext(s, b)
	registerHydrateContext(s, b)
}
