package tools

import (
	"context"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/events"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerSubscribe(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("subscribe",
			mcp.WithDescription("Subscribe to blackboard events. Matching events land in your mailbox (get_notifications). Use '*' as pattern_value to match any value."),
			mcp.WithString("subscriber_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithString("pattern_type", mcp.Required(), mcp.Description("Event field to match"),
				mcp.Enum("topic", "entity", "agent", "status", "context")),
			mcp.WithString("pattern_value", mcp.Required(), mcp.Description("Value to match, or '*'")),
			mcp.WithArray("severity", mcp.Description("Only events with these severities"), mcp.WithStringItems()),
			mcp.WithNumber("min_confidence", mcp.Description("Stored but not evaluated")),
			mcp.WithBoolean("exclude_self", mcp.Description("Ignore events you caused (default true)")),
			mcp.WithString("expires_in", mcp.Description("Lifetime, e.g. '2h'")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			subscriberID, err := requireString(args, "subscriber_id")
			if err != nil {
				return nil, err
			}
			ttl, err := argDuration(args, "expires_in")
			if err != nil {
				return nil, err
			}
			in := events.SubscribeInput{
				SubscriberID: subscriberID,
				PatternType:  blackboard.PatternType(argString(args, "pattern_type")),
				PatternValue: argString(args, "pattern_value"),
				Filters: blackboard.SubscriptionFilters{
					Severity:      typed[blackboard.Severity](argStrings(args, "severity")),
					MinConfidence: argFloat(args, "min_confidence"),
					ExcludeSelf:   argBool(args, "exclude_self"),
				},
			}
			if ttl > 0 {
				at := time.Now().Add(ttl)
				in.ExpiresAt = &at
			}
			sub, err := b.Events.Subscribe(ctx, in)
			if err != nil {
				return nil, err
			}
			return jsonResult(sub)
		},
	)
}

func registerUnsubscribe(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("unsubscribe",
			mcp.WithDescription("Cancel one of your subscriptions."),
			mcp.WithString("subscriber_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithString("subscription_id", mcp.Required(), mcp.Description("Subscription id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			subscriberID, err := requireString(args, "subscriber_id")
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "subscription_id")
			if err != nil {
				return nil, err
			}
			ok, err := b.Events.Cancel(ctx, subscriberID, id)
			if err != nil {
				return nil, err
			}
			return jsonResult(map[string]any{"cancelled": ok})
		},
	)
}

func registerGetNotifications(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("get_notifications",
			mcp.WithDescription("Read your unread notifications, newest first."),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithNumber("limit", mcp.Description("Maximum results")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			recipient, err := requireString(args, "recipient_id")
			if err != nil {
				return nil, err
			}
			limit := 0
			if l := argInt(args, "limit"); l != nil {
				limit = *l
			}
			unread := b.Events.GetUnread(ctx, recipient, limit)
			return jsonResult(map[string]any{"notifications": nonNil(unread), "count": len(unread)})
		},
	)
}

func registerMarkNotificationRead(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("mark_notification_read",
			mcp.WithDescription("Mark one notification read, or all of them when notification_id is omitted."),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithString("notification_id", mcp.Description("Notification id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			recipient, err := requireString(args, "recipient_id")
			if err != nil {
				return nil, err
			}
			id := argString(args, "notification_id")
			if id == "" {
				n, err := b.Events.MarkAllRead(ctx, recipient)
				if err != nil {
					return nil, err
				}
				return jsonResult(map[string]any{"marked": n})
			}
			ok, err := b.Events.MarkRead(ctx, recipient, id)
			if err != nil {
				return nil, err
			}
			marked := 0
			if ok {
				marked = 1
			}
			return jsonResult(map[string]any{"marked": marked})
		},
	)
}

func registerNotificationCount(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("notification_count",
			mcp.WithDescription("Count unread and total notifications."),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Your agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recipient, err := requireString(req.GetArguments(), "recipient_id")
			if err != nil {
				return nil, err
			}
			c := b.Events.Count(ctx, recipient)
			return jsonResult(map[string]any{"unread": c.Unread, "total": c.Total})
		},
	)
}

func registerMarkAllRead(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("mark_all_read",
			mcp.WithDescription("Mark every unread notification in your mailbox read."),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Your agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recipient, err := requireString(req.GetArguments(), "recipient_id")
			if err != nil {
				return nil, err
			}
			n, err := b.Events.MarkAllRead(ctx, recipient)
			if err != nil {
				return nil, err
			}
			return jsonResult(map[string]any{"marked": n})
		},
	)
}

func registerDismissNotification(s *server.MCPServer, b *board.Board) {
	s.AddTool(
		mcp.NewTool("dismiss_notification",
			mcp.WithDescription("Hide one notification from your mailbox. It no longer counts as unread."),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Your agent id")),
			mcp.WithString("notification_id", mcp.Required(), mcp.Description("Notification id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			recipient, err := requireString(args, "recipient_id")
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "notification_id")
			if err != nil {
				return nil, err
			}
			ok, err := b.Events.Dismiss(ctx, recipient, id)
			if err != nil {
				return nil, err
			}
			return jsonResult(map[string]any{"dismissed": ok})
		},
	)
}
