package commands

import (
	"context"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/watch"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	watchTypes    []string
	watchTopic    string
	watchAgent    string
	watchContext  string
	watchInstance bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time blackboard activity",
	Long: `Stream blackboard events as they happen: findings posted and resolved,
tasks created, claimed and completed.

The live feed needs the redis backend. With sqlite, follow a mailbox
instead with "chalk inbox --follow".

Output Formats:
  table - Human-readable lines with timestamps and emojis
  jsonl - One JSON event per line

Examples:
  # Watch everything
  chalk watch

  # Only task activity in one context
  chalk watch --type task_claimed --type task_completed --context auth-rework

  # Export events as JSON
  chalk watch --output jsonl > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	out, err := format()
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if b.Live == nil {
			return printer.ErrorWithContext(
				"live feed unavailable",
				"The configured backend does not broadcast events.",
				map[string]string{"backend": b.Config.Store.Backend},
				[]string{
					"Switch to redis in chalk.yml:\n  store:\n    backend: " + config.BackendRedis,
					"Follow a mailbox instead:\n  chalk inbox --follow",
				},
			)
		}

		feed, err := b.Live.SubscribeEvents(ctx)
		if err != nil {
			return err
		}
		defer feed.Close()

		f := watch.Filter{
			Types:     typed[blackboard.EventType](watchTypes),
			Topic:     blackboard.Topic(watchTopic),
			AgentID:   watchAgent,
			ContextID: watchContext,
		}
		if watchInstance {
			f.Instance = b.Session.Instance()
		}
		return watch.Stream(ctx, feed.Messages(), cmd.OutOrStdout(), out, f, logging.Component(b.Log, "watch"))
	})
}

func init() {
	watchCmd.Flags().StringArrayVar(&watchTypes, "type", nil, "Only this event type (repeatable)")
	watchCmd.Flags().StringVar(&watchTopic, "topic", "", "Only findings with this topic")
	watchCmd.Flags().StringVar(&watchAgent, "by", "", "Only events caused by this agent")
	watchCmd.Flags().StringVar(&watchContext, "context", "", "Only events in this context")
	watchCmd.Flags().BoolVar(&watchInstance, "this-instance", false, "Only events from the current instance")
	rootCmd.AddCommand(watchCmd)
}
