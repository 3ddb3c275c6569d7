package commands

import (
	"context"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/events"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	subSeverities    []string
	subMinConfidence float64
	subIncludeSelf   bool
	subExpires       string
	subInactive      bool
)

var subCmd = &cobra.Command{
	Use:     "sub",
	Aliases: []string{"subscription", "subscriptions"},
	Short:   "Manage the acting agent's subscriptions",
}

var subAddCmd = &cobra.Command{
	Use:   "add PATTERN_TYPE VALUE",
	Short: "Subscribe to matching activity",
	Long: `Subscribe the acting agent to events matching a pattern. Matching events
are delivered to the agent's inbox.

Pattern types:
  topic    - finding topic ("*" for every topic)
  entity   - one finding or task id
  agent    - activity caused by this agent
  status   - events carrying this status
  context  - activity in this context

Examples:
  chalk sub add topic security --severity high --severity critical
  chalk sub add agent reviewer --expires 8h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expires, err := timespec.ParseExpiry(subExpires, time.Now())
		if err != nil {
			return printer.Error("invalid expiry", err.Error(),
				[]string{"Use a duration like '8h' or an RFC3339 time in the future"})
		}
		in := events.SubscribeInput{
			SubscriberID: agent(),
			PatternType:  blackboard.PatternType(args[0]),
			PatternValue: args[1],
			Filters: blackboard.SubscriptionFilters{
				Severity: typed[blackboard.Severity](subSeverities),
			},
			ExpiresAt: expires,
		}
		if cmd.Flags().Changed("min-confidence") {
			in.Filters.MinConfidence = &subMinConfidence
		}
		if cmd.Flags().Changed("include-self") {
			exclude := !subIncludeSelf
			in.Filters.ExcludeSelf = &exclude
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			s, err := b.Events.Subscribe(ctx, in)
			if err != nil {
				return failure(err, "subscription")
			}
			printer.Success("Subscribed %s to %s=%s (%s)\n", s.SubscriberID, s.PatternType, s.PatternValue, s.ID)
			return nil
		})
	},
}

var subListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the acting agent's subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			subs := b.Events.Subscriptions(ctx, agent(), subInactive)
			return writeList(cmd.OutOrStdout(), out, subs, render.Subscriptions)
		})
	},
}

var subCancelCmd = &cobra.Command{
	Use:   "cancel SUBSCRIPTION_ID",
	Short: "Cancel one of the acting agent's subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindSubscription, args[0])
			if err != nil {
				return err
			}
			ok, err := b.Events.Cancel(ctx, agent(), id)
			if err != nil {
				return err
			}
			if !ok {
				printer.Warning("subscription %s is not active for %s\n", render.ShortID(id), agent())
				return nil
			}
			printer.Success("Cancelled subscription %s\n", render.ShortID(id))
			return nil
		})
	},
}

func init() {
	add := subAddCmd.Flags()
	add.StringArrayVar(&subSeverities, "severity", nil, "Only findings of this severity (repeatable)")
	add.Float64Var(&subMinConfidence, "min-confidence", 0, "Stored with the subscription; not evaluated")
	add.BoolVar(&subIncludeSelf, "include-self", false, "Also deliver events the agent caused itself")
	add.StringVar(&subExpires, "expires", "", "Expire after a duration or at an RFC3339 time")

	subListCmd.Flags().BoolVar(&subInactive, "all", false, "Include expired and paused subscriptions")

	subCmd.AddCommand(subAddCmd, subListCmd, subCancelCmd)
	rootCmd.AddCommand(subCmd)
}
