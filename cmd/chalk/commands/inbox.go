package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/internal/watch"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	inboxAll      bool
	inboxLimit    int
	inboxFollow   bool
	inboxInterval time.Duration
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read the acting agent's notifications",
	Long: `Show the acting agent's unread notifications, newest first.

With --follow, keeps polling and prints each new notification as it
arrives, oldest first, until interrupted.

Examples:
  chalk inbox --agent reviewer
  chalk inbox --follow --output jsonl`,
	Args: cobra.NoArgs,
	RunE: runInbox,
}

func runInbox(cmd *cobra.Command, args []string) error {
	out, err := format()
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		w := cmd.OutOrStdout()
		if inboxFollow {
			enc := json.NewEncoder(w)
			return watch.Follow(ctx, b.Events, agent(), inboxInterval, func(n *blackboard.Notification) error {
				if out == render.FormatJSONL {
					return enc.Encode(n)
				}
				_, err := fmt.Fprintln(w, notificationLine(n))
				return err
			})
		}

		status := blackboard.NotificationStatusUnread
		if inboxAll {
			status = ""
		}
		items := b.Events.Mailbox(ctx, agent(), status, inboxLimit)
		return writeList(w, out, items, render.Notifications)
	})
}

func notificationLine(n *blackboard.Notification) string {
	line := fmt.Sprintf("[%s] %s %s from %s", n.CreatedAt.Local().Format("15:04:05"), n.EventType, render.ShortID(n.SourceID), n.SourceAgentID)
	if n.Summary.Title != "" {
		line += ": " + n.Summary.Title
	}
	return line
}

var inboxReadCmd = &cobra.Command{
	Use:   "read NOTIFICATION_ID",
	Short: "Mark one notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNotification(cmd, args[0], "read", func(ctx context.Context, b *board.Board, id string) (bool, error) {
			return b.Events.MarkRead(ctx, agent(), id)
		})
	},
}

var inboxDismissCmd = &cobra.Command{
	Use:   "dismiss NOTIFICATION_ID",
	Short: "Hide one notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNotification(cmd, args[0], "dismissed", func(ctx context.Context, b *board.Board, id string) (bool, error) {
			return b.Events.Dismiss(ctx, agent(), id)
		})
	},
}

func setNotification(cmd *cobra.Command, arg, verb string, apply func(ctx context.Context, b *board.Board, id string) (bool, error)) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		id, err := resolveID(ctx, b, blackboard.KindNotification, arg)
		if err != nil {
			return err
		}
		ok, err := apply(ctx, b, id)
		if err != nil {
			return err
		}
		if !ok {
			printer.Warning("notification %s was not changed\n", render.ShortID(id))
			return nil
		}
		printer.Success("Notification %s %s\n", render.ShortID(id), verb)
		return nil
	})
}

var inboxReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every unread notification read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			n, err := b.Events.MarkAllRead(ctx, agent())
			if err != nil {
				printer.Warning("some notifications could not be updated: %v\n", err)
			}
			printer.Success("Marked %d notifications read\n", n)
			return nil
		})
	},
}

var inboxCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show unread and total notification counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			c := b.Events.Count(ctx, agent())
			if out == render.FormatJSONL {
				return render.JSONL(cmd.OutOrStdout(), []any{c})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d unread, %d total\n", c.Unread, c.Total)
			return nil
		})
	},
}

func init() {
	inboxCmd.Flags().BoolVar(&inboxAll, "all", false, "Include read and dismissed notifications")
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 0, "Maximum notifications (0 for all)")
	inboxCmd.Flags().BoolVarP(&inboxFollow, "follow", "f", false, "Keep polling for new notifications")
	inboxCmd.Flags().DurationVar(&inboxInterval, "interval", 2*time.Second, "Polling interval for --follow")

	inboxCmd.AddCommand(inboxReadCmd, inboxDismissCmd, inboxReadAllCmd, inboxCountCmd)
	rootCmd.AddCommand(inboxCmd)
}
