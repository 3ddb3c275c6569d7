package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var sessionListAll bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, end and inspect sessions",
	Long: `A session groups one working period's writes. While a session is active,
writes carry its name and are promoted into the durable cross-session
corpus only when the session ends. Session-scoped findings are archived at
that point instead.

Commands run without --session resume the instance's latest active session.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start [NAME]",
	Short: "Start (or rejoin) a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			rec, err := b.Session.Start(ctx, name)
			if err != nil {
				return failure(err, "session name")
			}
			printer.Success("Session %s is active on %s\n", rec.ID, rec.Instance)
			printer.Hint("End it with: chalk session end\n")
			return nil
		})
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			rec, err := b.Session.End(ctx)
			if rec == nil {
				if errors.Is(err, blackboard.ErrInvalidInput) {
					return printer.Error("no active session", "There is no session to end on this instance.",
						[]string{"Start one with:\n  chalk session start"})
				}
				return err
			}
			if err != nil {
				printer.Warning("some session findings were not archived: %v\n", err)
			}
			printer.Success("Ended session %s: %d findings archived, %d records promoted\n", rec.ID, rec.Archived, rec.Promoted)
			return nil
		})
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			w := cmd.OutOrStdout()
			name := b.Session.Session()
			if name == "" {
				fmt.Fprintf(w, "No active session on %s\n", b.Session.Instance())
				return nil
			}
			rec := b.Session.Record(ctx, name)
			if rec == nil {
				fmt.Fprintf(w, "Session %s on %s (unrecorded)\n", name, b.Session.Instance())
				return nil
			}
			fmt.Fprintf(w, "Session %s on %s, started %s\n", rec.ID, rec.Instance, render.Age(rec.StartedAt, time.Now()))
			return nil
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions of this instance, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			status := blackboard.SessionStatusActive
			if sessionListAll {
				status = ""
			}
			recs := b.Session.Sessions(ctx, status)
			w := cmd.OutOrStdout()
			if out == render.FormatJSONL {
				return render.JSONL(w, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(w, "No sessions found")
				return nil
			}
			now := time.Now()
			fmt.Fprintf(w, "%-24s  %-7s  %-10s  %8s  %8s\n", "SESSION", "STATUS", "STARTED", "ARCHIVED", "PROMOTED")
			for _, r := range recs {
				fmt.Fprintf(w, "%-24s  %-7s  %-10s  %8d  %8d\n", render.Clip(r.ID, 24), r.Status, render.Age(r.StartedAt, now), r.Archived, r.Promoted)
			}
			return nil
		})
	},
}

func init() {
	sessionListCmd.Flags().BoolVar(&sessionListAll, "all", false, "Include ended sessions")
	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd, sessionStatusCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
