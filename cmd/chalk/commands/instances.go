package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/internal/registry"
	"github.com/dyluth/chalk/internal/render"
	"github.com/spf13/cobra"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List instances sharing this board",
	Long: `List every instance that has registered agents on the board, with a
status rolled up from its agents:

  Running  - every agent is active
  Degraded - some agents are idle or offline
  Stopped  - no agent is active

The current instance is marked with *.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			infos := instance.Summarize(b.Registry.List(ctx, registry.Filter{}))
			w := cmd.OutOrStdout()
			if out == render.FormatJSONL {
				return render.JSONL(w, infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(w, "No instances found")
				return nil
			}
			current := b.Session.Instance()
			fmt.Fprintf(w, "  %-32s  %-8s  %6s\n", "NAME", "STATUS", "AGENTS")
			for _, info := range infos {
				mark := " "
				if info.Name == current {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %-32s  %-8s  %6d\n", mark, render.Clip(info.Name, 32), info.Status, info.Agents)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd)
}
