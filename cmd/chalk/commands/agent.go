package commands

import (
	"context"
	"io"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/registry"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	agentName         string
	agentCapabilities []string
	agentStatus       string
	agentContext      string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register and inspect agents",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register AGENT_ID",
	Short: "Register or refresh an agent card",
	Long: `Register an agent card. Re-registering an existing id refreshes the card
and keeps its original registration time.

Examples:
  chalk agent register reviewer --capability code-review --capability go
  chalk agent register scout --context auth-rework`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			card, err := b.Registry.Register(ctx, blackboard.AgentCard{
				ID:           args[0],
				Name:         agentName,
				Capabilities: agentCapabilities,
				Status:       blackboard.AgentStatus(agentStatus),
				ContextID:    agentContext,
			})
			if err != nil {
				return failure(err, "agent card")
			}
			printer.Success("Registered agent %s (%s)\n", card.ID, card.Status)
			return nil
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			cards := b.Registry.List(ctx, registry.Filter{
				Status:     blackboard.AgentStatus(agentStatus),
				Capability: firstOrEmpty(agentCapabilities),
				ContextID:  agentContext,
			})
			return writeList(cmd.OutOrStdout(), f, cards, render.Agents)
		})
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status AGENT_ID STATUS",
	Short: "Set an agent's status (active, idle, offline)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			if err := b.Registry.UpdateStatus(ctx, args[0], blackboard.AgentStatus(args[1])); err != nil {
				return failure(err, "agent")
			}
			printer.Success("Agent %s is now %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentName, "name", "", "Display name (defaults to the id)")
	agentRegisterCmd.Flags().StringArrayVar(&agentCapabilities, "capability", nil, "Capability tag (repeatable)")
	agentRegisterCmd.Flags().StringVar(&agentStatus, "status", "", "Initial status (default active)")
	agentRegisterCmd.Flags().StringVar(&agentContext, "context", "", "Context to join")

	agentListCmd.Flags().StringVar(&agentStatus, "status", "", "Only agents with this status")
	agentListCmd.Flags().StringArrayVar(&agentCapabilities, "capability", nil, "Only agents with this capability")
	agentListCmd.Flags().StringVar(&agentContext, "context", "", "Only agents in this context")

	agentCmd.AddCommand(agentRegisterCmd, agentListCmd, agentStatusCmd)
	rootCmd.AddCommand(agentCmd)
}

// writeList renders items as a table or JSONL.
func writeList[T any](w io.Writer, f render.Format, items []*T, table func(io.Writer, []*T, time.Time)) error {
	if f == render.FormatJSONL {
		return render.JSONL(w, items)
	}
	table(w, items, time.Now())
	return nil
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
