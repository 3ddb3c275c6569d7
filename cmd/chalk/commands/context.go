package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/contexts"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	contextID          string
	contextDescription string
	contextStatus      string
	contextAll         bool
	contextSave        bool
)

var contextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"contexts", "ctx"},
	Short:   "Group work into contexts and compact them",
}

var contextCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an active context",
	Long: `Create a context. The id defaults to a generated one; pass --id for a
readable id such as "auth-rework".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			c, err := b.Contexts.Create(ctx, contexts.CreateInput{ID: contextID, Name: args[0], Description: contextDescription})
			if err != nil {
				return failure(err, "context")
			}
			printer.Success("Created context %s (%s)\n", c.ID, c.Name)
			return nil
		})
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contexts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		f := contexts.Filter{Status: blackboard.ContextStatus(contextStatus)}
		if contextAll {
			f.Instance = query.AllInstances
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			return writeList(cmd.OutOrStdout(), out, b.Contexts.List(ctx, f), render.Contexts)
		})
	},
}

var contextGetCmd = &cobra.Command{
	Use:   "get CONTEXT_ID",
	Short: "Show one context as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindContext, args[0])
			if err != nil {
				return err
			}
			c := b.Contexts.Get(ctx, id)
			if c == nil {
				return printer.Error(fmt.Sprintf("context with ID '%s' not found", id), "The context was resolved but could not be read.", nil)
			}
			return render.JSON(cmd.OutOrStdout(), c)
		})
	},
}

var contextStatusCmd = &cobra.Command{
	Use:   "status CONTEXT_ID STATUS",
	Short: "Set a context's status (active, completed, archived)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindContext, args[0])
			if err != nil {
				return err
			}
			c, err := b.Contexts.SetStatus(ctx, id, blackboard.ContextStatus(args[1]))
			if err != nil {
				return failure(err, "context")
			}
			printer.Success("Context %s is %s\n", c.ID, c.Status)
			return nil
		})
	},
}

var contextSummarizeCmd = &cobra.Command{
	Use:   "summarize [CONTEXT_ID]",
	Short: "Print a bounded markdown summary",
	Long: `Print a bounded markdown summary of a context, or of the whole board for
this instance when no context is given.

With --save the compaction manifest is stored too, so the full state can be
recovered later with "chalk context hydrate".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := optionalContext(ctx, b, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !contextSave {
				fmt.Fprintln(w, b.Aggregator.Summarize(ctx, id))
				return nil
			}
			res, err := b.Aggregator.SummarizeWithManifest(ctx, id)
			if res != nil {
				fmt.Fprintln(w, res.Markdown)
			}
			if err != nil {
				return printer.Error("manifest not stored", err.Error(), nil)
			}
			printer.Success("Stored manifest %s (%d findings, %d tasks)\n",
				blackboard.ManifestPath(res.Manifest.ContextID), res.Manifest.Stats.Findings, res.Manifest.Stats.Tasks)
			return nil
		})
	},
}

type hydratedOutput struct {
	Manifest *blackboard.CompactionManifest `json:"manifest"`
	Findings []*blackboard.Finding          `json:"findings"`
	Tasks    []*blackboard.Task             `json:"tasks"`
}

var contextHydrateCmd = &cobra.Command{
	Use:   "hydrate [CONTEXT_ID]",
	Short: "Recover everything a stored manifest lists",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := optionalContext(ctx, b, args)
			if err != nil {
				return err
			}
			m := b.Aggregator.GetManifest(ctx, id)
			if m == nil {
				return printer.Error(
					fmt.Sprintf("no manifest for %s", b.Aggregator.ManifestKey(id)),
					"Nothing has been compacted here yet.",
					[]string{"Store one first:\n  chalk context summarize --save " + id},
				)
			}
			h := b.Aggregator.Hydrate(ctx, m)

			w := cmd.OutOrStdout()
			if out == render.FormatJSONL {
				return render.JSONL(w, []hydratedOutput{{Manifest: m, Findings: h.Findings, Tasks: h.Tasks}})
			}
			fmt.Fprintf(w, "Manifest %s from %s\n\n", m.ContextID, render.Age(m.Timestamp, time.Now()))
			render.Findings(w, h.Findings, time.Now())
			fmt.Fprintln(w)
			render.Tasks(w, h.Tasks, time.Now())
			return nil
		})
	},
}

// optionalContext resolves the optional context argument; none means the
// whole board.
func optionalContext(ctx context.Context, b *board.Board, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	return resolveID(ctx, b, blackboard.KindContext, args[0])
}

func init() {
	contextCreateCmd.Flags().StringVar(&contextID, "id", "", "Context id (generated when empty)")
	contextCreateCmd.Flags().StringVar(&contextDescription, "description", "", "What the context is for")
	contextListCmd.Flags().StringVar(&contextStatus, "status", "", "Only this status")
	contextListCmd.Flags().BoolVar(&contextAll, "all-instances", false, "Include every instance")
	contextSummarizeCmd.Flags().BoolVar(&contextSave, "save", false, "Store the compaction manifest")

	contextCmd.AddCommand(contextCreateCmd, contextListCmd, contextGetCmd, contextStatusCmd, contextSummarizeCmd, contextHydrateCmd)
	rootCmd.AddCommand(contextCmd)
}
