package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/filter"
	"github.com/dyluth/chalk/internal/findings"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/spf13/cobra"
)

var (
	findingTopic      string
	findingTitle      string
	findingContent    string
	findingFile       string
	findingConfidence float64
	findingSeverity   string
	findingScope      string
	findingContext    string
	findingParent     string
	findingRefs       []string
	findingTTL        time.Duration
	findingMeta       map[string]string
	findingDraft      bool
)

// list and search filters
var (
	findingStatus        string
	findingAgent         string
	findingSession       string
	findingSeverities    []string
	findingMinConfidence float64
	findingAllInstances  bool
	findingArchived      bool
	findingExpired       bool
	findingSince         string
	findingUntil         string
	findingTitleGlob     string
	findingLimit         int
	findingOffset        int
	findingDepth         int
)

var findingCmd = &cobra.Command{
	Use:     "finding",
	Aliases: []string{"findings", "f"},
	Short:   "Post, inspect and resolve findings",
}

var findingPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a finding",
	Long: `Post a finding to the blackboard.

The body comes from --content, or from --file ("-" reads stdin).
References are written type:target, e.g. file:internal/auth/login.go:42,
task:<task-id> or finding:<finding-id>.

Examples:
  chalk finding post --topic bug --title "Token refresh races" --severity high \
    --content "Two refreshes can interleave" --ref file:internal/auth/refresh.go

  go test ./... 2>&1 | chalk finding post --topic test-result --title "Test run" --file -`,
	Args: cobra.NoArgs,
	RunE: runFindingPost,
}

func runFindingPost(cmd *cobra.Command, args []string) error {
	content := findingContent
	if findingFile != "" {
		data, err := readInput(cmd, findingFile)
		if err != nil {
			return err
		}
		content = data
	}
	refs, err := blackboard.ParseReferences(findingRefs)
	if err != nil {
		return failure(err, "finding")
	}

	in := findings.PostInput{
		AgentID:    agent(),
		Topic:      blackboard.Topic(findingTopic),
		Title:      findingTitle,
		Content:    content,
		Severity:   blackboard.Severity(findingSeverity),
		Scope:      blackboard.Scope(findingScope),
		ContextID:  findingContext,
		ParentID:   findingParent,
		References: refs,
		TTL:        findingTTL,
		Metadata:   findingMeta,
		Draft:      findingDraft,
	}
	if cmd.Flags().Changed("confidence") {
		in.Confidence = &findingConfidence
	}

	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if in.ParentID != "" {
			id, err := resolveID(ctx, b, blackboard.KindFinding, in.ParentID)
			if err != nil {
				return err
			}
			in.ParentID = id
		}
		f, err := b.Findings.Post(ctx, in)
		if err != nil {
			return failure(err, "finding")
		}
		printer.Success("Posted finding %s (%s, %s)\n", f.ID, f.Topic, f.Status)
		return nil
	})
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", printer.Error(fmt.Sprintf("cannot read %s", path), err.Error(), nil)
	}
	return string(data), nil
}

var findingGetCmd = &cobra.Command{
	Use:   "get FINDING_ID",
	Short: "Show one finding as JSON (short ids accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindFinding, args[0])
			if err != nil {
				return err
			}
			f := b.Findings.Get(ctx, id)
			if f == nil {
				return printer.Error(
					fmt.Sprintf("finding with ID '%s' not found", id),
					"The finding was resolved but could not be read.",
					[]string{"This might indicate a race condition. Try again."},
				)
			}
			return render.JSON(cmd.OutOrStdout(), f)
		})
	},
}

// findingFilter builds the manager filter and the client-side criteria from
// the list flags.
func findingFilter() (findings.Filter, filter.Criteria, error) {
	window, err := timespec.ParseRange(findingSince, findingUntil, time.Now())
	if err != nil {
		return findings.Filter{}, filter.Criteria{}, printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}
	crit := filter.Criteria{Window: window, TitleGlob: findingTitleGlob}

	f := findings.Filter{
		Topic:           blackboard.Topic(findingTopic),
		ContextID:       findingContext,
		Status:          blackboard.FindingStatus(findingStatus),
		Scope:           blackboard.Scope(findingScope),
		ParentID:        findingParent,
		Session:         findingSession,
		Severity:        typed[blackboard.Severity](findingSeverities),
		MinConfidence:   findingMinConfidence,
		IncludeArchived: findingArchived,
		IncludeExpired:  findingExpired,
	}
	if strings.ContainsAny(findingAgent, "*?[") {
		crit.AgentGlob = findingAgent
	} else {
		f.AgentID = findingAgent
	}
	if findingAllInstances {
		f.Instance = query.AllInstances
	}
	// Client-side criteria run before pagination.
	if !crit.HasFilters() {
		f.Limit, f.Offset = findingLimit, findingOffset
	}
	return f, crit, nil
}

func paginate[T any](items []T, crit filter.Criteria) []T {
	if !crit.HasFilters() {
		return items
	}
	return store.Paginate(items, store.Query{Limit: findingLimit, Offset: findingOffset})
}

var findingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List findings with filtering",
	Long: `List findings visible to this instance, newest first.

Time Filters:
  --since  - Show findings created after this time
  --until  - Show findings created before this time

Content Filters:
  --topic, --status, --scope, --severity (repeatable), --context, --session
  --agent  - Posting agent (exact id, or glob like "review*")
  --title  - Title glob

Examples:
  chalk finding list --topic bug --severity high --severity critical
  chalk finding list --since 2h --output jsonl | jq .title`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		f, crit, err := findingFilter()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			items := filter.Apply(b.Findings.Query(ctx, f), crit.Finding)
			return writeList(cmd.OutOrStdout(), out, paginate(items, crit), render.Findings)
		})
	},
}

type searchHit struct {
	Score   float64             `json:"score"`
	Snippet string              `json:"snippet,omitempty"`
	Finding *blackboard.Finding `json:"finding"`
}

var findingSearchCmd = &cobra.Command{
	Use:   "search TEXT...",
	Short: "Rank findings by relevance to free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		f, crit, err := findingFilter()
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			var hits []searchHit
			for _, h := range b.Findings.Search(ctx, text, f) {
				if crit.Finding(h.Finding) {
					hits = append(hits, searchHit{Score: h.Score, Snippet: h.Snippet, Finding: h.Finding})
				}
			}
			hits = paginate(hits, crit)

			w := cmd.OutOrStdout()
			if out == render.FormatJSONL {
				return render.JSONL(w, hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(w, "No findings found")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(w, "%-8s  %5.2f  %-12s  %s\n", render.ShortID(h.Finding.ID), h.Score, h.Finding.Topic, render.Clip(h.Finding.Title, 60))
				if h.Snippet != "" {
					fmt.Fprintf(w, "          %s\n", render.Clip(render.FirstLine(h.Snippet), 90))
				}
			}
			return nil
		})
	},
}

var findingGrepCmd = &cobra.Command{
	Use:   "grep PATTERN",
	Short: "Print finding lines matching a regular expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		f, _, err := findingFilter()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			matches := b.Findings.Grep(ctx, args[0], f)
			w := cmd.OutOrStdout()
			if out == render.FormatJSONL {
				rows := make([]map[string]any, 0, len(matches))
				for _, m := range matches {
					rows = append(rows, map[string]any{"path": m.Path, "line": m.Line, "text": m.Text})
				}
				return render.JSONL(w, rows)
			}
			for _, m := range matches {
				fmt.Fprintf(w, "%s:%d: %s\n", m.Path, m.Line, m.Text)
			}
			return nil
		})
	},
}

var findingThreadCmd = &cobra.Command{
	Use:   "thread FINDING_ID",
	Short: "Show a finding and its replies, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindFinding, args[0])
			if err != nil {
				return err
			}
			var thread []*blackboard.Finding
			if root := b.Findings.Get(ctx, id); root != nil {
				thread = append(thread, root)
			}
			thread = append(thread, b.Findings.Thread(ctx, id)...)
			return writeList(cmd.OutOrStdout(), out, thread, render.Findings)
		})
	},
}

var findingRelatedCmd = &cobra.Command{
	Use:   "related FINDING_ID",
	Short: "List records linked to a finding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindFinding, args[0])
			if err != nil {
				return err
			}
			paths := b.Findings.Related(ctx, id, findingDepth)
			w := cmd.OutOrStdout()
			if len(paths) == 0 {
				fmt.Fprintln(w, "No related records found")
				return nil
			}
			for _, p := range paths {
				fmt.Fprintln(w, p)
			}
			return nil
		})
	},
}

// findingTransition builds ack/resolve/reject/publish.
func findingTransition(use, short string, note string, apply func(ctx context.Context, b *board.Board, id, note string) (*blackboard.Finding, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
				id, err := resolveID(ctx, b, blackboard.KindFinding, args[0])
				if err != nil {
					return err
				}
				f, err := apply(ctx, b, id, text)
				if err != nil {
					return failure(err, "finding")
				}
				printer.Success("Finding %s is %s\n", render.ShortID(f.ID), f.Status)
				return nil
			})
		},
	}
	if note == "" {
		cmd.Args = cobra.ExactArgs(1)
	}
	return cmd
}

func init() {
	post := findingPostCmd.Flags()
	post.StringVar(&findingTopic, "topic", "", "Topic (bug, security, performance, architecture, ...)")
	post.StringVar(&findingTitle, "title", "", "One-line summary")
	post.StringVar(&findingContent, "content", "", "Body text")
	post.StringVar(&findingFile, "file", "", "Read the body from a file (\"-\" for stdin)")
	post.Float64Var(&findingConfidence, "confidence", 1.0, "Confidence between 0 and 1")
	post.StringVar(&findingSeverity, "severity", "", "Severity (info, low, medium, high, critical)")
	post.StringVar(&findingScope, "scope", "", "session or persistent (default from chalk.yml)")
	post.StringVar(&findingContext, "context", "", "Context to attach to")
	post.StringVar(&findingParent, "reply-to", "", "Parent finding id (short ids accepted)")
	post.StringArrayVar(&findingRefs, "ref", nil, "Reference type:target (repeatable)")
	post.DurationVar(&findingTTL, "ttl", 0, "Hide the finding after this long")
	post.StringToStringVar(&findingMeta, "meta", nil, "Metadata key=value (repeatable)")
	post.BoolVar(&findingDraft, "draft", false, "Post as draft; publish later")
	_ = findingPostCmd.MarkFlagRequired("topic")
	_ = findingPostCmd.MarkFlagRequired("title")

	for _, c := range []*cobra.Command{findingListCmd, findingSearchCmd, findingGrepCmd} {
		fl := c.Flags()
		fl.StringVar(&findingTopic, "topic", "", "Only this topic")
		fl.StringVar(&findingStatus, "status", "", "Only this status")
		fl.StringVar(&findingScope, "scope", "", "Only this scope")
		fl.StringVar(&findingContext, "context", "", "Only this context")
		fl.StringVar(&findingParent, "reply-to", "", "Only replies to this finding id")
		fl.StringVar(&findingSession, "in-session", "", "Only findings written in this session")
		fl.StringVar(&findingAgent, "by", "", "Posting agent (exact id or glob)")
		fl.StringArrayVar(&findingSeverities, "severity", nil, "Allowed severity (repeatable)")
		fl.Float64Var(&findingMinConfidence, "min-confidence", 0, "Minimum confidence")
		fl.BoolVar(&findingAllInstances, "all-instances", false, "Include every instance")
		fl.BoolVar(&findingArchived, "archived", false, "Include archived findings")
		fl.BoolVar(&findingExpired, "expired", false, "Include findings past their TTL")
		fl.StringVar(&findingSince, "since", "", "Created after (duration or RFC3339)")
		fl.StringVar(&findingUntil, "until", "", "Created before (duration or RFC3339)")
		fl.StringVar(&findingTitleGlob, "title", "", "Title glob")
		fl.IntVar(&findingLimit, "limit", 0, "Maximum results (0 for all)")
		fl.IntVar(&findingOffset, "offset", 0, "Skip this many results")
	}
	findingRelatedCmd.Flags().IntVar(&findingDepth, "depth", 1, "Link hops to follow")

	ack := findingTransition("ack FINDING_ID", "Acknowledge a published finding", "",
		func(ctx context.Context, b *board.Board, id, _ string) (*blackboard.Finding, error) {
			return b.Findings.Acknowledge(ctx, id, agent())
		})
	resolve := findingTransition("resolve FINDING_ID [RESOLUTION]", "Resolve a finding", "resolution",
		func(ctx context.Context, b *board.Board, id, note string) (*blackboard.Finding, error) {
			return b.Findings.Resolve(ctx, id, agent(), note)
		})
	reject := findingTransition("reject FINDING_ID [REASON]", "Reject a finding", "reason",
		func(ctx context.Context, b *board.Board, id, note string) (*blackboard.Finding, error) {
			return b.Findings.Reject(ctx, id, agent(), note)
		})
	publish := findingTransition("publish FINDING_ID", "Publish a draft finding", "",
		func(ctx context.Context, b *board.Board, id, _ string) (*blackboard.Finding, error) {
			return b.Findings.Publish(ctx, id)
		})

	findingCmd.AddCommand(findingPostCmd, findingGetCmd, findingListCmd, findingSearchCmd, findingGrepCmd,
		findingThreadCmd, findingRelatedCmd, ack, resolve, reject, publish)
	rootCmd.AddCommand(findingCmd)
}

// typed converts flag strings to an enum slice.
func typed[T ~string](values []string) []T {
	if len(values) == 0 {
		return nil
	}
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}
