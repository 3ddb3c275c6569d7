package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/filter"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/spf13/cobra"
)

var (
	taskDescription string
	taskType        string
	taskTypes       []string
	taskPriority    int
	taskDependsOn   []string
	taskContext     string
	taskStatus      string
	taskAssigned    string
	taskCreatedBy   string
	taskError       string
	taskFindings    []string
	taskArtifacts   []string
	taskAll         bool
	taskSince       string
	taskUntil       string
	taskTitleGlob   string
	taskLimit       int
	taskOffset      int
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks", "t"},
	Short:   "Create, claim and complete tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Create a pending task",
	Long: `Create a pending task. A task with --depends-on only becomes ready once
every dependency is completed.

Examples:
  chalk task create "Review login flow" --type review --priority 1
  chalk task create "Ship fix" --depends-on 3f2a9c --depends-on 8b1d44`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := tasks.CreateInput{
			Title:       args[0],
			Description: taskDescription,
			Type:        blackboard.TaskType(taskType),
			CreatedBy:   agent(),
			ContextID:   taskContext,
		}
		if cmd.Flags().Changed("priority") {
			in.Priority = &taskPriority
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			for _, dep := range taskDependsOn {
				id, err := resolveID(ctx, b, blackboard.KindTask, dep)
				if err != nil {
					return err
				}
				in.DependsOn = append(in.DependsOn, id)
			}
			t, err := b.Tasks.Create(ctx, in)
			if err != nil {
				return failure(err, "task")
			}
			printer.Success("Created task %s (%s, priority %d)\n", t.ID, t.Type, t.Priority)
			return nil
		})
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get TASK_ID",
	Short: "Show one task as JSON (short ids accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindTask, args[0])
			if err != nil {
				return err
			}
			t := b.Tasks.Get(ctx, id)
			if t == nil {
				return printer.Error(fmt.Sprintf("task with ID '%s' not found", id), "The task was resolved but could not be read.", nil)
			}
			return render.JSON(cmd.OutOrStdout(), t)
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, most urgent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		window, err := timespec.ParseRange(taskSince, taskUntil, time.Now())
		if err != nil {
			return printer.Error("invalid time filter", err.Error(),
				[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"})
		}
		crit := filter.Criteria{Window: window, TitleGlob: taskTitleGlob}

		f := tasks.Filter{
			Status:     blackboard.TaskStatus(taskStatus),
			Type:       blackboard.TaskType(taskType),
			AssignedTo: taskAssigned,
			ContextID:  taskContext,
		}
		if strings.ContainsAny(taskCreatedBy, "*?[") {
			crit.AgentGlob = taskCreatedBy
		} else {
			f.CreatedBy = taskCreatedBy
		}
		if taskAll {
			f.Instance = query.AllInstances
		}
		if !crit.HasFilters() {
			f.Limit, f.Offset = taskLimit, taskOffset
		}

		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			items := filter.Apply(b.Tasks.List(ctx, f), crit.Task)
			if crit.HasFilters() {
				items = store.Paginate(items, store.Query{Limit: taskLimit, Offset: taskOffset})
			}
			return writeList(cmd.OutOrStdout(), out, items, render.Tasks)
		})
	},
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List pending tasks whose dependencies are complete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			ready := b.Tasks.GetReady(ctx, tasks.ReadyFilter{
				Types:     typed[blackboard.TaskType](taskTypes),
				ContextID: taskContext,
			})
			return writeList(cmd.OutOrStdout(), out, ready, render.Tasks)
		})
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim TASK_ID",
	Short: "Claim a pending task for the acting agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			id, err := resolveID(ctx, b, blackboard.KindTask, args[0])
			if err != nil {
				return err
			}
			t, err := b.Tasks.Claim(ctx, id, agent())
			if errors.Is(err, blackboard.ErrClaimConflict) {
				holder := ""
				if cur := b.Tasks.Get(ctx, id); cur != nil && cur.AssignedTo != "" {
					holder = fmt.Sprintf("Held by %s (%s).", cur.AssignedTo, cur.Status)
				}
				return printer.Error(fmt.Sprintf("task %s cannot be claimed", render.ShortID(id)), holder,
					[]string{"List claimable work:\n  chalk task ready"})
			}
			if err != nil {
				return failure(err, "task")
			}
			printer.Success("Claimed task %s as %s\n", render.ShortID(t.ID), t.AssignedTo)
			return nil
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update TASK_ID",
	Short: "Change a task's status or record results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := tasks.UpdateInput{Actor: agent()}
		if taskStatus != "" {
			s := blackboard.TaskStatus(taskStatus)
			in.Status = &s
		}
		if cmd.Flags().Changed("error") {
			in.Error = &taskError
		}
		return mutateTask(cmd, args[0], func(ctx context.Context, b *board.Board, id string) (*blackboard.Task, error) {
			in.Findings, in.Artifacts = taskFindings, taskArtifacts
			return b.Tasks.Update(ctx, id, in)
		})
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete TASK_ID",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateTask(cmd, args[0], func(ctx context.Context, b *board.Board, id string) (*blackboard.Task, error) {
			return b.Tasks.Complete(ctx, id, &tasks.Results{Findings: taskFindings, Artifacts: taskArtifacts})
		})
	},
}

var taskFailCmd = &cobra.Command{
	Use:   "fail TASK_ID REASON",
	Short: "Mark a task failed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateTask(cmd, args[0], func(ctx context.Context, b *board.Board, id string) (*blackboard.Task, error) {
			return b.Tasks.Fail(ctx, id, args[1])
		})
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel TASK_ID [REASON]",
	Short: "Withdraw a pending or claimed task",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := ""
		if len(args) == 2 {
			reason = args[1]
		}
		return mutateTask(cmd, args[0], func(ctx context.Context, b *board.Board, id string) (*blackboard.Task, error) {
			return b.Tasks.Cancel(ctx, id, agent(), reason)
		})
	},
}

// mutateTask resolves arg, applies change and reports the new status.
func mutateTask(cmd *cobra.Command, arg string, change func(ctx context.Context, b *board.Board, id string) (*blackboard.Task, error)) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		id, err := resolveID(ctx, b, blackboard.KindTask, arg)
		if err != nil {
			return err
		}
		if len(taskFindings) > 0 {
			resolved := make([]string, 0, len(taskFindings))
			for _, f := range taskFindings {
				fid, err := resolveID(ctx, b, blackboard.KindFinding, f)
				if err != nil {
					return err
				}
				resolved = append(resolved, fid)
			}
			taskFindings = resolved
		}
		t, err := change(ctx, b, id)
		if err != nil {
			return failure(err, "task")
		}
		printer.Success("Task %s is %s\n", render.ShortID(t.ID), t.Status)
		return nil
	})
}

func init() {
	create := taskCreateCmd.Flags()
	create.StringVar(&taskDescription, "description", "", "Detailed description")
	create.StringVar(&taskType, "type", "", "Task type (analysis, implementation, review, testing, documentation, research, fix, general)")
	create.IntVar(&taskPriority, "priority", 2, "0 (most urgent) to 4")
	create.StringArrayVar(&taskDependsOn, "depends-on", nil, "Task that must complete first (repeatable)")
	create.StringVar(&taskContext, "context", "", "Context to attach to")

	list := taskListCmd.Flags()
	list.StringVar(&taskStatus, "status", "", "Only this status")
	list.StringVar(&taskType, "type", "", "Only this type")
	list.StringVar(&taskAssigned, "assigned", "", "Only tasks assigned to this agent")
	list.StringVar(&taskCreatedBy, "by", "", "Creating agent (exact id or glob)")
	list.StringVar(&taskContext, "context", "", "Only this context")
	list.BoolVar(&taskAll, "all-instances", false, "Include every instance")
	list.StringVar(&taskSince, "since", "", "Created after (duration or RFC3339)")
	list.StringVar(&taskUntil, "until", "", "Created before (duration or RFC3339)")
	list.StringVar(&taskTitleGlob, "title", "", "Title glob")
	list.IntVar(&taskLimit, "limit", 0, "Maximum results (0 for all)")
	list.IntVar(&taskOffset, "offset", 0, "Skip this many results")

	taskReadyCmd.Flags().StringArrayVar(&taskTypes, "type", nil, "Only this type (repeatable)")
	taskReadyCmd.Flags().StringVar(&taskContext, "context", "", "Only this context")

	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskUpdateCmd.Flags().StringVar(&taskError, "error", "", "Error text")
	for _, c := range []*cobra.Command{taskUpdateCmd, taskCompleteCmd} {
		c.Flags().StringArrayVar(&taskFindings, "finding", nil, "Finding produced by the task (repeatable)")
		c.Flags().StringArrayVar(&taskArtifacts, "artifact", nil, "Artifact produced by the task (repeatable)")
	}

	taskCmd.AddCommand(taskCreateCmd, taskGetCmd, taskListCmd, taskReadyCmd, taskClaimCmd,
		taskUpdateCmd, taskCompleteCmd, taskFailCmd, taskCancelCmd)
	rootCmd.AddCommand(taskCmd)
}
