package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/docker"
	"github.com/dyluth/chalk/internal/git"
	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit    bool
	initBackend  string
	initRedisURL string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a chalk project",
	Long: `Initialize a chalk project in the current directory.

Creates:
  • chalk.yml - Project configuration file
  • .chalk/   - Local board state (the sqlite database)

The instance name defaults to the Git repository's directory name. Inside a
Git repository, .chalk/ is added to .gitignore.

Use --force to replace an existing chalk.yml. Board state is kept.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Replace an existing chalk.yml")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendSQLite, "Store backend: sqlite or redis")
	initCmd.Flags().StringVar(&initRedisURL, "redis-url", "", "Redis URL for the redis backend")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	checker := git.NewChecker("")

	name := instanceName
	if name == "" {
		project, err := checker.ProjectName()
		if err != nil {
			return err
		}
		name = defaultInstanceName(project, func() []string { return knownInstances(cmd.Context()) })
	}
	if err := instance.ValidateName(name); err != nil {
		return printer.Error("invalid instance name", err.Error(),
			[]string{"Pick one explicitly:\n  chalk init --instance my-project"})
	}

	created, err := scaffold.Initialize(".", scaffold.Options{
		Instance: name,
		Backend:  initBackend,
		RedisURL: initRedisURL,
	}, forceInit)
	if err != nil {
		if errors.Is(err, scaffold.ErrAlreadyInitialized) {
			return printer.Error("project already initialized", err.Error(),
				[]string{"Use 'chalk init --force' to reinitialize (this will overwrite existing configuration)"})
		}
		return fmt.Errorf("initialization failed: %w", err)
	}

	if ok, err := checker.IsGitRepository(); err == nil && ok {
		if changed, err := checker.EnsureIgnored(scaffold.StateDir + "/"); err != nil {
			printer.Warning("could not update .gitignore: %v\n", err)
		} else if changed {
			created = append(created, ".gitignore (updated)")
		}
	}

	printer.Success("Initialized chalk project %s\n", name)
	printer.Printf("\nCreated:\n")
	for _, c := range created {
		printer.Printf("  ✓ %s\n", c)
	}
	printer.Printf("\nNext steps:\n")
	printer.Printf("  1. Start a session:      chalk session start\n")
	printer.Printf("  2. Register the MCP server with your agent host: chalk mcp\n")
	printer.Printf("  3. Watch activity:       chalk inbox --follow\n")
	return nil
}

// knownInstances lists the instances that already have a local Redis
// container. Without a reachable daemon it knows none.
func knownInstances(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cli, err := docker.NewClient(ctx)
	if err != nil {
		return nil
	}
	defer cli.Close()
	containers, err := docker.ListRedis(ctx, cli)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Instance)
	}
	return names
}

// defaultInstanceName derives an instance name from the project name, falling
// back to the next default-N not already taken by a known instance.
func defaultInstanceName(project string, known func() []string) string {
	if name := instance.SanitizeName(project); name != "" {
		return name
	}
	return instance.GenerateDefaultName(known())
}
