package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/render"
	"github.com/spf13/cobra"
)

// EnvAgent names the acting agent when --agent is not given.
const EnvAgent = "CHALK_AGENT"

var (
	version string
	commit  string
	date    string
)

var (
	configPath   string
	instanceName string
	sessionName  string
	actingAgent  string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chalk",
	Short: "chalk - shared blackboard for cooperating agents",
	Long: `chalk is a blackboard coordination engine for autonomous agents.

Agents post findings, create and claim tasks, subscribe to each other's
activity and group their work into contexts. Everything lives in one shared
document store (Redis or SQLite), tagged by instance and session.

The same board is reachable three ways: this CLI, the MCP server started by
"chalk mcp", and the lifecycle hooks run by "chalk hook".`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	report(err)
	return err
}

// report prints errors that were not already shown by the printer.
func report(err error) {
	var f *printer.Failure
	if err == nil || errors.As(err, &f) {
		return
	}
	printer.Error("Error: "+err.Error(), "", []string{"Run 'chalk --help' for usage."})
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to chalk.yml")
	pf.StringVarP(&instanceName, "instance", "i", "", "Instance to act in (overrides chalk.yml and CHALK_INSTANCE)")
	pf.StringVar(&sessionName, "session", "", "Session to act in (overrides chalk.yml and CHALK_SESSION)")
	pf.StringVarP(&actingAgent, "agent", "a", "", "Acting agent id (default $"+EnvAgent+" or \"cli\")")
	pf.StringVarP(&outputFormat, "output", "o", string(render.FormatTable), "Output format: table or jsonl")
}

// loadConfig reads chalk.yml and applies the global flag overrides.
func loadConfig() (*config.ChalkConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"config": configPath},
			[]string{"Create a starter configuration:\n  chalk init", "Fix the file and retry"},
		)
	}
	if instanceName != "" {
		cfg.Instance = instanceName
	}
	if sessionName != "" {
		cfg.Session = sessionName
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}
	return cfg, nil
}

// openBoard connects to the configured board. Tests replace it.
var openBoard = func(ctx context.Context) (*board.Board, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	b, err := board.Open(ctx, cfg, logging.New(cfg.Log))
	if err != nil {
		details := map[string]string{"backend": cfg.Store.Backend}
		suggestions := []string{"Check the store settings in " + configPath}
		switch cfg.Store.Backend {
		case config.BackendRedis:
			details["redis_url"] = cfg.Store.RedisURL
			suggestions = append(suggestions, "Start a local Redis:\n  chalk redis up")
		case config.BackendSQLite:
			details["sqlite_path"] = cfg.Store.SQLitePath
		}
		return nil, printer.ErrorWithContext("blackboard unavailable", err.Error(), details, suggestions)
	}
	return b, nil
}

// withBoard opens the board for the duration of fn.
func withBoard(cmd *cobra.Command, fn func(ctx context.Context, b *board.Board) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBoard(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

// agent returns the acting agent id.
func agent() string {
	if actingAgent != "" {
		return actingAgent
	}
	if v := os.Getenv(EnvAgent); v != "" {
		return v
	}
	return "cli"
}

// format validates --output.
func format() (render.Format, error) {
	f, err := render.ParseFormat(outputFormat)
	if err != nil {
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", outputFormat),
			[]string{"Valid formats: table, jsonl"},
		)
	}
	return f, nil
}
