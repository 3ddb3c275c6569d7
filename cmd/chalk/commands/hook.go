package commands

import (
	"strings"

	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/hooks"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var hookCmd = &cobra.Command{
	Use:       "hook NAME",
	Short:     "Run a host lifecycle hook",
	ValidArgs: hooks.Names,
	Long: `Run one host lifecycle hook. The host passes a JSON payload on stdin;
whatever the hook prints is handed back to the host.

Hooks:
  ` + strings.Join(hooks.Names, "\n  ") + `

A hook never fails. If the blackboard is unreachable the hook logs the
problem to stderr and exits 0 so the host carries on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := hookLogger()
		b, err := openBoard(cmd.Context())
		if err != nil {
			log.Warn().Err(err).Str("hook", args[0]).Msg("Blackboard unavailable, skipping hook")
			return nil
		}
		defer b.Close()

		h := hooks.New(b.Session, b.Aggregator, logging.Component(b.Log, "hooks"))
		h.Run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		return nil
	},
}

// hookLogger logs hook problems before a board exists. The configuration may
// be the very thing that is broken, so it falls back to defaults.
func hookLogger() zerolog.Logger {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	return logging.Component(logging.New(cfg.Log), "hooks")
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
