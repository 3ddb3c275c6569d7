package commands

import (
	"fmt"

	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/docker"
	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/render"
	"github.com/spf13/cobra"
)

var (
	redisPort   int
	redisImage  string
	redisRemove bool
	redisAll    bool
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Run a local Redis container for the board",
	Long: `Start, stop and inspect a Docker-managed Redis for this instance.

The redis backend lets several checkouts, MCP servers and watchers share one
live board. "chalk redis up" starts a container published on 127.0.0.1 and
prints the URL to put in chalk.yml.`,
}

var redisUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the instance's Redis container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cli, err := docker.NewClient(ctx)
		if err != nil {
			return dockerUnavailable(err)
		}
		defer cli.Close()

		c, err := docker.StartRedis(ctx, cli, docker.RedisOptions{Instance: cfg.Instance, Image: redisImage, Port: redisPort})
		if err != nil {
			return printer.ErrorWithContext("failed to start Redis", err.Error(),
				map[string]string{"instance": cfg.Instance, "image": redisImage},
				[]string{"Pull the image first:\n  docker pull " + redisImage, "Pick another port with --port"})
		}

		url := instance.GetRedisURL(c.Port)
		printer.Success("Redis %s is running on port %d\n", c.Name, c.Port)
		if cfg.Store.Backend != config.BackendRedis || cfg.Store.RedisURL != url {
			printer.Printf("\nPoint chalk at it in %s:\n", configPath)
			printer.Printf("  store:\n    backend: %s\n    redis_url: %s\n", config.BackendRedis, url)
			printer.Printf("\nor for one shell:\n  export %s=%s %s=%s\n", config.EnvBackend, config.BackendRedis, config.EnvRedisURL, url)
		}
		return nil
	},
}

var redisDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the instance's Redis container",
	Long: `Stop the instance's Redis container. The data survives in the container
until it is removed with --remove.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cli, err := docker.NewClient(ctx)
		if err != nil {
			return dockerUnavailable(err)
		}
		defer cli.Close()

		found, err := docker.StopRedis(ctx, cli, cfg.Instance, redisRemove)
		if err != nil {
			return err
		}
		if !found {
			printer.Warning("no Redis container for instance %s\n", cfg.Instance)
			return nil
		}
		verb := "stopped"
		if redisRemove {
			verb = "removed"
		}
		printer.Success("Redis %s %s\n", docker.RedisContainerName(cfg.Instance), verb)
		return nil
	},
}

var redisStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Redis containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := format()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cli, err := docker.NewClient(ctx)
		if err != nil {
			return dockerUnavailable(err)
		}
		defer cli.Close()

		containers, err := docker.ListRedis(ctx, cli)
		if err != nil {
			return err
		}
		if !redisAll {
			mine := containers[:0]
			for _, c := range containers {
				if c.Instance == cfg.Instance {
					mine = append(mine, c)
				}
			}
			containers = mine
		}

		w := cmd.OutOrStdout()
		if out == render.FormatJSONL {
			return render.JSONL(w, containers)
		}
		if len(containers) == 0 {
			fmt.Fprintln(w, "No Redis containers found")
			return nil
		}
		fmt.Fprintf(w, "%-32s  %-24s  %-8s  %s\n", "NAME", "INSTANCE", "STATUS", "URL")
		for _, c := range containers {
			fmt.Fprintf(w, "%-32s  %-24s  %-8s  %s\n",
				render.Clip(c.Name, 32), render.Clip(c.Instance, 24), c.Status(), instance.GetRedisURL(c.Port))
		}
		return nil
	},
}

func dockerUnavailable(err error) error {
	return printer.Error("Docker unavailable", err.Error(),
		[]string{"Or run Redis yourself and set store.redis_url in " + configPath})
}

func init() {
	redisUpCmd.Flags().IntVar(&redisPort, "port", 0, "Host port (default: next free port from 6379)")
	redisUpCmd.Flags().StringVar(&redisImage, "image", docker.DefaultRedisImage, "Redis image")
	redisDownCmd.Flags().BoolVar(&redisRemove, "remove", false, "Also remove the container and its data")
	redisStatusCmd.Flags().BoolVar(&redisAll, "all", false, "Include every instance")

	redisCmd.AddCommand(redisUpCmd, redisDownCmd, redisStatusCmd)
	rootCmd.AddCommand(redisCmd)
}
