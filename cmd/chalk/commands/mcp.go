package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/tools"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the blackboard as MCP tools",
	Long: `Serve the blackboard to agent runtimes as MCP tools.

By default the server speaks JSON-RPC over stdin/stdout, one client per
process. With --http it listens for streamable HTTP clients at /mcp
instead, so several agents can share one server. Logs go to stderr.

Register the stdio server with a host, for example:
  {"command": "chalk", "args": ["mcp", "--instance", "my-project"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
			log := logging.Component(b.Log, "mcp")
			s := tools.NewServer(b, version, log)
			if mcpHTTPAddr != "" {
				return serveHTTP(ctx, s, mcpHTTPAddr, log)
			}

			log.Info().Str("instance", b.Session.Instance()).Str("session", b.Session.Session()).Msg("MCP server listening on stdio")
			stdio := server.NewStdioServer(s)
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	},
}

// serveHTTP runs the streamable HTTP transport until ctx is done.
func serveHTTP(ctx context.Context, s *server.MCPServer, addr string, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Msg("MCP server listening on http")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown error")
	}
	return nil
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "Serve streamable HTTP on this address (e.g. :8931) instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}
