package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/captioner/internal/api"
	"github.com/kalambet/captioner/internal/pipeline"
)

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(addr, withMCP)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:<server.port>)")
	serveCmd.Flags().Bool("mcp", true, "also serve MCP over stdin/stdout")
}

func runServer(addr string, withMCP bool) error {
	fmt.Fprintf(stderr, "captioner version %s\n", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	retriever, err := a.retriever(ctx)
	if err != nil {
		return err
	}
	// Build the index before taking traffic; a failure here is retried on
	// the first query.
	if _, err := retriever.EnsureIndex(ctx); err != nil {
		slog.Warn("index warm-up failed", "error", err)
	}

	deps := api.Deps{
		Prompts:     a.prompts,
		Retriever:   retriever,
		Runs:        a.store,
		DefaultTopK: a.cfg.Retrieval.TopK,
		AuthToken:   os.Getenv(apiTokenEnv),
	}
	if deps.AuthToken == "" {
		slog.Warn("API bearer auth disabled", "env", apiTokenEnv)
	}

	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "captioner listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// apiTokenEnv holds the bearer token required by the HTTP API.
const apiTokenEnv = "CAPTIONER_API_TOKEN"

// --- daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daily job on a cron schedule",
	Long: `Run the daily job on a cron schedule until interrupted.

Examples:
  captioner daemon
  captioner daemon --cron "30 8 * * 1-5"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("cron")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if spec == "" {
			spec = a.cfg.Daemon.Cron
		}

		r, err := a.runner(ctx)
		if err != nil {
			return err
		}
		d, err := pipeline.NewDaemon(r, spec)
		if err != nil {
			return err
		}

		printStep("Daemon scheduled with %q; next run %s", d.Spec(), d.Next(time.Now()).Format(time.RFC1123))
		return d.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().String("cron", "", "cron expression (default from config)")
}
