package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/keepsake/internal/api"
	"github.com/kalambet/keepsake/internal/cleanup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (foreground)",
	Long: `Run the HTTP API in the foreground.

With --cleanup-interval the media cleanup queue is also drained on a timer;
otherwise cleanup only runs when POST /cleanup-media is called.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("cleanup-interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				printWarning("closing resources: %v", err)
			}
		}()
		return runServer(ctx, a, interval)
	},
}

func init() {
	serveCmd.Flags().Duration("cleanup-interval", 0, "drain the cleanup queue on this interval (0 disables)")
}

func newHTTPHandler(a *app) http.Handler {
	return api.NewHandler(api.Deps{
		Processor:    a.proc,
		Cleanup:      a.cleanup,
		Tokens:       a.store,
		ServiceToken: a.cfg.Cleanup.ServiceToken,
		Logger:       a.logger,
	})
}

func listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

func runServer(ctx context.Context, a *app, cleanupInterval time.Duration) error {
	fmt.Fprintf(stderr, "keepsake version %s\n", version)

	if a.cfg.Cleanup.ServiceToken == "" {
		printWarning("KEEPSAKE_SERVICE_TOKEN is not set; /cleanup-media will reject every request")
	}

	ln, err := listen(fmt.Sprintf(":%d", a.cfg.Server.Port), a.cfg.Server.MaxConnections)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           newHTTPHandler(a),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// workerDone is closed once the worker has returned; the store must stay
	// open until then.
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	if cleanupInterval > 0 {
		go func() {
			defer close(workerDone)
			cleanup.NewWorker(a.cleanup, cleanupInterval).Run(workerCtx)
		}()
		a.logger.Info("cleanup worker started", "interval", cleanupInterval.String())
	} else {
		close(workerDone)
	}
	defer func() {
		stopWorker()
		<-workerDone
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("keepsake listening", "addr", ln.Addr().String(), "max_connections", a.cfg.Server.MaxConnections,
			"story_strategy", a.proc.Strategy().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Processor: a.proc,
			Cleanup:   a.cleanup,
			Queue:     a.store,
		})
		a.logger.Info("MCP server started (stdio transport)")
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
