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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fluxmcp/internal/api"
	"github.com/kalambet/fluxmcp/internal/refresh"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio (and optionally HTTP)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("http")
		return runServer(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().String("http", "", "also serve streamable-HTTP MCP, /health and /metrics on this address")
}

// runServer serves MCP until stdin closes or a signal arrives. stdout carries
// protocol frames only; everything else goes to stderr.
func runServer(parent context.Context, httpAddr string) error {
	fmt.Fprintf(os.Stderr, "fluxmcp version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	if httpAddr == "" {
		httpAddr = cfg.Server.HTTPAddr
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Orchestrator: a.orch,
		Logger:       slog.Default(),
		Version:      version,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stdioSrv := server.NewStdioServer(mcpSrv)
		slog.Info("MCP server started (stdio transport)", "registry", cfg.Registry.Backend)
		err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		// stdin closed: the host is gone, take the rest down with us.
		stop()
		return nil
	})

	if httpAddr != "" {
		srv := &http.Server{
			Addr: httpAddr,
			Handler: api.NewHTTPHandler(api.HTTPDeps{
				MCP:     mcpSrv,
				Metrics: a.metrics,
				Token:   cfg.Server.Token,
				Logger:  slog.Default(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return gctx
			},
		}
		if cfg.Server.Token == "" {
			slog.Warn("HTTP MCP endpoint has no bearer token configured", "addr", httpAddr)
		}
		g.Go(func() error {
			slog.Info("HTTP server listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Refresh.Interval > 0 {
		w := refresh.NewWorker(a.orch, cfg.Refresh.Interval)
		if a.store != nil {
			w.SetPruner(a.store, cfg.Registry.TTL)
		}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	slog.Info("shutting down")
	return err
}
