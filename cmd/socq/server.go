package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/socq/internal/api"
	"github.com/kalambet/socq/internal/config"
	"github.com/kalambet/socq/internal/conversation"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversation over a local HTTP API and MCP (foreground)",
	Long: `Serve one conversation over a local HTTP API bound to 127.0.0.1, a
WebSocket event stream at /ws and, unless --mcp=false, MCP over stdio.

Every endpoint except /health requires the bearer token printed by
"socq token server".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		withMCP, _ := cmd.Flags().GetBool("mcp")

		s, err := newSession(cmd.Context(), func(c *config.Config) {
			if port > 0 {
				c.Server.Port = port
			}
		})
		if err != nil {
			return err
		}
		defer s.Close()

		token, err := config.ServerToken()
		if err != nil {
			return fmt.Errorf("initializing API token: %w", err)
		}
		return runServer(cmd.Context(), s, token, withMCP)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default server.port)")
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

func runServer(ctx context.Context, s *session, token string, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "socq version %s\n", version)

	g, ctx := errgroup.WithContext(ctx)

	conv := s.conversation()
	hub := api.NewHub(ctx, conv, slog.Default())
	defer hub.Close()

	deps := api.AppDeps{
		Conversation: conv,
		Token:        token,
		Hub:          hub,
		Context:      ctx,
		Logger:       slog.Default(),
	}
	if s.store != nil {
		deps.Log = s.store
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		slog.Info("socq listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Conversation: conv,
			Log:          deps.Log,
			Version:      version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	if path := config.FilePath(); path != "" {
		g.Go(func() error {
			err := config.Watch(ctx, path, loadConfig, func(cfg config.Config) {
				applyReload(conv, cfg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("config watch stopped", "path", path, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// applyReload applies the settings that can change without a restart.
func applyReload(conv *conversation.Store, cfg config.Config) {
	if cfg.Remote.TopK != conv.TopK() {
		conv.SetTopK(cfg.Remote.TopK)
		slog.Info("config reloaded", "remote.top_k", cfg.Remote.TopK)
	}
}
