package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/orb/internal/agent"
	"github.com/kalambet/orb/internal/api"
	"github.com/kalambet/orb/internal/config"
	"github.com/kalambet/orb/internal/embedding"
	"github.com/kalambet/orb/internal/ingest"
	"github.com/kalambet/orb/internal/llm"
	"github.com/kalambet/orb/internal/ollama"
	"github.com/kalambet/orb/internal/retrieval"
	"github.com/kalambet/orb/internal/sqlguard"
	"github.com/kalambet/orb/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orb server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured backend. A nil store with a nil error never
// happens; callers treat any error as "run without storage".
func openStore(ctx context.Context, cfg config.StorageConfig) (*storage.Store, error) {
	if cfg.Driver == "postgres" {
		return storage.OpenPostgres(ctx, cfg.PostgresDSN)
	}
	return storage.Open(cfg.DataDir)
}

// ollamaModels lists the models the configured providers need from Ollama.
func ollamaModels(cfg config.Config) []string {
	var models []string
	if cfg.LLM.Provider == "ollama" {
		models = append(models, cfg.LLM.Model)
	}
	if cfg.Embedding.Provider == "ollama" {
		models = append(models, cfg.Embedding.Model)
	}
	return models
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "orb version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if models := ollamaModels(cfg); len(models) > 0 {
		if err := ollama.EnsureReady(ctx, ollama.New(cfg.Ollama.BaseURL), os.Stderr, models...); err != nil {
			return err
		}
	}

	client, err := llm.New(ctx, cfg.LLM, cfg.Ollama.BaseURL)
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	embedder, err := embedding.New(ctx, cfg.Embedding, cfg.Ollama.BaseURL)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		defer c.Close()
	}

	routerDeps := api.Deps{
		Fallback: client,
		Token:    cfg.Server.APIToken,
		Origins:  cfg.Server.Origins(),
		Logger:   logger,
	}
	mcpDeps := api.MCPDeps{Logger: logger}

	g, gctx := errgroup.WithContext(ctx)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("storage unavailable, serving plain chat only", "driver", cfg.Storage.Driver, "error", err)
	} else {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing storage", "error", err)
			}
		}()

		svc := ingest.NewService(store, embedder, cfg.Ingest.MaxFileChars)
		retriever := retrieval.New(embedder, store, cfg.Retrieval.TableList(), cfg.Retrieval.TopK)
		brain := agent.New(agent.Deps{
			LLM:          client,
			Store:        store,
			Retriever:    retriever,
			Gate:         sqlguard.New(storage.RecordTables()...),
			Interactions: svc,
			Logger:       logger,
		}, agent.Options{
			MaxAttempts:   cfg.Agent.MaxAttempts,
			CallTimeout:   cfg.Agent.Timeout(),
			ContextTokens: cfg.Agent.ContextTokens,
		})

		routerDeps.Agent = brain
		routerDeps.Ingest = svc
		routerDeps.Records = store
		mcpDeps.Agent = brain
		mcpDeps.Ingest = svc
		mcpDeps.Retriever = retriever
		mcpDeps.QueryLogs = store

		worker := ingest.NewWorker(store, ingest.NewExtractor(), svc, cfg.Ingest.Interval())
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(routerDeps),
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		logger.Info("orb listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(mcpDeps))
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}
