package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fablehost/fable/internal/api"
	"github.com/fablehost/fable/internal/completion"
	"github.com/fablehost/fable/internal/db"
	"github.com/fablehost/fable/internal/mcp"
	"github.com/fablehost/fable/internal/pipeline"
)

func main() {
	// Get configuration from environment
	dbPath := os.Getenv("FABLE_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(".", "fable.duckdb")
	}

	port := os.Getenv("FABLE_PORT")
	if port == "" {
		port = "8080"
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	store, err := db.NewStore(dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	client := completion.NewClient(logger)
	generator := pipeline.NewGenerator(store, client, logger)

	httpServer := api.NewServer(store, client, generator, logger, port)
	mcpServer := mcp.NewServer(store, generator, logger)

	// MCP tools ride the HTTP server over SSE. Passing "stdio" as the only
	// argument runs the MCP server on stdio instead, for local clients.
	if len(os.Args) > 1 && os.Args[1] == "stdio" {
		logger.Info("serving MCP over stdio", zap.String("db", dbPath))
		if err := mcpServer.Serve(); err != nil {
			logger.Fatal("MCP server error", zap.Error(err))
		}
		return
	}

	httpServer.AddMCPServer(mcpServer.GetMCPServer())

	logger.Info("fable starting",
		zap.String("db", dbPath),
		zap.String("port", port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Serve)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("fable stopped")
}
