// Command docserver runs the documentation MCP server.
//
// It serves a single JSON-RPC 2.0 endpoint over HTTP and delegates all
// persistence to a PostgreSQL database with pgvector-backed similarity
// search over pre-embedded documentation.
//
// Required environment variables:
//
//	DATABASE_URL    - PostgreSQL connection string
//	OPENAI_API_KEY  - embedding provider API key
//
// Optional environment variables: see internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docserver-mcp/docserver/internal/batch"
	"github.com/docserver-mcp/docserver/internal/config"
	"github.com/docserver-mcp/docserver/internal/embedding"
	"github.com/docserver-mcp/docserver/internal/mcp"
	"github.com/docserver-mcp/docserver/internal/migration"
	"github.com/docserver-mcp/docserver/internal/query"
	"github.com/docserver-mcp/docserver/internal/scheduler"
	"github.com/docserver-mcp/docserver/internal/session"
	"github.com/docserver-mcp/docserver/internal/storage"
	"github.com/docserver-mcp/docserver/internal/tools"
	"github.com/docserver-mcp/docserver/internal/toolsconfig"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to a docserver.toml config file")
		migrateOnly = flag.Bool("migrate-only", false, "apply pending migrations and exit")
		healthCheck = flag.Bool("health-check", false, "print identification and exit 0")
		showVersion = flag.Bool("version", false, "print version and exit 0")
	)
	flag.Parse()

	if *healthCheck || *showVersion {
		fmt.Printf("docserver %s\n", Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	logger.Info("starting docserver", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := storage.Open(ctx, storage.PoolConfig{
		DatabaseURL:    cfg.Database.URL,
		MinConns:       int32(cfg.Pool.MinConnections),
		MaxConns:       int32(cfg.Pool.MaxConnections),
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		MaxLifetime:    cfg.Pool.MaxLifetime,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		AppName:        cfg.Pool.AppName,
		Retry: storage.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
	})
	if err != nil {
		return fmt.Errorf("opening storage pool: %w", err)
	}
	defer pool.Close()

	migrationEngine := migration.New(pool.Raw(), cfg.Pool.AppName)
	if err := migrationEngine.RegisterCore(); err != nil {
		return fmt.Errorf("registering migrations: %w", err)
	}
	if err := migrationEngine.ApplyPending(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if *migrateOnly {
		logger.Info("migrations applied, exiting (--migrate-only)")
		return nil
	}

	embedClient := embedding.New(embedding.Config{
		BaseURL: cfg.Embed.BaseURL,
		APIKey:  cfg.Embed.APIKey,
		Model:   cfg.Embed.Model,
	})

	toolsDoc, err := toolsconfig.Load(cfg.Tools.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading tools configuration: %w", err)
	}

	pipeline := query.New(pool, embedClient, false)

	registry := mcp.NewRegistry()
	tools.RegisterHardcoded(registry, pipeline, logger)
	tools.RegisterDynamic(registry, toolsDoc, pipeline, logger)

	sessions := session.NewManager(session.Config{ProtocolVersion: mcp.ProtocolVersion})
	dispatcher := mcp.NewDispatcher(registry, mcp.ServerInfo{Name: "docserver", Version: Version}, logger)
	healthChecker := mcp.NewHealthChecker(pool)

	httpServer := mcp.NewHTTPServer(dispatcher, sessions, mcp.SecurityConfig{
		AllowedOrigins:         cfg.Security.AllowedOrigins,
		StrictOriginValidation: cfg.Security.StrictOriginValidation,
		AllowedHosts:           cfg.Security.AllowedHosts,
		CORSOrigin:             cfg.Security.CORSOrigin,
	}, healthChecker, logger)

	orchestrator := batch.NewOrchestrator(embedClient, batch.DefaultConfig(), logger)

	jobs := scheduler.NewScheduler(logger)
	jobs.AddJob(session.NewSweeperJob(sessions, logger), time.Minute)
	jobs.AddJob(batch.NewPollJob(orchestrator, logger), 30*time.Second)
	jobs.AddJob(migration.NewPartitionJob(pool.Raw(), logger), 24*time.Hour)
	jobs.AddJob(storage.NewArchivalJob(pool, 365*24*time.Hour, logger), 24*time.Hour)
	jobs.Start(ctx)
	defer jobs.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: httpServer.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
