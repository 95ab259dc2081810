package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quant-ingest/internal/api"
	"github.com/quant-ingest/internal/cache"
	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/logger"
)

var (
	serveStorePath string
	servePort      int
	serveHost      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingested store over HTTP",
	Long: `Start a read-only HTTP API over an ingested store.

Endpoints:
  GET /api/v1/health
  GET /api/v1/symbols
  GET /api/v1/symbols/{symbol}/bars?start=&end=
  GET /api/v1/bars?symbols=&start=&end=
  GET /api/v1/schema/{table}
  GET /api/v1/sync-status

Examples:
  quant-ingest serve --store bars.db
  quant-ingest serve --store bars.db --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStorePath, "store", "bars.db", "Path to the bar store")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Server port (overrides SERVER_PORT)")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Server host (overrides SERVER_HOST)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to load config: %w", err)}
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to initialize logger: %w", err)}
	}

	store, err := database.Open(serveStorePath, log)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to open store: %w", err)}
	}
	defer store.Close()

	if err := store.RequireBarColumns(ctx); err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	var c cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(&cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, health will not report a cache")
		} else {
			c = rc
			defer rc.Close()
		}
	}

	server := api.NewServer(cfg, store, c, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
