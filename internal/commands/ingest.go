package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quant-ingest/internal/cache"
	"github.com/quant-ingest/internal/calendar"
	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/internal/fetcher"
	"github.com/quant-ingest/internal/ingest"
	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/logger"
	"github.com/quant-ingest/pkg/models"
)

var (
	ingestManifest string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a manifest-driven ingestion",
	Long: `Run one ingestion pass over every symbol in the manifest.

Examples:
  # Ingest everything the manifest names
  quant-ingest ingest --manifest manifest.yaml

Exit codes: 0 when every symbol ended ok or empty, 1 when any symbol failed,
2 for manifest or configuration errors raised before any task ran.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestManifest, "manifest", "m", "", "Path to the run manifest (required)")
	ingestCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := models.LoadManifest(ingestManifest)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to load config: %w", err)}
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to initialize logger: %w", err)}
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := checkCredentials(manifest, cfg); err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	store, err := database.Open(manifest.Output.StorePath, log)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to open store: %w", err)}
	}
	defer store.Close()

	var mirror *database.Mirror
	if manifest.Output.ColumnarDir != "" {
		mirror, err = database.NewMirror(manifest.Output.ColumnarDir, log)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
	}

	rawCache := openCache(cfg, log)
	defer rawCache.Close()

	calendars := calendar.NewProvider()
	fetchers := buildFetchers(manifest, cfg, calendars, rawCache, log)

	orch, err := ingest.New(ingest.Options{
		Manifest:     manifest,
		Fetchers:     fetchers,
		Store:        store,
		Mirror:       mirror,
		Calendars:    calendars,
		Workers:      cfg.Ingest.Workers,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		Logger:       log,
	})
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if report.ExitCode() != 0 {
		return &ExitError{
			Code: report.ExitCode(),
			Err:  fmt.Errorf("%d of %d symbols failed", report.Totals.Failed, report.Totals.Symbols),
		}
	}
	return nil
}

// checkCredentials fails fast when the manifest names a source whose
// credential is absent, before any task runs.
func checkCredentials(manifest *models.Manifest, cfg *config.Config) error {
	if manifest.HasSource(models.SourceEquity) && cfg.Equity.APIKey == "" {
		return &models.MissingCredentialError{Source: models.SourceEquity, EnvName: "EQUITY_API_KEY"}
	}
	if manifest.HasSource(models.SourceMacro) && cfg.Macro.APIKey == "" {
		return &models.MissingCredentialError{Source: models.SourceMacro, EnvName: "MACRO_API_KEY"}
	}
	return nil
}

// openCache prefers redis when configured and falls back to the in-process
// cache; a cache is never a hard dependency of a run.
func openCache(cfg *config.Config, log *logrus.Logger) cache.Cache {
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(&cfg.Redis, log)
		if err == nil {
			return rc
		}
		log.WithError(err).Warn("Redis unavailable, using in-process cache")
	}
	return cache.NewMemory(cfg.Redis.CacheTTL)
}

// buildFetchers constructs one fetcher per source family the manifest uses.
// Network-backed fetchers are wrapped with the raw-response cache; the
// synthetic generator computes locally and needs none.
func buildFetchers(manifest *models.Manifest, cfg *config.Config, calendars *calendar.Provider, rawCache cache.Cache, log *logrus.Logger) map[models.Source]fetcher.Fetcher {
	fetchers := make(map[models.Source]fetcher.Fetcher)
	if manifest.HasSource(models.SourceEquity) {
		fetchers[models.SourceEquity] = fetcher.NewCached(
			fetcher.NewEquityClient(&cfg.Equity, cfg.Ingest.FetchTimeout, log), rawCache)
	}
	if manifest.HasSource(models.SourceMacro) {
		fetchers[models.SourceMacro] = fetcher.NewCached(
			fetcher.NewMacroClient(&cfg.Macro, cfg.Ingest.FetchTimeout, log), rawCache)
	}
	if manifest.HasSource(models.SourceSynthetic) {
		fetchers[models.SourceSynthetic] = fetcher.NewSyntheticGenerator(
			calendars, manifest.Venue, manifest.SyntheticItems(), log)
	}
	return fetchers
}
