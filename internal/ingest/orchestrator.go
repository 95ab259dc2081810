package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quant-ingest/internal/align"
	"github.com/quant-ingest/internal/calendar"
	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/internal/fetcher"
	"github.com/quant-ingest/internal/normalize"
	"github.com/quant-ingest/pkg/models"
)

// Orchestrator drives one manifest run: it expands the manifest into tasks,
// fans them out over a bounded worker pool, and aggregates per-symbol
// outcomes into a run report. Tasks never abort each other; the report is the
// only place failures meet.
type Orchestrator struct {
	manifest     *models.Manifest
	fetchers     map[models.Source]fetcher.Fetcher
	store        *database.Store
	mirror       *database.Mirror
	calendars    *calendar.Provider
	normalizer   *normalize.Normalizer
	retry        fetcher.RetryPolicy
	workers      int
	fetchTimeout time.Duration
	logger       *logrus.Logger

	// disabled flips once per source on rate-limit exhaustion and is never
	// reset within a run.
	disabled map[models.Source]*atomic.Bool

	mu     sync.Mutex
	report *models.RunReport
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Manifest     *models.Manifest
	Fetchers     map[models.Source]fetcher.Fetcher
	Store        *database.Store
	Mirror       *database.Mirror
	Calendars    *calendar.Provider
	Workers      int
	FetchTimeout time.Duration
	Logger       *logrus.Logger
}

// New builds an orchestrator. Manifest retry overrides are resolved here so
// a bad override fails before any task runs.
func New(opts Options) (*Orchestrator, error) {
	retry, err := fetcher.DefaultRetryPolicy().WithOverrides(opts.Manifest.Retry)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	disabled := make(map[models.Source]*atomic.Bool)
	for source := range opts.Fetchers {
		disabled[source] = &atomic.Bool{}
	}

	return &Orchestrator{
		manifest:     opts.Manifest,
		fetchers:     opts.Fetchers,
		store:        opts.Store,
		mirror:       opts.Mirror,
		calendars:    opts.Calendars,
		normalizer:   normalize.New(opts.Logger),
		retry:        retry,
		workers:      workers,
		fetchTimeout: timeout,
		logger:       opts.Logger,
		disabled:     disabled,
	}, nil
}

// Run executes every manifest entry and returns the finalized report. The
// returned error covers report writing only; task failures live in the
// report and surface through its exit code.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunReport, error) {
	today := time.Now().Format("2006-01-02")
	window := models.Window{Start: o.manifest.Window.Start, End: o.manifest.ResolveEnd(today)}
	o.report = models.NewRunReport(o.manifest.Venue, window)

	entries := o.manifest.Entries(today)
	o.logger.WithFields(logrus.Fields{
		"venue":   o.manifest.Venue,
		"window":  fmt.Sprintf("%s..%s", window.Start, window.End),
		"tasks":   len(entries),
		"workers": o.workers,
	}).Info("Starting ingestion run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			o.record(entry.Symbol, o.runTask(gctx, entry))
			return nil
		})
	}
	g.Wait()

	o.report.Finalize()
	o.logger.WithFields(logrus.Fields{
		"ok":     o.report.Totals.OK,
		"empty":  o.report.Totals.Empty,
		"failed": o.report.Totals.Failed,
		"rows":   o.report.Totals.RowsWritten,
	}).Info("Ingestion run finished")

	if path := o.manifest.Output.ReportPath; path != "" {
		if err := o.report.WriteFile(path); err != nil {
			return o.report, fmt.Errorf("failed to write run report: %w", err)
		}
	}
	return o.report, nil
}

func (o *Orchestrator) record(symbol string, sr *models.SymbolReport) {
	o.mu.Lock()
	o.report.Record(symbol, sr)
	o.mu.Unlock()

	status := string(sr.Status)
	detail := ""
	if sr.Error != nil {
		detail = sr.Error.Detail
	}
	if err := o.store.UpdateSyncStatus(context.Background(), symbol, status, sr.RowsWritten, detail); err != nil {
		o.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to update sync status")
	}
}

// runTask runs one entry through fetch, normalize, align and persist. Every
// terminal state becomes a SymbolReport; no error escapes the task.
func (o *Orchestrator) runTask(ctx context.Context, entry models.Entry) *models.SymbolReport {
	log := o.logger.WithFields(logrus.Fields{
		"symbol": entry.Symbol,
		"source": string(entry.Source),
	})
	sr := &models.SymbolReport{Status: models.StatusOK}

	if err := o.store.UpdateSyncStatus(ctx, entry.Symbol, "syncing", 0, ""); err != nil {
		log.WithError(err).Warn("Failed to mark symbol syncing")
	}

	fail := func(err error) *models.SymbolReport {
		kind := models.KindOf(err)
		log.WithError(err).WithField("kind", string(kind)).Error("Task failed")
		sr.Status = models.StatusFailed
		sr.RowsWritten = 0
		sr.Error = &models.ReportError{Kind: kind, Detail: err.Error()}
		return sr
	}

	f, ok := o.fetchers[entry.Source]
	if !ok {
		return fail(models.NewPermanentErr(fmt.Sprintf("no fetcher for source %s", entry.Source), nil))
	}
	if o.disabled[entry.Source].Load() {
		return fail(&models.FetchError{
			Kind:   models.ErrKindSourceDisabled,
			Detail: fmt.Sprintf("source %s disabled after rate-limit exhaustion", entry.Source),
		})
	}

	raw, err := o.fetch(ctx, f, entry, log)
	if err != nil {
		if models.IsRateLimit(err) && o.disabled[entry.Source].CompareAndSwap(false, true) {
			log.Warn("Rate limit exhausted, disabling source for the rest of the run")
		}
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	norm, err := o.normalizer.Normalize(raw)
	if err != nil {
		return fail(err)
	}
	sr.DroppedBadDate = norm.DroppedBadDate
	sr.FlagNonpositivePrice = norm.FlagNonpositivePrice
	sr.FlagPriceBounds = norm.FlagPriceBounds
	sr.InvariantLowGtHigh = norm.DroppedLowGtHigh

	cal, err := o.calendars.TradingDays(o.manifest.Venue, entry.Start, entry.End)
	if err != nil {
		return fail(err)
	}
	aligned, err := align.Align(norm.Frame, cal, entry.Policy)
	if err != nil {
		return fail(err)
	}
	sr.DedupedDuplicate = aligned.Deduped

	if aligned.NoObservations {
		log.Warn("No observations in window")
		sr.Status = models.StatusEmpty
		sr.WarnNoObservations = 1
		return sr
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	written, err := o.store.UpsertBars(ctx, aligned.Frame)
	if err != nil {
		return fail(&models.FetchError{Kind: models.ErrKindPersist, Detail: "store write failed", Err: err})
	}
	if o.mirror != nil {
		if err := o.mirror.WriteFrame(ctx, &aligned.Frame); err != nil {
			return fail(&models.FetchError{Kind: models.ErrKindPersist, Detail: "columnar mirror write failed", Err: err})
		}
	}

	sr.RowsWritten = written
	log.WithField("rows", written).Info("Symbol ingested")
	return sr
}

// fetch runs the retry loop around one upstream call, bounding each attempt
// by the configured timeout. Aliased series keep their upstream identifier
// on the wire and their alias in the canonical frame.
func (o *Orchestrator) fetch(ctx context.Context, f fetcher.Fetcher, entry models.Entry, log *logrus.Entry) (*models.RawFrame, error) {
	var raw *models.RawFrame
	err := o.retry.Do(ctx, log, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()
		var ferr error
		raw, ferr = f.Fetch(attemptCtx, entry.Symbol, entry.Start, entry.End)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if entry.Alias != "" {
		raw.Alias = entry.Alias
	}
	return raw, nil
}
