package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quant-ingest/internal/calendar"
	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/internal/fetcher"
	"github.com/quant-ingest/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// stubFetcher serves canned frames or errors per symbol and counts calls.
type stubFetcher struct {
	source models.Source
	frames map[string]*models.RawFrame
	errs   map[string]error
	calls  atomic.Int64
}

func (s *stubFetcher) Source() models.Source { return s.source }

func (s *stubFetcher) Fetch(_ context.Context, symbol, _, _ string) (*models.RawFrame, error) {
	s.calls.Add(1)
	if err, ok := s.errs[symbol]; ok {
		return nil, err
	}
	if frame, ok := s.frames[symbol]; ok {
		return frame, nil
	}
	return &models.RawFrame{Symbol: symbol, Source: s.source}, nil
}

func equityRow(date string, close float64, volume string) map[string]string {
	return map[string]string{
		"Date":   date,
		"Open":   "100.0",
		"High":   "110.0",
		"Low":    "95.0",
		"Close":  formatFloat(close),
		"Volume": volume,
	}
}

func formatFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func equityFrame(symbol string, rows []map[string]string) *models.RawFrame {
	return &models.RawFrame{
		Symbol:  symbol,
		Source:  models.SourceEquity,
		Columns: []string{"Date", "Open", "High", "Low", "Close", "Volume"},
		Rows:    rows,
	}
}

func testManifest(dir string, symbols []string) *models.Manifest {
	return &models.Manifest{
		Venue:  "NYSE",
		Window: models.Window{Start: "2020-01-02", End: "2020-01-10"},
		Sources: []models.SourceSpec{
			{Kind: "equity", Symbols: symbols},
		},
		MissingDataPolicy: "forward_fill",
		Output: models.Output{
			StorePath: filepath.Join(dir, "bars.db"),
		},
	}
}

func newTestOrchestrator(t *testing.T, manifest *models.Manifest, f fetcher.Fetcher, workers int) (*Orchestrator, *database.Store) {
	t.Helper()
	store, err := database.Open(manifest.Output.StorePath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o, err := New(Options{
		Manifest:     manifest,
		Fetchers:     map[models.Source]fetcher.Fetcher{f.Source(): f},
		Store:        store,
		Calendars:    calendar.NewProvider(),
		Workers:      workers,
		FetchTimeout: 5 * time.Second,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return o, store
}

func TestRunHappyPathForwardFill(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME"})
	// Five observations across seven trading days; Jan 7 and Jan 9 are gaps.
	stub := &stubFetcher{source: models.SourceEquity, frames: map[string]*models.RawFrame{
		"ACME": equityFrame("ACME", []map[string]string{
			equityRow("2020-01-02", 101, "1000"),
			equityRow("2020-01-03", 102, "1000"),
			equityRow("2020-01-06", 103, "1000"),
			equityRow("2020-01-08", 104, "1000"),
			equityRow("2020-01-10", 105, "1000"),
		}),
	}}
	o, store := newTestOrchestrator(t, manifest, stub, 2)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	sr := report.Symbols["ACME"]
	require.NotNil(t, sr)
	assert.Equal(t, models.StatusOK, sr.Status)
	assert.Equal(t, 7, sr.RowsWritten)
	assert.Equal(t, 0, report.ExitCode())

	bars, err := store.FetchBars(context.Background(), []string{"ACME"}, "2020-01-02", "2020-01-10")
	require.NoError(t, err)
	require.Len(t, bars, 7)
	// The Jan 7 gap carries Jan 6 prices forward.
	assert.Equal(t, "2020-01-07", bars[3].Date)
	assert.Equal(t, 103.0, bars[3].Close)
	assert.True(t, bars[3].IsFilled)
	assert.False(t, bars[2].IsFilled)
}

func TestRunRecordsSyncStatus(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME"})
	stub := &stubFetcher{source: models.SourceEquity, frames: map[string]*models.RawFrame{
		"ACME": equityFrame("ACME", []map[string]string{equityRow("2020-01-02", 101, "1000")}),
	}}
	o, store := newTestOrchestrator(t, manifest, stub, 1)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	statuses, err := store.GetSyncStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "ACME", statuses[0].Symbol)
	assert.Equal(t, "ok", statuses[0].Status)
	assert.Equal(t, 7, statuses[0].RowsWritten)
}

func TestRunEmptySymbolWarnsNotFails(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"GHOST"})
	stub := &stubFetcher{source: models.SourceEquity}
	o, store := newTestOrchestrator(t, manifest, stub, 1)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	sr := report.Symbols["GHOST"]
	require.NotNil(t, sr)
	assert.Equal(t, models.StatusEmpty, sr.Status)
	assert.Equal(t, 0, sr.RowsWritten)
	assert.Equal(t, 1, sr.WarnNoObservations)
	assert.Equal(t, 0, report.ExitCode())

	symbols, err := store.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestRunPermanentFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME", "BAD"})
	stub := &stubFetcher{
		source: models.SourceEquity,
		frames: map[string]*models.RawFrame{
			"ACME": equityFrame("ACME", []map[string]string{equityRow("2020-01-02", 101, "1000")}),
		},
		errs: map[string]error{
			"BAD": models.NewPermanentErr("unknown symbol", nil),
		},
	}
	o, _ := newTestOrchestrator(t, manifest, stub, 2)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, report.Symbols["ACME"].Status)
	bad := report.Symbols["BAD"]
	require.NotNil(t, bad)
	assert.Equal(t, models.StatusFailed, bad.Status)
	require.NotNil(t, bad.Error)
	assert.Equal(t, models.ErrKindPermanent, bad.Error.Kind)
	assert.Equal(t, 1, report.ExitCode())
}

func TestRunRateLimitDisablesSource(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"FIRST", "SECOND", "THIRD"})
	stub := &stubFetcher{
		source: models.SourceEquity,
		errs: map[string]error{
			"FIRST": models.NewRateLimitErr("daily quota exhausted"),
		},
	}
	// Single worker keeps manifest order so the disable flag is set before
	// the later tasks start.
	o, _ := newTestOrchestrator(t, manifest, stub, 1)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ErrKindRateLimit, report.Symbols["FIRST"].Error.Kind)
	assert.Equal(t, models.ErrKindSourceDisabled, report.Symbols["SECOND"].Error.Kind)
	assert.Equal(t, models.ErrKindSourceDisabled, report.Symbols["THIRD"].Error.Kind)
	assert.Equal(t, 1, report.ExitCode())
	// Disabled tasks never reach the upstream.
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestRunAliasedSeriesStoredUnderUpstreamID(t *testing.T) {
	dir := t.TempDir()
	manifest := &models.Manifest{
		Venue:  "NYSE",
		Window: models.Window{Start: "2020-01-02", End: "2020-01-10"},
		Sources: []models.SourceSpec{
			{Kind: "macro", Series: []string{"DGS10"}, Aliases: map[string]string{"DGS10": "US10Y"}},
		},
		MissingDataPolicy: "forward_fill",
		Output:            models.Output{StorePath: filepath.Join(dir, "bars.db")},
	}
	stub := &stubFetcher{source: models.SourceMacro, frames: map[string]*models.RawFrame{
		"DGS10": {
			Symbol: "DGS10",
			Source: models.SourceMacro,
			Rows:   []map[string]string{{"date": "2020-01-02", "value": "1.88"}},
		},
	}}
	o, store := newTestOrchestrator(t, manifest, stub, 1)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Symbols["DGS10"])

	// The alias is display metadata; the store and report stay keyed by the
	// upstream id.
	symbols, err := store.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DGS10"}, symbols)
	assert.Nil(t, report.Symbols["US10Y"])
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME"})
	frames := map[string]*models.RawFrame{
		"ACME": equityFrame("ACME", []map[string]string{
			equityRow("2020-01-02", 101, "1000"),
			equityRow("2020-01-03", 102, "1000"),
		}),
	}

	first := &stubFetcher{source: models.SourceEquity, frames: frames}
	o, store := newTestOrchestrator(t, manifest, first, 1)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	second := &stubFetcher{source: models.SourceEquity, frames: frames}
	o2, err := New(Options{
		Manifest:     manifest,
		Fetchers:     map[models.Source]fetcher.Fetcher{second.Source(): second},
		Store:        store,
		Calendars:    calendar.NewProvider(),
		Workers:      1,
		FetchTimeout: 5 * time.Second,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	report, err := o2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, report.Symbols["ACME"].RowsWritten)
	bars, err := store.FetchBars(context.Background(), []string{"ACME"}, "2020-01-02", "2020-01-10")
	require.NoError(t, err)
	assert.Len(t, bars, 7)
}

func TestRunWritesReportFile(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME"})
	manifest.Output.ReportPath = filepath.Join(dir, "report.json")
	stub := &stubFetcher{source: models.SourceEquity, frames: map[string]*models.RawFrame{
		"ACME": equityFrame("ACME", []map[string]string{equityRow("2020-01-02", 101, "1000")}),
	}}
	o, _ := newTestOrchestrator(t, manifest, stub, 1)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(manifest.Output.ReportPath)
	require.NoError(t, err)

	var written models.RunReport
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "NYSE", written.Venue)
	assert.Equal(t, 1, written.Totals.Symbols)
	assert.Equal(t, 7, written.Totals.RowsWritten)
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	manifest := testManifest(dir, []string{"ACME"})
	stub := &stubFetcher{source: models.SourceEquity, frames: map[string]*models.RawFrame{
		"ACME": equityFrame("ACME", []map[string]string{equityRow("2020-01-02", 101, "1000")}),
	}}
	o, _ := newTestOrchestrator(t, manifest, stub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Run(ctx)
	require.NoError(t, err)

	sr := report.Symbols["ACME"]
	require.NotNil(t, sr)
	assert.Equal(t, models.StatusFailed, sr.Status)
	assert.Equal(t, models.ErrKindCancelled, sr.Error.Kind)
}
