package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// TaskStatus is the terminal state of one ingestion task.
type TaskStatus string

const (
	StatusOK     TaskStatus = "ok"
	StatusEmpty  TaskStatus = "empty"
	StatusFailed TaskStatus = "failed"
)

// ReportError is the structured terminal error of a failed task. No stack
// traces cross the report surface.
type ReportError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// SymbolReport records one symbol's outcome and data-quality counters.
type SymbolReport struct {
	Status               TaskStatus   `json:"status"`
	RowsWritten          int          `json:"rows_written"`
	DroppedBadDate       int          `json:"dropped_bad_date,omitempty"`
	DedupedDuplicate     int          `json:"deduped_duplicate,omitempty"`
	FlagNonpositivePrice int          `json:"flag_nonpositive_price,omitempty"`
	FlagPriceBounds      int          `json:"flag_price_bounds,omitempty"`
	WarnNoObservations   int          `json:"warn_no_observations,omitempty"`
	InvariantLowGtHigh   int          `json:"invariant_low_gt_high,omitempty"`
	Error                *ReportError `json:"error,omitempty"`
}

// Totals summarizes a run across symbols.
type Totals struct {
	Symbols              int `json:"symbols"`
	OK                   int `json:"ok"`
	Empty                int `json:"empty"`
	Failed               int `json:"failed"`
	RowsWritten          int `json:"rows_written"`
	DroppedBadDate       int `json:"dropped_bad_date"`
	DedupedDuplicate     int `json:"deduped_duplicate"`
	FlagNonpositivePrice int `json:"flag_nonpositive_price"`
	FlagPriceBounds      int `json:"flag_price_bounds"`
	WarnNoObservations   int `json:"warn_no_observations"`
	InvariantLowGtHigh   int `json:"invariant_low_gt_high"`
}

// RunReport is the run's structured output document.
type RunReport struct {
	Venue      string                   `json:"venue"`
	Window     Window                   `json:"window"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Symbols    map[string]*SymbolReport `json:"symbols"`
	Totals     Totals                   `json:"totals"`
}

// NewRunReport starts a report for the given venue and resolved window.
func NewRunReport(venue string, window Window) *RunReport {
	return &RunReport{
		Venue:     venue,
		Window:    window,
		StartedAt: time.Now().UTC(),
		Symbols:   make(map[string]*SymbolReport),
	}
}

// Record stores one symbol's outcome.
func (r *RunReport) Record(symbol string, sr *SymbolReport) {
	r.Symbols[symbol] = sr
}

// Finalize stamps the finish time and recomputes totals.
func (r *RunReport) Finalize() {
	r.FinishedAt = time.Now().UTC()
	t := Totals{Symbols: len(r.Symbols)}
	for _, sr := range r.Symbols {
		switch sr.Status {
		case StatusOK:
			t.OK++
		case StatusEmpty:
			t.Empty++
		case StatusFailed:
			t.Failed++
		}
		t.RowsWritten += sr.RowsWritten
		t.DroppedBadDate += sr.DroppedBadDate
		t.DedupedDuplicate += sr.DedupedDuplicate
		t.FlagNonpositivePrice += sr.FlagNonpositivePrice
		t.FlagPriceBounds += sr.FlagPriceBounds
		t.WarnNoObservations += sr.WarnNoObservations
		t.InvariantLowGtHigh += sr.InvariantLowGtHigh
	}
	r.Totals = t
}

// ExitCode maps run outcomes onto the process exit contract: 0 when every
// entry ended ok or empty, 1 when any entry failed.
func (r *RunReport) ExitCode() int {
	if r.Totals.Failed > 0 {
		return 1
	}
	return 0
}

// SymbolNames returns the reported symbols in stable order.
func (r *RunReport) SymbolNames() []string {
	names := make([]string, 0, len(r.Symbols))
	for s := range r.Symbols {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

// WriteFile writes the report as indented JSON.
func (r *RunReport) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
