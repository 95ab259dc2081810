package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/quant-ingest/pkg/models"
)

// Store is the file-backed relational store for aligned bars. Writes go
// through a single-connection handle so the store has exactly one writer at
// a time; reads use a separate multi-connection handle.
type Store struct {
	write  *sql.DB
	read   *sql.DB
	path   string
	logger *logrus.Entry
}

// Open opens (or creates) the store at path and ensures the bookkeeping
// tables exist. The bars table itself is validated lazily on first write so
// a pre-existing schema can be inspected and extended.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for writing: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("failed to open store for reading: %w", err)
	}
	read.SetMaxOpenConns(4)

	s := &Store{
		write:  write,
		read:   read,
		path:   path,
		logger: logger.WithField("component", "store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.write.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	if err := s.ensureSyncStatusTable(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes both connection handles.
func (s *Store) Close() error {
	var firstErr error
	if err := s.write.Close(); err != nil {
		firstErr = err
	}
	if err := s.read.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Health checks store connectivity.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.read.PingContext(ctx)
}

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// UpsertBars writes one symbol's aligned bars in a single transaction.
// Conflicts on (symbol, date) replace the existing row; a failed batch rolls
// back atomically. Bars must arrive in ascending date order.
func (s *Store) UpsertBars(ctx context.Context, frame models.Frame) (int, error) {
	if frame.Empty() {
		return 0, nil
	}
	if err := s.ValidateBarSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, date, open, high, low, close, volume, source, is_filled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open=excluded.open,
			high=excluded.high,
			low=excluded.low,
			close=excluded.close,
			volume=excluded.volume,
			source=excluded.source,
			is_filled=excluded.is_filled`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, bar := range frame.Bars {
		isFilled := 0
		if bar.IsFilled {
			isFilled = 1
		}
		_, err := stmt.ExecContext(ctx,
			bar.Symbol, bar.Date,
			nullFloat(bar.Open), nullFloat(bar.High), nullFloat(bar.Low), nullFloat(bar.Close),
			bar.Volume, string(bar.Source), isFilled,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to upsert bar %s/%s: %w", bar.Symbol, bar.Date, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bars: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"symbol": frame.Symbol,
		"rows":   count,
	}).Debug("Upserted bars")
	return count, nil
}

// ListSymbols returns the distinct symbols present in the bars table.
func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	if ok, err := s.tableExists(ctx, "bars"); err != nil || !ok {
		return nil, err
	}
	rows, err := s.read.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// FetchBars returns bars for the given symbols over [start, end], ordered by
// symbol then date. An empty symbol slice selects every symbol.
func (s *Store) FetchBars(ctx context.Context, symbols []string, start, end string) ([]models.Bar, error) {
	if ok, err := s.tableExists(ctx, "bars"); err != nil || !ok {
		return nil, err
	}

	query := `
		SELECT symbol, date, open, high, low, close, volume, source, is_filled
		FROM bars
		WHERE date >= ? AND date <= ?`
	args := []any{start, end}
	if len(symbols) > 0 {
		query += ` AND symbol IN (?` + repeatPlaceholder(len(symbols)-1) + `)`
		for _, sym := range symbols {
			args = append(args, sym)
		}
	}
	query += ` ORDER BY symbol, date`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var (
			bar                   models.Bar
			open, high, low, clos sql.NullFloat64
			source                string
			isFilled              sql.NullInt64
		)
		if err := rows.Scan(&bar.Symbol, &bar.Date, &open, &high, &low, &clos, &bar.Volume, &source, &isFilled); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar.Open = floatOrNaN(open)
		bar.High = floatOrNaN(high)
		bar.Low = floatOrNaN(low)
		bar.Close = floatOrNaN(clos)
		bar.Source = models.Source(source)
		bar.IsFilled = isFilled.Valid && isFilled.Int64 != 0
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// Sync status bookkeeping

func (s *Store) ensureSyncStatusTable(ctx context.Context) error {
	_, err := s.write.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_status (
			symbol TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			rows_written INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create sync_status table: %w", err)
	}
	return nil
}

// UpdateSyncStatus upserts a symbol's ingestion state.
func (s *Store) UpdateSyncStatus(ctx context.Context, symbol, status string, rowsWritten int, errDetail string) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO sync_status (symbol, status, rows_written, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			status=excluded.status,
			rows_written=excluded.rows_written,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		symbol, status, rowsWritten, errDetail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// GetSyncStatuses returns every symbol's last recorded ingestion state.
func (s *Store) GetSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT symbol, status, rows_written, COALESCE(error, ''), updated_at
		FROM sync_status ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer rows.Close()

	var statuses []models.SyncStatus
	for rows.Next() {
		var (
			st models.SyncStatus
			ts string
		)
		if err := rows.Scan(&st.Symbol, &st.Status, &st.RowsWritten, &st.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		st.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.read.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return true, nil
}

func nullFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}
