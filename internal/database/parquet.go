package database

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"github.com/quant-ingest/pkg/models"
)

// parquetRow is the columnar mirror's row shape. The symbol is the file name,
// so it is not repeated per row. Null prices are optional fields.
type parquetRow struct {
	Date     string   `parquet:"date"`
	Open     *float64 `parquet:"open,optional"`
	High     *float64 `parquet:"high,optional"`
	Low      *float64 `parquet:"low,optional"`
	Close    *float64 `parquet:"close,optional"`
	Volume   int64    `parquet:"volume"`
	Source   string   `parquet:"source"`
	IsFilled bool     `parquet:"is_filled"`
}

// Mirror writes one parquet file per symbol alongside the sqlite store. The
// mirror is derived data; a failed mirror write fails the task but never
// corrupts the store.
type Mirror struct {
	dir    string
	logger *logrus.Logger
}

// NewMirror creates the mirror directory if needed.
func NewMirror(dir string, logger *logrus.Logger) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &Mirror{dir: dir, logger: logger}, nil
}

// WriteFrame replaces the symbol's parquet file with the frame's bars. Bars
// arrive date-sorted from the aligner and are written in that order.
func (m *Mirror) WriteFrame(ctx context.Context, frame *models.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]parquetRow, 0, len(frame.Bars))
	for _, bar := range frame.Bars {
		rows = append(rows, parquetRow{
			Date:     bar.Date,
			Open:     optFloat(bar.Open),
			High:     optFloat(bar.High),
			Low:      optFloat(bar.Low),
			Close:    optFloat(bar.Close),
			Volume:   bar.Volume,
			Source:   string(bar.Source),
			IsFilled: bar.IsFilled,
		})
	}

	path := m.Path(frame.Symbol)
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet mirror for %s: %w", frame.Symbol, err)
	}
	m.logger.WithFields(logrus.Fields{
		"symbol": frame.Symbol,
		"rows":   len(rows),
		"path":   path,
	}).Debug("Wrote columnar mirror")
	return nil
}

// Path returns the mirror file for a symbol.
func (m *Mirror) Path(symbol string) string {
	return filepath.Join(m.dir, symbol+".parquet")
}

func optFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
