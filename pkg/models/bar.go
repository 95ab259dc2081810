package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Source identifies the upstream family a series was ingested from.
type Source string

const (
	SourceEquity    Source = "equity_vendor"
	SourceMacro     Source = "macro_service"
	SourceSynthetic Source = "synthetic"
)

// ParseSource converts a manifest source kind into a Source tag.
func ParseSource(kind string) (Source, error) {
	switch kind {
	case "equity", string(SourceEquity):
		return SourceEquity, nil
	case "macro", string(SourceMacro):
		return SourceMacro, nil
	case string(SourceSynthetic):
		return SourceSynthetic, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", kind)
	}
}

// Bar represents one canonical OHLCV record for one symbol on one date.
// Dates are venue-local, timezone-naive YYYY-MM-DD strings everywhere above
// the I/O edges. Gap rows produced by the flag policy carry NaN prices.
type Bar struct {
	Symbol   string  `json:"symbol"`
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Source   Source  `json:"source"`
	IsFilled bool    `json:"is_filled"`
}

// MarshalJSON renders null prices as JSON null; encoding/json cannot emit NaN.
func (b Bar) MarshalJSON() ([]byte, error) {
	type jsonBar struct {
		Symbol   string   `json:"symbol"`
		Date     string   `json:"date"`
		Open     *float64 `json:"open"`
		High     *float64 `json:"high"`
		Low      *float64 `json:"low"`
		Close    *float64 `json:"close"`
		Volume   int64    `json:"volume"`
		Source   Source   `json:"source"`
		IsFilled bool     `json:"is_filled"`
	}
	opt := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	return json.Marshal(jsonBar{
		Symbol: b.Symbol, Date: b.Date,
		Open: opt(b.Open), High: opt(b.High), Low: opt(b.Low), Close: opt(b.Close),
		Volume: b.Volume, Source: b.Source, IsFilled: b.IsFilled,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON: JSON null prices become NaN.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol   string   `json:"symbol"`
		Date     string   `json:"date"`
		Open     *float64 `json:"open"`
		High     *float64 `json:"high"`
		Low      *float64 `json:"low"`
		Close    *float64 `json:"close"`
		Volume   int64    `json:"volume"`
		Source   Source   `json:"source"`
		IsFilled bool     `json:"is_filled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val := func(v *float64) float64 {
		if v == nil {
			return math.NaN()
		}
		return *v
	}
	b.Symbol, b.Date = raw.Symbol, raw.Date
	b.Open, b.High, b.Low, b.Close = val(raw.Open), val(raw.High), val(raw.Low), val(raw.Close)
	b.Volume, b.Source, b.IsFilled = raw.Volume, raw.Source, raw.IsFilled
	return nil
}

// HasNullPrices reports whether the bar's prices are null (flag-policy gap row).
func (b Bar) HasNullPrices() bool {
	return math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close)
}

// PriceBoundsOK reports whether low <= open, close <= high and low <= high.
// Null-priced rows are vacuously in bounds.
func (b Bar) PriceBoundsOK() bool {
	if b.HasNullPrices() {
		return true
	}
	return b.Low <= b.High &&
		b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High
}

// Frame is one symbol's series of canonical bars, ascending by date. Alias is
// display metadata only; bars are keyed by Symbol everywhere.
type Frame struct {
	Symbol string `json:"symbol"`
	Alias  string `json:"alias,omitempty"`
	Bars   []Bar  `json:"bars"`
}

// Empty reports whether the frame holds no bars.
func (f Frame) Empty() bool { return len(f.Bars) == 0 }

// RawFrame carries source-shaped rows between a fetcher and the normalizer.
// Column names are whatever the upstream uses natively; values are the
// upstream's string representations. Nothing outside the normalizer should
// ever see one of these.
type RawFrame struct {
	Symbol  string              `json:"symbol"`
	Alias   string              `json:"alias,omitempty"`
	Source  Source              `json:"source"`
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// Empty reports whether the upstream returned no rows at all.
func (f *RawFrame) Empty() bool { return f == nil || len(f.Rows) == 0 }

// FillPolicy is the gap-fill rule applied by the aligner.
type FillPolicy string

const (
	FillForward     FillPolicy = "forward_fill"
	FillInterpolate FillPolicy = "interpolate"
	FillFlag        FillPolicy = "flag"
)

// ParseFillPolicy validates a manifest missing_data_policy value. The empty
// string resolves to the forward_fill default.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch FillPolicy(s) {
	case "":
		return FillForward, nil
	case FillForward, FillInterpolate, FillFlag:
		return FillPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown missing_data_policy %q", s)
	}
}
