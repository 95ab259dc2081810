package normalize

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quant-ingest/pkg/models"
)

// columnAliases remaps canonicalized vendor column names onto the internal
// schema. Canonicalization lower-cases, trims, strips parenthetical
// qualifiers and leading enumeration prefixes before this map applies.
var columnAliases = map[string]string{
	"adj_close":      "adj_close",
	"adjusted_close": "adj_close",
	"timestamp":      "date",
	"datetime":       "date",
	"ticker":         "symbol",
	"last":           "close",
	"vol":            "volume",
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	enumPrefix    = regexp.MustCompile(`^\d+\.\s*`)
	spaces        = regexp.MustCompile(`\s+`)
)

// dateLayouts is tried in order: strict ISO-8601 first, vendor-specific
// formats second.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006/01/02",
	"20060102",
}

// Result carries a normalized frame plus the data-quality counters the run
// report aggregates.
type Result struct {
	Frame                models.Frame
	DroppedBadDate       int
	FlagNonpositivePrice int
	FlagPriceBounds      int
	DroppedLowGtHigh     int
}

// Normalizer converts source-native rows into canonical bars. It is the only
// component that ever sees source-shaped data.
type Normalizer struct {
	logger *logrus.Entry
}

// New creates a normalizer.
func New(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger.WithField("component", "normalizer")}
}

// Normalize converts one raw frame into canonical bars, ascending by date.
// Duplicate dates survive normalization; the aligner dedupes and counts them.
func (n *Normalizer) Normalize(raw *models.RawFrame) (*Result, error) {
	if raw == nil {
		return nil, fmt.Errorf("normalize: nil raw frame")
	}
	if raw.Symbol == "" {
		return nil, fmt.Errorf("normalize: raw frame without symbol")
	}

	// The alias rides along as display metadata; bars stay keyed by the
	// upstream id.
	symbol := raw.Symbol
	res := &Result{Frame: models.Frame{Symbol: symbol, Alias: raw.Alias}}
	log := n.logger.WithField("symbol", symbol)

	for _, rawRow := range raw.Rows {
		row := make(map[string]string, len(rawRow))
		for col, val := range rawRow {
			row[CanonicalColumn(col)] = strings.TrimSpace(val)
		}

		date, ok := parseDate(row["date"])
		if !ok {
			res.DroppedBadDate++
			log.WithField("date", row["date"]).Debug("Dropping row with unparseable date")
			continue
		}

		bar, err := n.buildBar(raw, symbol, row, date)
		if err != nil {
			res.DroppedBadDate++
			log.WithError(err).Debug("Dropping malformed row")
			continue
		}

		if bar.Low > bar.High {
			res.DroppedLowGtHigh++
			log.WithField("date", date).Warn("Dropping row with low > high")
			continue
		}
		// Open or close outside [low, high] is flagged, never corrected.
		if !bar.PriceBoundsOK() {
			res.FlagPriceBounds++
			log.WithField("date", date).Warn("Row has open or close outside the low/high range")
		}
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			res.FlagNonpositivePrice++
			log.WithField("date", date).Warn("Row has non-positive price")
		}

		res.Frame.Bars = append(res.Frame.Bars, bar)
	}

	sort.SliceStable(res.Frame.Bars, func(i, j int) bool {
		return res.Frame.Bars[i].Date < res.Frame.Bars[j].Date
	})
	return res, nil
}

// buildBar assembles one canonical bar from a canonicalized row. Macro rows
// carry a single value projected into all four price fields.
func (n *Normalizer) buildBar(raw *models.RawFrame, symbol string, row map[string]string, date string) (models.Bar, error) {
	bar := models.Bar{
		Symbol: symbol,
		Date:   date,
		Source: raw.Source,
	}

	if raw.Source == models.SourceMacro {
		v, err := strconv.ParseFloat(row["value"], 64)
		if err != nil {
			return bar, fmt.Errorf("bad value %q: %w", row["value"], err)
		}
		bar.Open, bar.High, bar.Low, bar.Close = v, v, v, v
		return bar, nil
	}

	var err error
	if bar.Open, err = strconv.ParseFloat(row["open"], 64); err != nil {
		return bar, fmt.Errorf("bad open %q: %w", row["open"], err)
	}
	if bar.High, err = strconv.ParseFloat(row["high"], 64); err != nil {
		return bar, fmt.Errorf("bad high %q: %w", row["high"], err)
	}
	if bar.Low, err = strconv.ParseFloat(row["low"], 64); err != nil {
		return bar, fmt.Errorf("bad low %q: %w", row["low"], err)
	}
	if bar.Close, err = strconv.ParseFloat(row["close"], 64); err != nil {
		return bar, fmt.Errorf("bad close %q: %w", row["close"], err)
	}

	if vol := row["volume"]; vol != "" {
		f, err := strconv.ParseFloat(vol, 64)
		if err != nil {
			return bar, fmt.Errorf("bad volume %q: %w", vol, err)
		}
		if f != math.Floor(f) {
			n.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"date":   date,
				"volume": vol,
			}).Warn("Flooring fractional volume")
		}
		bar.Volume = int64(math.Floor(f))
	}
	return bar, nil
}

// CanonicalColumn normalizes a source column name: lower-case, parenthetical
// qualifiers and enumeration prefixes stripped, spaces collapsed to
// underscores, then known aliases remapped.
func CanonicalColumn(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = enumPrefix.ReplaceAllString(s, "")
	s = parenthetical.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = spaces.ReplaceAllString(s, "_")
	if alias, ok := columnAliases[s]; ok {
		return alias
	}
	return s
}

// parseDate parses strict-then-permissive and renders YYYY-MM-DD.
func parseDate(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
