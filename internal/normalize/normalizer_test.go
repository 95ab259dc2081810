package normalize

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quant-ingest/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCanonicalColumn(t *testing.T) {
	cases := map[string]string{
		"Date":              "date",
		"Open":              "open",
		"Adj Close":         "adj_close",
		"adjusted close":    "adj_close",
		"  Close  ":         "close",
		"1. open":           "open",
		"5. adjusted close": "adj_close",
		"Volume (shares)":   "volume",
		"timestamp":         "date",
		"ticker":            "symbol",
		"HIGH":              "high",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalColumn(in), "column %q", in)
	}
}

func TestNormalizeEquityFrame(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-03", "Open": "101", "High": "102", "Low": "100", "Close": "101.5", "Adj Close": "101.5", "Volume": "1200"},
			{"Date": "2020-01-02", "Open": "100", "High": "101", "Low": "99", "Close": "100.5", "Adj Close": "100.5", "Volume": "1500"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, res.Frame.Bars, 2)

	// Ascending by date regardless of input order.
	assert.Equal(t, "2020-01-02", res.Frame.Bars[0].Date)
	assert.Equal(t, "2020-01-03", res.Frame.Bars[1].Date)
	assert.Equal(t, "ACME", res.Frame.Bars[0].Symbol)
	assert.Equal(t, 100.5, res.Frame.Bars[0].Close)
	assert.Equal(t, int64(1500), res.Frame.Bars[0].Volume)
	assert.False(t, res.Frame.Bars[0].IsFilled)
	assert.Zero(t, res.DroppedBadDate)
}

func TestNormalizeMacroProjection(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "DGS10",
		Source: models.SourceMacro,
		Rows: []map[string]string{
			{"date": "2020-01-02", "value": "1.88"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, res.Frame.Bars, 1)

	bar := res.Frame.Bars[0]
	assert.Equal(t, 1.88, bar.Open)
	assert.Equal(t, 1.88, bar.High)
	assert.Equal(t, 1.88, bar.Low)
	assert.Equal(t, 1.88, bar.Close)
	assert.Equal(t, int64(0), bar.Volume)
	assert.Equal(t, models.SourceMacro, bar.Source)
}

func TestNormalizeAliasStaysMetadata(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "DGS10",
		Alias:  "US10Y",
		Source: models.SourceMacro,
		Rows: []map[string]string{
			{"date": "2020-01-02", "value": "1.88"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	// The alias never replaces the upstream id; bars stay keyed by it.
	assert.Equal(t, "DGS10", res.Frame.Symbol)
	assert.Equal(t, "US10Y", res.Frame.Alias)
	require.Len(t, res.Frame.Bars, 1)
	assert.Equal(t, "DGS10", res.Frame.Bars[0].Symbol)
}

func TestNormalizeDropsBadDates(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "not-a-date", "Open": "1", "High": "1", "Low": "1", "Close": "1", "Volume": "0"},
			{"Date": "01/06/2020", "Open": "1", "High": "1", "Low": "1", "Close": "1", "Volume": "0"},
			{"Date": "2020-01-07T00:00:00Z", "Open": "1", "High": "1", "Low": "1", "Close": "1", "Volume": "0"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DroppedBadDate)
	require.Len(t, res.Frame.Bars, 2)
	// Vendor formats are accepted after strict ISO.
	assert.Equal(t, "2020-01-06", res.Frame.Bars[0].Date)
	assert.Equal(t, "2020-01-07", res.Frame.Bars[1].Date)
}

func TestNormalizeFractionalVolumeFloored(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-02", "Open": "1", "High": "2", "Low": "1", "Close": "1.5", "Volume": "1200.7"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.Frame.Bars[0].Volume)
}

func TestNormalizeNonpositivePriceFlaggedButKept(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-02", "Open": "-1", "High": "2", "Low": "-1", "Close": "1", "Volume": "0"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FlagNonpositivePrice)
	assert.Len(t, res.Frame.Bars, 1)
}

func TestNormalizeOutOfBoundsPriceFlaggedButKept(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-02", "Open": "7", "High": "6", "Low": "4", "Close": "5", "Volume": "0"},
			{"Date": "2020-01-03", "Open": "5", "High": "6", "Low": "4", "Close": "3", "Volume": "0"},
			{"Date": "2020-01-06", "Open": "5", "High": "6", "Low": "4", "Close": "5", "Volume": "0"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	// Open above high and close below low are flagged, not corrected.
	assert.Equal(t, 2, res.FlagPriceBounds)
	require.Len(t, res.Frame.Bars, 3)
	assert.Equal(t, 7.0, res.Frame.Bars[0].Open)
	assert.Equal(t, 3.0, res.Frame.Bars[1].Close)
}

func TestNormalizeLowGtHighDropped(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-02", "Open": "5", "High": "4", "Low": "6", "Close": "5", "Volume": "0"},
			{"Date": "2020-01-03", "Open": "5", "High": "6", "Low": "4", "Close": "5", "Volume": "0"},
		},
	}

	res, err := New(testLogger()).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DroppedLowGtHigh)
	require.Len(t, res.Frame.Bars, 1)
	assert.Equal(t, "2020-01-03", res.Frame.Bars[0].Date)
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := &models.RawFrame{
		Symbol: "ACME",
		Source: models.SourceEquity,
		Rows: []map[string]string{
			{"Date": "2020-01-02", "Open": "100", "High": "101", "Low": "99", "Close": "100.5", "Volume": "1500"},
		},
	}

	n := New(testLogger())
	first, err := n.Normalize(raw)
	require.NoError(t, err)
	second, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
