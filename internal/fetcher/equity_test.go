package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newEquityTestClient(serverURL string) *EquityClient {
	cfg := &config.EquityConfig{
		APIKey:        "test-key",
		BaseURL:       serverURL,
		RatePerMinute: 6000,
		RateBurst:     100,
	}
	return NewEquityClient(cfg, 5*time.Second, testLogger())
}

func TestEquityFetchHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ACME", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`{
			"Time Series (Daily)": {
				"2020-01-03": {"1. open": "100.5", "2. high": "101.0", "3. low": "100.0", "4. close": "100.8", "5. adjusted close": "100.8", "6. volume": "12000"},
				"2020-01-02": {"1. open": "99.5", "2. high": "100.2", "3. low": "99.1", "4. close": "100.0", "5. adjusted close": "100.0", "6. volume": "15000"},
				"2019-12-31": {"1. open": "98.0", "2. high": "99.0", "3. low": "97.5", "4. close": "98.8", "5. adjusted close": "98.8", "6. volume": "9000"}
			}
		}`))
	}))
	defer srv.Close()

	frame, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "ACME", "2020-01-01", "2020-01-10")
	require.NoError(t, err)
	require.Len(t, frame.Rows, 2) // 2019-12-31 is outside the window
	assert.Equal(t, models.SourceEquity, frame.Source)
	assert.Equal(t, "2020-01-02", frame.Rows[0]["Date"])
	assert.Equal(t, "100.0", frame.Rows[0]["Close"])
	assert.Equal(t, "2020-01-03", frame.Rows[1]["Date"])
}

func TestEquityFetchNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Time Series (Daily)": {}}`))
	}))
	defer srv.Close()

	frame, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "NODATA", "2020-01-01", "2020-01-10")
	require.NoError(t, err)
	assert.True(t, frame.Empty())
}

func TestEquityFetchUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call for symbol BOGUS"}`))
	}))
	defer srv.Close()

	_, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "BOGUS", "2020-01-01", "2020-01-10")
	require.Error(t, err)
	assert.Equal(t, models.ErrKindPermanent, models.KindOf(err))
}

func TestEquityFetchThrottleNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using our API. Your call frequency limit has been reached."}`))
	}))
	defer srv.Close()

	_, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "ACME", "2020-01-01", "2020-01-10")
	require.Error(t, err)
	assert.True(t, models.IsRateLimit(err))
}

func TestEquityFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "ACME", "2020-01-01", "2020-01-10")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestEquityFetchAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newEquityTestClient(srv.URL).Fetch(context.Background(), "ACME", "2020-01-01", "2020-01-10")
	require.Error(t, err)
	assert.Equal(t, models.ErrKindPermanent, models.KindOf(err))
}

func TestMacroFetchObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DGS10", r.URL.Query().Get("series_id"))
		w.Write([]byte(`{"observations": [
			{"date": "2020-01-02", "value": "1.88"},
			{"date": "2020-01-03", "value": "."},
			{"date": "2020-01-06", "value": "1.81"}
		]}`))
	}))
	defer srv.Close()

	cfg := &config.MacroConfig{APIKey: "k", BaseURL: srv.URL, RatePerMinute: 6000, RateBurst: 100}
	frame, err := NewMacroClient(cfg, 5*time.Second, testLogger()).Fetch(context.Background(), "DGS10", "2020-01-01", "2020-01-10")
	require.NoError(t, err)
	require.Len(t, frame.Rows, 2) // the "." placeholder row is skipped
	assert.Equal(t, "1.88", frame.Rows[0]["value"])
	assert.Equal(t, models.SourceMacro, frame.Source)
}

func TestMacroFetchRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := &config.MacroConfig{APIKey: "k", BaseURL: srv.URL, RatePerMinute: 6000, RateBurst: 100}
	_, err := NewMacroClient(cfg, 5*time.Second, testLogger()).Fetch(context.Background(), "DGS10", "2020-01-01", "2020-01-10")
	require.Error(t, err)
	assert.True(t, models.IsRateLimit(err))
}
