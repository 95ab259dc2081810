package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/models"
)

// equityColumns is the vendor's native daily schema.
var equityColumns = []string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"}

// EquityClient fetches daily OHLCV from the equity market-data vendor.
type EquityClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// equityResponse is the vendor's daily time-series payload. An "Error
// Message" body means the symbol is unknown; a "Note" or "Information" body
// means the key's request budget is spent for the day.
type equityResponse struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	TimeSeries   map[string]struct {
		Open     string `json:"1. open"`
		High     string `json:"2. high"`
		Low      string `json:"3. low"`
		Close    string `json:"4. close"`
		AdjClose string `json:"5. adjusted close"`
		Volume   string `json:"6. volume"`
	} `json:"Time Series (Daily)"`
}

// NewEquityClient creates an equity vendor client with a per-key token
// bucket. The bucket blocks when empty rather than erroring.
func NewEquityClient(cfg *config.EquityConfig, timeout time.Duration, logger *logrus.Logger) *EquityClient {
	return &EquityClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RateBurst),
		logger:     logger.WithField("component", "equity-fetcher"),
	}
}

// Source returns the equity vendor tag.
func (c *EquityClient) Source() models.Source { return models.SourceEquity }

// Fetch retrieves daily bars for symbol restricted to [start, end].
func (c *EquityClient) Fetch(ctx context.Context, symbol, start, end string) (*models.RawFrame, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	params.Set("symbol", symbol)
	params.Set("outputsize", "full")
	params.Set("apikey", c.apiKey)
	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"start":  start,
		"end":    end,
	}).Debug("Fetching daily series")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, models.NewPermanentErr("failed to create request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewTransientErr(
			fmt.Sprintf("vendor returned status %d: %s", resp.StatusCode, string(body)), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewPermanentErr(
			fmt.Sprintf("vendor rejected credentials: status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, models.NewPermanentErr(
			fmt.Sprintf("vendor returned status %d", resp.StatusCode), nil)
	}

	var payload equityResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, models.NewPermanentErr("malformed vendor response", err)
	}
	if payload.ErrorMessage != "" {
		return nil, models.NewPermanentErr("vendor error: "+payload.ErrorMessage, nil)
	}
	if payload.Note != "" || payload.Information != "" {
		detail := payload.Note
		if detail == "" {
			detail = payload.Information
		}
		return nil, models.NewRateLimitErr("vendor request budget exhausted: " + detail)
	}

	frame := &models.RawFrame{
		Symbol:  symbol,
		Source:  models.SourceEquity,
		Columns: equityColumns,
	}
	dates := make([]string, 0, len(payload.TimeSeries))
	for d := range payload.TimeSeries {
		if d >= start && d <= end {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	for _, d := range dates {
		row := payload.TimeSeries[d]
		frame.Rows = append(frame.Rows, map[string]string{
			"Date":      d,
			"Open":      row.Open,
			"High":      row.High,
			"Low":       row.Low,
			"Close":     row.Close,
			"Adj Close": row.AdjClose,
			"Volume":    row.Volume,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"rows":   len(frame.Rows),
	}).Debug("Fetched daily series")

	return frame, nil
}
