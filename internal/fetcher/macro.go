package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/models"
)

// macroColumns is the central-bank service's native observation schema.
var macroColumns = []string{"date", "value"}

// MacroClient fetches single-value macroeconomic series from the central-bank
// data service at the series' native frequency.
type MacroClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

type macroResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// NewMacroClient creates a macro service client with its own token bucket.
func NewMacroClient(cfg *config.MacroConfig, timeout time.Duration, logger *logrus.Logger) *MacroClient {
	return &MacroClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RateBurst),
		logger:     logger.WithField("component", "macro-fetcher"),
	}
}

// Source returns the macro service tag.
func (c *MacroClient) Source() models.Source { return models.SourceMacro }

// Fetch retrieves the observations for one series id over [start, end].
// Observations come back at the series' native frequency; the service's
// "." placeholder for missing values is skipped as a non-observation.
func (c *MacroClient) Fetch(ctx context.Context, series, start, end string) (*models.RawFrame, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("series_id", series)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	params.Set("observation_start", start)
	params.Set("observation_end", end)
	fullURL := fmt.Sprintf("%s/series/observations?%s", c.baseURL, params.Encode())

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
	case resp.StatusCode == http.StatusTooManyRequests:
		// The service hands out a fixed request budget; once it answers 429
		// the key is spent for the rest of the run.
		return nil, models.NewRateLimitErr("macro service rate limit exhausted")
	case resp.StatusCode >= 500:
		return nil, models.NewTransientErr(
			fmt.Sprintf("macro service returned status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewPermanentErr(
			fmt.Sprintf("macro service rejected credentials: status %d", resp.StatusCode), nil)
	}

	var payload macroResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, models.NewPermanentErr("malformed macro service response", err)
	}
	if resp.StatusCode != http.StatusOK || payload.ErrorMessage != "" {
		return nil, models.NewPermanentErr(
			fmt.Sprintf("macro service error: %s", payload.ErrorMessage), nil)
	}

	frame := &models.RawFrame{
		Symbol:  series,
		Source:  models.SourceMacro,
		Columns: macroColumns,
	}
	for _, obs := range payload.Observations {
		if obs.Value == "." {
			continue
		}
		frame.Rows = append(frame.Rows, map[string]string{
			"date":  obs.Date,
			"value": obs.Value,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"series": series,
		"rows":   len(frame.Rows),
	}).Debug("Fetched macro series")

	return frame, nil
}
