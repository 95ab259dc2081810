package fetcher

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/quant-ingest/internal/cache"
	"github.com/quant-ingest/pkg/models"
)

// Fetcher retrieves the raw series for one symbol over a date window from a
// specific upstream. An empty RawFrame (no rows) means the upstream had no
// data for the symbol; that is not an error.
type Fetcher interface {
	Source() models.Source
	Fetch(ctx context.Context, symbol, start, end string) (*models.RawFrame, error)
}

// classifyTransportErr maps transport-level failures onto the fetch error
// taxonomy. Timeouts and connection errors are transient; context
// cancellation propagates as-is so the task reports cancelled.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewTransientErr("request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewTransientErr("request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return models.NewTransientErr("network error", err)
	}
	return models.NewTransientErr("transport error", err)
}

// Cached wraps a fetcher with a raw-response cache. A hit skips the upstream
// entirely; anything else falls through and populates the cache on success.
type Cached struct {
	inner Fetcher
	cache cache.Cache
}

// NewCached wraps inner with c.
func NewCached(inner Fetcher, c cache.Cache) *Cached {
	return &Cached{inner: inner, cache: c}
}

// Source returns the wrapped fetcher's source tag.
func (c *Cached) Source() models.Source { return c.inner.Source() }

// Fetch returns the cached response when present, otherwise fetches and
// caches. Empty results are cached too; "no data" is a valid answer.
func (c *Cached) Fetch(ctx context.Context, symbol, start, end string) (*models.RawFrame, error) {
	key := cache.Key(c.inner.Source(), symbol, start, end)
	if frame, ok := c.cache.GetRawFrame(ctx, key); ok {
		return frame, nil
	}
	frame, err := c.inner.Fetch(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	_ = c.cache.SetRawFrame(ctx, key, frame)
	return frame, nil
}
