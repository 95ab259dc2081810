package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quant-ingest/internal/cache"
	"github.com/quant-ingest/pkg/models"
)

func fastRetry(attempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.BaseDelay = time.Millisecond
	return p
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), testLogger().WithField("t", t.Name()), func() error {
		calls++
		if calls < 3 {
			return models.NewTransientErr("flaky", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), testLogger().WithField("t", t.Name()), func() error {
		calls++
		return models.NewTransientErr("always down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, models.IsTransient(err))
}

func TestRetryPermanentNotRetried(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), testLogger().WithField("t", t.Name()), func() error {
		calls++
		return models.NewPermanentErr("bad symbol", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRateLimitNotRetried(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), testLogger().WithField("t", t.Name()), func() error {
		calls++
		return models.NewRateLimitErr("budget spent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, models.IsRateLimit(err))
}

func TestRetryCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastRetry(3)
	p.BaseDelay = time.Minute

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, testLogger().WithField("t", t.Name()), func() error {
			return models.NewTransientErr("down", nil)
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	exp := RetryPolicy{BaseDelay: 2 * time.Second, Multiplier: 2, Strategy: "exponential"}
	assert.Equal(t, 2*time.Second, exp.delay(0))
	assert.Equal(t, 4*time.Second, exp.delay(1))
	assert.Equal(t, 8*time.Second, exp.delay(2))

	lin := RetryPolicy{BaseDelay: 2 * time.Second, Strategy: "linear"}
	assert.Equal(t, 2*time.Second, lin.delay(0))
	assert.Equal(t, 4*time.Second, lin.delay(1))
	assert.Equal(t, 6*time.Second, lin.delay(2))
}

func TestRetryOverrides(t *testing.T) {
	p, err := DefaultRetryPolicy().WithOverrides(&models.RetryOverride{
		MaxAttempts: 5, BaseDelay: "500ms", Strategy: "linear",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, "linear", p.Strategy)

	_, err = DefaultRetryPolicy().WithOverrides(&models.RetryOverride{Strategy: "fibonacci"})
	var manifestErr *models.ManifestError
	assert.ErrorAs(t, err, &manifestErr)

	_, err = DefaultRetryPolicy().WithOverrides(&models.RetryOverride{BaseDelay: "fast"})
	assert.ErrorAs(t, err, &manifestErr)
}

type countingFetcher struct {
	calls int
	frame *models.RawFrame
}

func (f *countingFetcher) Source() models.Source { return models.SourceEquity }

func (f *countingFetcher) Fetch(context.Context, string, string, string) (*models.RawFrame, error) {
	f.calls++
	return f.frame, nil
}

func TestCachedFetcherHitSkipsUpstream(t *testing.T) {
	inner := &countingFetcher{frame: &models.RawFrame{
		Symbol: "ACME", Source: models.SourceEquity,
		Rows: []map[string]string{{"Date": "2020-01-02", "Close": "100"}},
	}}
	cached := NewCached(inner, cache.NewMemory(0))

	first, err := cached.Fetch(context.Background(), "ACME", "2020-01-02", "2020-01-10")
	require.NoError(t, err)
	second, err := cached.Fetch(context.Background(), "ACME", "2020-01-02", "2020-01-10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	// A different window misses the cache.
	_, err = cached.Fetch(context.Background(), "ACME", "2020-01-02", "2020-02-10")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
