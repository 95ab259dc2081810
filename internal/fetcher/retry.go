package fetcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quant-ingest/pkg/models"
)

// RetryPolicy governs retries on transient upstream failures. Non-retryable
// errors propagate immediately; delays are wall-clock waits on the calling
// goroutine.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Strategy    string // "exponential" or "linear"
	Retryable   func(error) bool
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 2s base delay,
// exponential backoff, transient errors only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		Strategy:    "exponential",
		Retryable:   models.IsTransient,
	}
}

// WithOverrides applies manifest retry overrides on top of the policy.
func (p RetryPolicy) WithOverrides(o *models.RetryOverride) (RetryPolicy, error) {
	if o == nil {
		return p, nil
	}
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay != "" {
		d, err := time.ParseDuration(o.BaseDelay)
		if err != nil || d <= 0 {
			return p, &models.ManifestError{Detail: fmt.Sprintf("retry.base_delay %q is not a positive duration", o.BaseDelay)}
		}
		p.BaseDelay = d
	}
	if o.Strategy != "" {
		if o.Strategy != "exponential" && o.Strategy != "linear" {
			return p, &models.ManifestError{Detail: fmt.Sprintf("retry.strategy %q is not exponential or linear", o.Strategy)}
		}
		p.Strategy = o.Strategy
	}
	return p, nil
}

// Do runs fn up to MaxAttempts times, sleeping between attempts per the
// backoff strategy. Context cancellation interrupts the wait.
func (p RetryPolicy) Do(ctx context.Context, logger *logrus.Entry, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt - 1)
			logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Warn("Retrying after transient error")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
	}
	return err
}

// delay computes the wait before retry number attempt+1.
func (p RetryPolicy) delay(attempt int) time.Duration {
	switch p.Strategy {
	case "linear":
		return p.BaseDelay * time.Duration(attempt+1)
	default:
		return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	}
}
