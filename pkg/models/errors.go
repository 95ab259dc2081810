package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a task-terminal error for the run report.
type ErrorKind string

const (
	ErrKindTransient      ErrorKind = "transient"
	ErrKindPermanent      ErrorKind = "permanent"
	ErrKindRateLimit      ErrorKind = "rate_limit"
	ErrKindSourceDisabled ErrorKind = "source_disabled"
	ErrKindCancelled      ErrorKind = "cancelled"
	ErrKindPersist        ErrorKind = "persist"
)

// FetchError is the tagged error returned by source fetchers. The retry
// policy keys off Kind instead of catching anything broader.
type FetchError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fetch error: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %s", e.Kind, e.Detail)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewTransientErr wraps a retryable upstream failure (network, timeout, 5xx,
// throttling not marked exhausted).
func NewTransientErr(detail string, err error) *FetchError {
	return &FetchError{Kind: ErrKindTransient, Detail: detail, Err: err}
}

// NewPermanentErr wraps a non-retryable upstream failure (unknown symbol,
// auth failure, malformed response).
func NewPermanentErr(detail string, err error) *FetchError {
	return &FetchError{Kind: ErrKindPermanent, Detail: detail, Err: err}
}

// NewRateLimitErr marks rate-limit exhaustion; it disables the source for
// the remainder of the run.
func NewRateLimitErr(detail string) *FetchError {
	return &FetchError{Kind: ErrKindRateLimit, Detail: detail}
}

// IsTransient reports whether err should participate in the retry policy.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == ErrKindTransient
}

// IsRateLimit reports whether err is rate-limit exhaustion.
func IsRateLimit(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == ErrKindRateLimit
}

// KindOf maps an arbitrary task error onto its report kind. A tagged
// FetchError keeps its kind even when it wraps a context error; a timed-out
// attempt is transient, not cancelled.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCancelled
	}
	return ErrKindPermanent
}

// ManifestError is a fatal pre-task manifest problem; it maps to exit code 2.
type ManifestError struct {
	Detail string
}

func (e *ManifestError) Error() string { return "manifest: " + e.Detail }

// MissingCredentialError is raised when a manifest names a source whose
// credential env var is absent. Fatal pre-task, exit code 2.
type MissingCredentialError struct {
	Source  Source
	EnvName string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing credential %s for source %s", e.EnvName, e.Source)
}
