// Package resilience provides typed stage outcomes, retry with backoff and a
// per-key circuit breaker for calls to external services.
package resilience

import (
	"context"
	"errors"
	"time"
)

// Kind is the typed result of one attempt at a stage or remote call.
type Kind int

const (
	// Success means the attempt completed.
	Success Kind = iota
	// Transient failures may succeed if the same attempt is repeated.
	Transient
	// Permanent failures reproduce on retry and need new input.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an attempt's error onto a Kind. shouldRetry may be nil, in
// which case IsTransient decides. Context cancellation is always permanent.
func Classify(err error, shouldRetry func(error) bool) Kind {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return Permanent
	}
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	if shouldRetry(err) {
		return Transient
	}
	return Permanent
}

// Decision is what to do after an attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide is the retry policy: retry only transient outcomes while attempts
// remain, waiting the backoff for that attempt. attempt is zero-based.
func Decide(kind Kind, attempt int, cfg RetryConfig) Decision {
	cfg = applyDefaults(cfg)
	if kind != Transient || attempt >= cfg.MaxAttempts-1 {
		return Decision{}
	}
	return Decision{Retry: true, Delay: computeBackoff(attempt, cfg)}
}
