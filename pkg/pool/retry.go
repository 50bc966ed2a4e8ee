package pool

import (
	"time"

	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/juju/ratelimit"
)

// RetryConfig bounds a retry wrapper surrounding daemon calls (§4.8:
// "exponential-ish count up to retryLimit").
type RetryConfig struct {
	Limit       int
	BackoffUnit time.Duration
}

// DefaultRetryConfig mirrors the conservative defaults a disk-pool
// daemon client uses absent an explicit RetryLimit directive.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Limit: 5, BackoffUnit: 100 * time.Millisecond}
}

// Retryable reports whether err is worth retrying: transient
// (connection drop, serialization — surfaced as QueryFailed/InternalError)
// vs semantic (permission, not-found) errors are not retried, per §4.8.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch status.FromError(err).Code {
	case status.QueryFailed, status.InternalError:
		return true
	default:
		return false
	}
}

// Retry runs fn up to cfg.Limit+1 times, pacing retries through a
// juju/ratelimit token bucket that starts empty and fills at one token
// per BackoffUnit, so consecutive attempts are spaced about one
// BackoffUnit apart (a fixed spacing, not a growing one). It stops early
// on a non-retryable error or on success.
func Retry(cfg RetryConfig, fn func() error) error {
	if cfg.Limit <= 0 {
		cfg = DefaultRetryConfig()
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultRetryConfig().BackoffUnit
	}
	bucket := ratelimit.NewBucket(cfg.BackoffUnit, int64(cfg.Limit))
	bucket.TakeAvailable(bucket.Capacity())

	var lastErr error
	for attempt := 0; attempt <= cfg.Limit; attempt++ {
		if attempt > 0 {
			bucket.Wait(1)
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return err
		}
	}
	return status.Wrap(lastErr, status.QueryFailed, "exhausted retries")
}
