// Package retry runs operations under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the randomization factor in [0, 1].
	Jitter float64
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns 3 attempts starting at 500ms and doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// NoRetry returns a policy that performs exactly one attempt.
func NoRetry() Policy { return Policy{MaxAttempts: 1} }

// Do calls op until it succeeds, returns an error rejected by retryable,
// the attempt budget runs out, or ctx is done. A nil retryable retries every
// error. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) { p.OnRetry(attempts, err, wait) }
	}

	err := backoff.RetryNotify(wrapped, backoff.WithContext(p.backOff(), ctx), notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return attempts, perm.Err
	}
	return attempts, err
}

func (p Policy) backOff() backoff.BackOff {
	maxAttempts := max(p.MaxAttempts, 1)

	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = min(max(p.Jitter, 0), 1)
	// attempt count bounds the loop, not wall time
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(maxAttempts-1)) //nolint:gosec // maxAttempts >= 1
}
