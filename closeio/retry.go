package closeio

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryInterval = 2 * time.Second
)

// RetryPolicy bounds how often a request is re-sent after a transient transport failure.
// Structured API errors are never retried.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy is a fixed 2s backoff with at most 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultRetryAttempts, Interval: DefaultRetryInterval}
}

// NewBackOff returns a fresh backoff for one request. MaxAttempts below 1 means a single attempt.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(retries)),
		ctx,
	)
}
