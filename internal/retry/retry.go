// Package retry re-runs idempotent store operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retry loop.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy retries up to three times starting at 100ms.
var DefaultPolicy = Policy{
	Attempts:     4,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
}

// NoRetry runs the operation exactly once.
var NoRetry = Policy{Attempts: 1}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done. Errors matching any of permanent are not retried.
func Do(ctx context.Context, p Policy, op func(context.Context) error, permanent ...error) error {
	if p.Attempts <= 1 {
		return op(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		for _, target := range permanent {
			if errors.Is(err, target) {
				return backoff.Permanent(err)
			}
		}
		return err
	}, b)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), permanent ...error) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, permanent...)
	return out, err
}
