package apierr

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryOptions configures WithRetry. MaxRetries counts total attempts.
type RetryOptions struct {
	MaxRetries int
	Delay      time.Duration
	Operation  string
}

func (o *RetryOptions) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
}

// WithRetry runs op until it succeeds, attempts run out or ctx ends. Waits
// grow as delay*2^(attempt-1). Errors that retrying cannot fix (validation,
// auth, not found) stop immediately. The last error is returned unclassified.
func WithRetry[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	opts.defaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Delay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = opts.Delay << uint(opts.MaxRetries)

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !Recoverable(Classify(err, opts.Operation)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Printf("retry %s: attempt %d failed: %v (next in %s)", opts.Operation, attempt, err, wait)
		}),
	)
}
