package movies

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newRetryPolicy doubles the wait from initial up to maxInterval and stops
// after retries further attempts or when ctx is done. A zero maxInterval keeps
// the library default cap.
func newRetryPolicy(ctx context.Context, initial, maxInterval time.Duration, retries int) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	if maxInterval > 0 {
		policy.MaxInterval = maxInterval
	}
	policy.Reset()
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)
}

// permanentOnNotFound stops retrying once the movie is gone.
func permanentOnNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return backoff.Permanent(err)
	}
	return err
}
