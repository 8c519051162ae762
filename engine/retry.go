package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how a failed fetch is retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int // default: 3

	// Floor and Ceiling bound the exponential wait between tries.
	Floor   time.Duration // default: 2s
	Ceiling time.Duration // default: 10s
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Floor: 2 * time.Second, Ceiling: 10 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	floor := p.Floor
	if floor <= 0 {
		floor = time.Nanosecond
	}
	ceiling := p.Ceiling
	if ceiling < floor {
		ceiling = floor
	}

	b := retry.NewExponential(floor)
	b = retry.WithCappedDuration(ceiling, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Retrying wraps an Engine and retries every failed fetch under a policy.
// Context cancellation is never retried.
type Retrying struct {
	next   Engine
	policy RetryPolicy

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(url string, attempt int, err error)
}

// NewRetrying decorates next with the given policy.
func NewRetrying(next Engine, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) Name() string { return "retry(" + r.next.Name() + ")" }

// Fetch tries the wrapped engine until it succeeds or the policy is
// exhausted, then returns the last error.
func (r *Retrying) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	var (
		result  *FetchResult
		attempt int
	)
	err := retry.Do(ctx, r.policy.backoff(), func(ctx context.Context) error {
		attempt++
		res, err := r.next.Fetch(ctx, req)
		if err == nil {
			result = res
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if r.OnRetry != nil && attempt < r.policy.Attempts {
			r.OnRetry(req.URL, attempt, err)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
