package notify

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how many times a channel send is attempted within one
// dispatch. An alert whose sends exhaust the policy stays pending and is
// picked up again on the next monitor cycle.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultRetryPolicy matches the dispatch defaults: three attempts with
// short in-cycle backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context is
// cancelled. The delay before retry i is Delays[i-1], reusing the last delay
// when attempts outnumber delays.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if err := p.wait(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	if len(p.Delays) == 0 {
		return nil
	}
	idx := attempt - 1
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}

	timer := time.NewTimer(p.Delays[idx])
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
