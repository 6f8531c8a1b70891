package main

import (
	"context"
	"log"
	"time"
)

// withRetry runs op until it succeeds, fails with a non-transient error, or
// the attempt budget is spent. Attempt n waits n*base_delay before the next.
func withRetry(ctx context.Context, policy RetryConfig, desc string, op func(context.Context) error) error {
	attempts := max(policy.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) || attempt == attempts {
			return err
		}
		log.Printf("    WARN: %s: %v (attempt %d/%d, retrying)", desc, err, attempt, attempts)
		if !sleepCtx(ctx, time.Duration(attempt)*policy.BaseDelay.Duration) {
			return err
		}
	}
	return err
}

// sleepCtx sleeps for d but returns false early if the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
