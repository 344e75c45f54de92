package pipeline

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// retryDelay between attempts of a retry-capable step. Ordering-dependent
// imports usually succeed once their prerequisites landed on the previous
// attempt, so a short constant backoff is enough.
var retryDelay = 2 * time.Second

// runWithBudget executes action at most budget times (once when budget is
// zero), returning nil on the first success. On exhaustion the last error is
// wrapped in RetryExhausted.
func runWithBudget(ctx context.Context, budget int, action Action) error {
	if budget <= 1 {
		return action(ctx)
	}
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(budget-1), retry.NewConstant(retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := action(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &RetryExhausted{Attempts: attempts, Err: err}
	}
	return nil
}
