package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/sift/internal/providers"
)

// Outer retry budget for one invocation.
const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

// retryPolicy retries an invocation on transient network faults with
// doubling delays. API status errors are never retried here; the gateway
// already spent its own retry budget on them.
type retryPolicy struct {
	attempts uint
	delay    time.Duration
	timer    retry.Timer
	logger   *slog.Logger
}

func defaultRetryPolicy(logger *slog.Logger) retryPolicy {
	return retryPolicy{attempts: DefaultAttempts, delay: DefaultRetryDelay, logger: logger}
}

// do runs fn until it succeeds, fails permanently or the budget is spent.
// It returns the number of attempts made. A *providers.APIError comes back
// unwrapped; every other failure is an *InvocationError.
func (p retryPolicy) do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && providers.IsTransient(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= p.attempts {
				return
			}
			p.logger.Warn("transient failure, retrying invocation",
				"attempt", n+1,
				"max_attempts", p.attempts,
				"delay", p.delay<<n,
				"error", err)
		}),
	}
	if p.timer != nil {
		opts = append(opts, retry.WithTimer(p.timer))
	}

	err := retry.Do(func() error {
		attempts++
		return fn(attempts)
	}, opts...)
	if err == nil {
		return attempts, nil
	}

	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		return attempts, apiErr
	}
	return attempts, &InvocationError{Attempts: attempts, Err: err}
}
